// Package upgrade decides whether a session runs as an ordinary
// request/response exchange or as a spliced bidirectional stream, and
// implements the splice itself with idle-timeout enforcement.
package upgrade
