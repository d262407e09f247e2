// Package proxy implements the forwarding engine. Each inbound request
// becomes one session: match the route, rewrite headers, negotiate the
// mode, then relay either a single response or a spliced duplex stream.
// Sessions are fully isolated, a failure in one never affects another.
package proxy
