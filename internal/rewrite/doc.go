// Package rewrite builds the outbound header set for a forwarding session.
// It strips hop-by-hop headers, preserves the externally visible Host,
// appends the client to the forwarding chain, and carries the upgrade
// token through for streaming routes.
package rewrite
