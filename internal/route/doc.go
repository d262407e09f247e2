// Package route implements the static forwarding rule table. Rules are
// evaluated top-down and the first matching prefix wins, mirroring the
// semantics of ordered prefix rules in classic proxy configurations.
package route
