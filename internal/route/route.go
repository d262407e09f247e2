package route

import (
	"strings"
	"time"
)

// HeaderRule is one outbound header assignment. Value may contain
// $variables that are expanded against the inbound request, see the
// rewrite package.
type HeaderRule struct {
	Name  string
	Value string
}

// Rule is one forwarding rule: a path prefix bound to an upstream
// authority with optional path and header overrides.
//
// Rules are built once at startup and never mutated afterwards, so they
// are safe for unsynchronized concurrent reads.
type Rule struct {
	// Prefix is matched against the inbound request path. Must start with "/".
	Prefix string

	// Authority is the upstream host:port this rule forwards to.
	Authority string

	// PathOverride, when set, replaces the inbound path with this literal
	// value on the upstream request. The inbound query string still passes
	// through.
	PathOverride string

	// Headers are applied in order by the rewriter. When empty, the
	// rewriter's default set applies.
	Headers []HeaderRule

	// IdleTimeout bounds inactivity on an established duplex stream.
	// Zero means the rule is not duplex-capable.
	IdleTimeout time.Duration
}

// Duplex reports whether this rule may carry upgraded streams. A rule
// declares itself streaming-capable by having an idle timeout override.
func (r *Rule) Duplex() bool {
	return r.IdleTimeout > 0
}

// Table is an ordered, immutable list of rules.
type Table struct {
	rules []*Rule
}

// NewTable creates a table that evaluates rules in the given order.
func NewTable(rules []*Rule) *Table {
	return &Table{rules: rules}
}

// Match returns the first rule whose prefix is a prefix of path, in
// declaration order. Declaration order always wins: a more specific rule
// declared after a more general one is never reached.
func (t *Table) Match(path string) (*Rule, bool) {
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the rules in declaration order.
func (t *Table) Rules() []*Rule {
	return t.rules
}

// Shadowed returns the rules that can never match because an earlier rule's
// prefix is a prefix of theirs. The table never reorders them, callers are
// expected to warn at startup.
func (t *Table) Shadowed() []*Rule {
	var shadowed []*Rule
	for i, r := range t.rules {
		for _, earlier := range t.rules[:i] {
			if strings.HasPrefix(r.Prefix, earlier.Prefix) {
				shadowed = append(shadowed, r)
				break
			}
		}
	}
	return shadowed
}
