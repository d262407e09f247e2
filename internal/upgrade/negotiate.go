package upgrade

import (
	"net/http"
	"strings"

	"github.com/streamgate/streamgate/internal/route"
)

// Mode is the forwarding mode of one session.
type Mode int

const (
	// SingleShot is an ordinary request/response exchange.
	SingleShot Mode = iota

	// Duplex is a spliced bidirectional stream after a protocol upgrade.
	Duplex
)

func (m Mode) String() string {
	if m == Duplex {
		return "duplex"
	}
	return "single_shot"
}

// Negotiate decides the session mode from the rewritten outbound headers.
// Duplex requires both upgrade intent on the wire (Connection: upgrade with
// a non-empty Upgrade token, as produced by the rewriter) and a rule that
// permits streaming. The path plays no part in the decision.
func Negotiate(outbound http.Header, rule *route.Rule) Mode {
	if !rule.Duplex() {
		return SingleShot
	}

	if !connectionHasUpgrade(outbound) {
		return SingleShot
	}

	if outbound.Get("Upgrade") == "" {
		return SingleShot
	}

	return Duplex
}

// connectionHasUpgrade scans the comma-separated Connection tokens, so
// intent is recognized inside a value like "keep-alive, upgrade" too.
func connectionHasUpgrade(h http.Header) bool {
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
