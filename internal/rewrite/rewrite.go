package rewrite

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/streamgate/streamgate/internal/route"
)

// Inbound carries the client-facing facts the templates can reference.
type Inbound struct {
	// Host is the original Host header value as received from the client.
	Host string

	// ClientAddr is the immediate peer IP, without port.
	ClientAddr string

	// Scheme is "http" or "https" as observed on the inbound connection.
	Scheme string

	// Header is the inbound header set. It is never mutated.
	Header http.Header
}

// Hop-by-hop headers. Removed before forwarding, per RFC 7230 these are
// meaningful only for a single connection.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection", // non-standard but still sent by libcurl
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var variablePattern = regexp.MustCompile(`\$[a-z_]+`)

// Rewrite produces the outbound header set for one session: the inbound
// headers minus hop-by-hop entries, with the rule's header assignments
// applied on top in order. Rules with no header assignments get the
// default set. Rewriting is total, there are no error paths.
//
// An assignment that expands to an empty value removes the header instead
// of setting it blank, so `Upgrade: $http_upgrade` on a request without
// upgrade intent leaves no Upgrade header behind.
func Rewrite(in Inbound, rule *route.Rule) http.Header {
	out := make(http.Header, len(in.Header))
	for name, values := range in.Header {
		out[name] = append([]string(nil), values...)
	}

	// Headers named by the inbound Connection header are hop-by-hop too.
	for _, token := range strings.Split(in.Header.Get("Connection"), ",") {
		if token = strings.TrimSpace(token); token != "" {
			out.Del(token)
		}
	}
	for _, name := range hopHeaders {
		out.Del(name)
	}

	rules := rule.Headers
	if len(rules) == 0 {
		rules = defaultRules(rule)
	}

	for _, hr := range rules {
		value := expand(hr.Value, in)
		if value == "" {
			out.Del(hr.Name)
			continue
		}
		out.Set(hr.Name, value)
	}

	return out
}

// defaultRules is the assignment set applied when a rule declares none.
// Duplex-capable rules additionally carry the upgrade token through and
// pin Connection to "upgrade" so nothing downstream renegotiates it.
func defaultRules(rule *route.Rule) []route.HeaderRule {
	rules := []route.HeaderRule{
		{Name: "Host", Value: "$host"},
		{Name: "X-Real-IP", Value: "$remote_addr"},
		{Name: "X-Forwarded-For", Value: "$proxy_add_x_forwarded_for"},
		{Name: "X-Forwarded-Proto", Value: "$scheme"},
	}

	if rule.Duplex() {
		rules = append(rules,
			route.HeaderRule{Name: "Upgrade", Value: "$http_upgrade"},
			route.HeaderRule{Name: "Connection", Value: "upgrade"},
		)
	}

	return rules
}

// expand substitutes $variables in a template value. Unknown variables
// expand to the empty string.
func expand(template string, in Inbound) string {
	return variablePattern.ReplaceAllStringFunc(template, func(name string) string {
		switch name {
		case "$host":
			return in.Host
		case "$remote_addr":
			return in.ClientAddr
		case "$scheme":
			return in.Scheme
		case "$proxy_add_x_forwarded_for":
			if chain := in.Header.Get("X-Forwarded-For"); chain != "" {
				return chain + ", " + in.ClientAddr
			}
			return in.ClientAddr
		case "$http_upgrade":
			return in.Header.Get("Upgrade")
		default:
			return ""
		}
	})
}

// ClientIP extracts the peer IP from a net/http RemoteAddr value.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
