package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/rewrite"
	"github.com/streamgate/streamgate/internal/route"
	"github.com/streamgate/streamgate/internal/upgrade"
)

const (
	defaultDialTimeout = 5 * time.Second

	// defaultResponseHeaderTimeout bounds ordinary request/response
	// exchanges and the duplex upgrade handshake. It is a
	// deployment-global default, never per route.
	defaultResponseHeaderTimeout = 15 * time.Second
)

// Options are the deployment-global forwarding knobs.
type Options struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

// Engine is the forwarding orchestrator: it matches the route, rewrites
// headers, negotiates the session mode and relays either a single
// response or a spliced stream. One Engine serves all sessions; the only
// state it shares between them is the immutable route table.
type Engine struct {
	logger           *slog.Logger
	table            *route.Table
	collector        *metrics.Collector
	transport        http.RoundTripper
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
}

// New creates a forwarding engine over the given route table. The
// collector may be nil, in which case no events are emitted.
func New(logger *slog.Logger, table *route.Table, collector *metrics.Collector, opts Options) *Engine {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}

	return &Engine{
		logger:    logger,
		table:     table,
		collector: collector,
		transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
			MaxIdleConnsPerHost:   32,
		},
		dialTimeout:      opts.DialTimeout,
		handshakeTimeout: opts.ResponseHeaderTimeout,
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := rewrite.ClientIP(r.RemoteAddr)

	e.emit(metrics.Event{Type: metrics.EventRequestReceived, Timestamp: start})

	rule, ok := e.table.Match(r.URL.Path)
	if !ok {
		e.logger.Warn("No route for path",
			slog.String("client", clientIP),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		e.emit(metrics.Event{Type: metrics.EventRouteNotFound, Timestamp: time.Now()})
		http.NotFound(w, r)
		return
	}

	in := rewrite.Inbound{
		Host:       r.Host,
		ClientAddr: clientIP,
		Scheme:     schemeOf(r),
		Header:     r.Header,
	}
	outHeader := rewrite.Rewrite(in, rule)
	mode := upgrade.Negotiate(outHeader, rule)

	e.logger.Info("Forwarding request",
		slog.String("client", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("route", rule.Prefix),
		slog.String("upstream", rule.Authority),
		slog.String("mode", mode.String()))

	if mode == upgrade.Duplex {
		e.serveDuplex(w, r, rule, outHeader, start)
		return
	}
	e.serveSingleShot(w, r, rule, outHeader, start)
}

// serveSingleShot relays one ordinary request/response exchange over the
// shared transport.
func (e *Engine) serveSingleShot(w http.ResponseWriter, r *http.Request, rule *route.Rule, outHeader http.Header, start time.Time) {
	// A declined-or-absent upgrade must not leak connection-control
	// headers into a plain forward, the transport manages its own.
	outHeader = outHeader.Clone()
	outHeader.Del("Connection")
	outHeader.Del("Upgrade")

	out := e.outboundRequest(r, rule, outHeader)

	resp, err := e.transport.RoundTrip(out)
	if err != nil {
		e.logger.Warn("Upstream unavailable",
			slog.String("upstream", rule.Authority),
			slog.String("error", err.Error()))
		e.emit(metrics.Event{Type: metrics.EventUpstreamError, Timestamp: time.Now(), Route: rule.Prefix})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		e.completeSession(rule, upgrade.SingleShot, http.StatusBadGateway, start)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		e.logger.Debug("Response relay interrupted", slog.String("error", err.Error()))
	}

	e.completeSession(rule, upgrade.SingleShot, resp.StatusCode, start)
}

// serveDuplex performs the upgrade handshake against the upstream and, on
// a 101, splices the two connections until either side closes or the
// route's idle timeout expires. A non-101 answer falls back to an
// ordinary response relay.
func (e *Engine) serveDuplex(w http.ResponseWriter, r *http.Request, rule *route.Rule, outHeader http.Header, start time.Time) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		e.logger.Error("Response writer does not support hijacking")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		e.completeSession(rule, upgrade.Duplex, http.StatusInternalServerError, start)
		return
	}

	upstreamConn, err := net.DialTimeout("tcp", rule.Authority, e.dialTimeout)
	if err != nil {
		e.logger.Warn("Upstream unavailable",
			slog.String("upstream", rule.Authority),
			slog.String("error", err.Error()))
		e.emit(metrics.Event{Type: metrics.EventUpstreamError, Timestamp: time.Now(), Route: rule.Prefix})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		e.completeSession(rule, upgrade.Duplex, http.StatusBadGateway, start)
		return
	}

	out := e.outboundRequest(r, rule, outHeader.Clone())
	// Upgrade handshakes carry no body, the stream follows the response.
	out.Body = nil
	out.ContentLength = 0

	// The handshake gets the same bound the single-shot transport enforces:
	// an upstream that accepts the dial but never answers must not park the
	// session holding both connections. A client disconnect while we wait
	// tears the upstream leg down too.
	upstreamConn.SetDeadline(time.Now().Add(e.handshakeTimeout))
	stopWatch := context.AfterFunc(r.Context(), func() { upstreamConn.Close() })

	upstreamReader := bufio.NewReader(upstreamConn)

	err = out.Write(upstreamConn)
	var resp *http.Response
	if err == nil {
		resp, err = http.ReadResponse(upstreamReader, out)
	}
	stopWatch()
	if err != nil {
		upstreamConn.Close()
		e.logger.Warn("Upstream handshake failed",
			slog.String("upstream", rule.Authority),
			slog.String("error", err.Error()))
		e.emit(metrics.Event{Type: metrics.EventUpstreamError, Timestamp: time.Now(), Route: rule.Prefix})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		e.completeSession(rule, upgrade.Duplex, http.StatusBadGateway, start)
		return
	}
	upstreamConn.SetDeadline(time.Time{})

	if resp.StatusCode != http.StatusSwitchingProtocols {
		// Upstream declined the upgrade: the client gets that response
		// verbatim and the session ends as an ordinary exchange.
		defer upstreamConn.Close()
		defer resp.Body.Close()

		e.logger.Info("Upgrade declined by upstream",
			slog.String("upstream", rule.Authority),
			slog.Int("status", resp.StatusCode))

		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			e.logger.Debug("Response relay interrupted", slog.String("error", err.Error()))
		}

		e.completeSession(rule, upgrade.SingleShot, resp.StatusCode, start)
		return
	}

	clientConn, clientRW, err := hj.Hijack()
	if err != nil {
		upstreamConn.Close()
		e.logger.Error("Hijack failed", slog.String("error", err.Error()))
		e.completeSession(rule, upgrade.Duplex, http.StatusInternalServerError, start)
		return
	}

	if err := writeRawResponse(clientConn, resp); err != nil {
		clientConn.Close()
		upstreamConn.Close()
		e.logger.Debug("Client went away during upgrade", slog.String("error", err.Error()))
		e.completeSession(rule, upgrade.Duplex, http.StatusSwitchingProtocols, start)
		return
	}

	pipe := upgrade.Pipe{Client: clientConn, Upstream: upstreamConn}
	if n := clientRW.Reader.Buffered(); n > 0 {
		pipe.ClientReader = io.MultiReader(io.LimitReader(clientRW.Reader, int64(n)), clientConn)
	}
	if n := upstreamReader.Buffered(); n > 0 {
		pipe.UpstreamReader = io.MultiReader(io.LimitReader(upstreamReader, int64(n)), upstreamConn)
	}

	e.emit(metrics.Event{Type: metrics.EventDuplexOpened, Timestamp: time.Now(), Route: rule.Prefix})
	e.logger.Info("Duplex stream established",
		slog.String("route", rule.Prefix),
		slog.String("upstream", rule.Authority))

	spliceErr := upgrade.Splice(pipe, rule.IdleTimeout, e.logger)

	reason := "peer_close"
	if errors.Is(spliceErr, upgrade.ErrIdleTimeout) {
		reason = "idle_timeout"
	}
	e.emit(metrics.Event{
		Type:      metrics.EventDuplexClosed,
		Timestamp: time.Now(),
		Route:     rule.Prefix,
		Reason:    reason,
	})
	e.logger.Info("Duplex stream closed",
		slog.String("route", rule.Prefix),
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(start)))

	e.completeSession(rule, upgrade.Duplex, http.StatusSwitchingProtocols, start)
}

// outboundRequest builds the upstream request for one session. The Host
// entry produced by the rewriter becomes the request Host, the remaining
// entries go on the wire as-is.
func (e *Engine) outboundRequest(r *http.Request, rule *route.Rule, header http.Header) *http.Request {
	path := r.URL.Path
	if rule.PathOverride != "" {
		path = rule.PathOverride
	}

	u := &url.URL{
		Scheme:   "http",
		Host:     rule.Authority,
		Path:     path,
		RawQuery: r.URL.RawQuery,
	}

	var body io.ReadCloser = r.Body
	if r.ContentLength == 0 {
		body = nil
	}

	out := (&http.Request{
		Method:        r.Method,
		URL:           u,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: r.ContentLength,
		Host:          rule.Authority,
	}).WithContext(r.Context())

	if host := header.Get("Host"); host != "" {
		out.Host = host
		header.Del("Host")
	}

	return out
}

func (e *Engine) completeSession(rule *route.Rule, mode upgrade.Mode, status int, start time.Time) {
	e.emit(metrics.Event{
		Type:       metrics.EventSessionCompleted,
		Timestamp:  time.Now(),
		Route:      rule.Prefix,
		Mode:       mode.String(),
		Duration:   time.Since(start),
		StatusCode: status,
	})
}

func (e *Engine) emit(event metrics.Event) {
	if e.collector == nil {
		return
	}

	select {
	case e.collector.EventChannel() <- event:
	default:
	}
}

// writeRawResponse writes status line and headers only, leaving the
// connection in the raw state the upgraded protocol expects.
func writeRawResponse(w io.Writer, resp *http.Response) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %s\r\n", resp.Status); err != nil {
		return err
	}
	if err := resp.Header.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
