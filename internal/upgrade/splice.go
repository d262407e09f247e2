package upgrade

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrIdleTimeout is returned by Splice when the stream was closed because
// no bytes crossed either direction within the idle window.
var ErrIdleTimeout = errors.New("upgrade: idle timeout expired")

// Pipe is an established upgraded session: the hijacked client connection
// and the upstream connection, plus readers that drain any bytes the
// handshake left buffered ahead of the raw connections. A nil reader means
// the connection itself.
type Pipe struct {
	Client         net.Conn
	Upstream       net.Conn
	ClientReader   io.Reader
	UpstreamReader io.Reader
}

// Splice copies bytes client->upstream and upstream->client concurrently
// until either side closes or idle elapses with no traffic on either
// direction. Both connections are always closed before Splice returns, so
// the caller never has a half-open session to clean up.
func Splice(p Pipe, idle time.Duration, log *slog.Logger) error {
	clientSrc := p.ClientReader
	if clientSrc == nil {
		clientSrc = p.Client
	}
	upstreamSrc := p.UpstreamReader
	if upstreamSrc == nil {
		upstreamSrc = p.Upstream
	}

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	var timedOut atomic.Bool
	closeBoth := sync.OnceFunc(func() {
		p.Client.Close()
		p.Upstream.Close()
	})

	done := make(chan struct{})
	defer close(done)

	if idle > 0 {
		go watchdog(idle, &lastActivity, &timedOut, closeBoth, done)
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&activityWriter{w: p.Upstream, last: &lastActivity}, clientSrc)
		closeBoth()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&activityWriter{w: p.Client, last: &lastActivity}, upstreamSrc)
		closeBoth()
		return err
	})

	err := g.Wait()
	closeBoth()

	if timedOut.Load() {
		return ErrIdleTimeout
	}

	// One leg closing makes the other copy fail on the closed connection.
	// That is the normal end of a stream, not an error.
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		log.Debug("stream ended", slog.String("error", err.Error()))
	}

	return nil
}

// watchdog closes both legs once inactivity exceeds idle. It polls rather
// than arming deadlines so that activity on either direction keeps the
// whole session alive.
func watchdog(idle time.Duration, last *atomic.Int64, timedOut *atomic.Bool, closeBoth func(), done <-chan struct{}) {
	interval := idle / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			elapsed := time.Since(time.Unix(0, last.Load()))
			if elapsed >= idle {
				timedOut.Store(true)
				closeBoth()
				return
			}
		}
	}
}

// activityWriter advances the shared activity clock on every successful
// write, covering both directions with one clock.
type activityWriter struct {
	w    io.Writer
	last *atomic.Int64
}

func (a *activityWriter) Write(p []byte) (int, error) {
	n, err := a.w.Write(p)
	if n > 0 {
		a.last.Store(time.Now().UnixNano())
	}
	return n, err
}
