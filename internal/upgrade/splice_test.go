package upgrade_test

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/streamgate/streamgate/internal/upgrade"
)

var _ = Describe("Splice", func() {
	var (
		clientSide, clientConn net.Conn
		upstreamConn, upstream net.Conn
		log                    *slog.Logger
		result                 chan error
	)

	BeforeEach(func() {
		clientSide, clientConn = net.Pipe()
		upstreamConn, upstream = net.Pipe()
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		result = make(chan error, 1)
	})

	AfterEach(func() {
		clientSide.Close()
		clientConn.Close()
		upstreamConn.Close()
		upstream.Close()
	})

	start := func(idle time.Duration) {
		go func() {
			result <- upgrade.Splice(upgrade.Pipe{
				Client:   clientConn,
				Upstream: upstreamConn,
			}, idle, log)
		}()
	}

	It("should relay bytes in both directions", func() {
		start(time.Second)

		_, err := clientSide.Write([]byte("ping"))
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 4)
		_, err = io.ReadFull(upstream, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf)).To(Equal("ping"))

		_, err = upstream.Write([]byte("pong"))
		Expect(err).NotTo(HaveOccurred())

		_, err = io.ReadFull(clientSide, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf)).To(Equal("pong"))

		clientSide.Close()
		Eventually(result).Should(Receive(BeNil()))
	})

	It("should close both legs when the client closes", func() {
		start(time.Second)

		clientSide.Close()

		Eventually(result).Should(Receive(BeNil()))

		_, err := upstream.Read(make([]byte, 1))
		Expect(err).To(HaveOccurred())
	})

	It("should close both legs when the upstream closes", func() {
		start(time.Second)

		upstream.Close()

		Eventually(result).Should(Receive(BeNil()))

		_, err := clientSide.Read(make([]byte, 1))
		Expect(err).To(HaveOccurred())
	})

	It("should expire after the idle timeout with no traffic", func() {
		start(100 * time.Millisecond)

		var err error
		Eventually(result, "2s").Should(Receive(&err))
		Expect(err).To(MatchError(upgrade.ErrIdleTimeout))

		// Both legs must be closed without external intervention.
		_, readErr := clientSide.Read(make([]byte, 1))
		Expect(readErr).To(HaveOccurred())
		_, readErr = upstream.Read(make([]byte, 1))
		Expect(readErr).To(HaveOccurred())
	})

	It("should stay open while traffic keeps flowing", func() {
		start(150 * time.Millisecond)

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			io.Copy(io.Discard, upstream)
		}()

		for i := 0; i < 8; i++ {
			time.Sleep(50 * time.Millisecond)
			_, err := clientSide.Write([]byte("tick"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(Receive())
		}

		// Silence now, the idle window finally expires.
		var err error
		Eventually(result, "2s").Should(Receive(&err))
		Expect(err).To(MatchError(upgrade.ErrIdleTimeout))
		Eventually(drained).Should(BeClosed())
	})

	It("should drain handshake leftovers before the raw connections", func() {
		buffered := io.MultiReader(
			// Bytes the handshake read past the response headers.
			strings.NewReader("early"),
			upstreamConn,
		)

		go func() {
			result <- upgrade.Splice(upgrade.Pipe{
				Client:         clientConn,
				Upstream:       upstreamConn,
				UpstreamReader: buffered,
			}, time.Second, log)
		}()

		buf := make([]byte, 5)
		_, err := io.ReadFull(clientSide, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf)).To(Equal("early"))

		clientSide.Close()
		Eventually(result).Should(Receive(BeNil()))
	})
})

