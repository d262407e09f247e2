package upgrade_test

import (
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/streamgate/streamgate/internal/route"
	"github.com/streamgate/streamgate/internal/upgrade"
)

func TestUpgrade(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Upgrade Suite")
}

var _ = Describe("Negotiate", func() {
	var (
		outbound   http.Header
		plainRule  *route.Rule
		streamRule *route.Rule
	)

	BeforeEach(func() {
		outbound = http.Header{}
		plainRule = &route.Rule{Prefix: "/"}
		streamRule = &route.Rule{Prefix: "/_stcore/stream", IdleTimeout: 24 * time.Hour}
	})

	Context("without upgrade intent", func() {
		It("should pick single shot on a plain rule", func() {
			Expect(upgrade.Negotiate(outbound, plainRule)).To(Equal(upgrade.SingleShot))
		})

		It("should pick single shot on a streaming rule", func() {
			Expect(upgrade.Negotiate(outbound, streamRule)).To(Equal(upgrade.SingleShot))
		})

		It("should require a non-empty upgrade token", func() {
			outbound.Set("Connection", "upgrade")

			Expect(upgrade.Negotiate(outbound, streamRule)).To(Equal(upgrade.SingleShot))
		})
	})

	Context("with upgrade intent", func() {
		BeforeEach(func() {
			outbound.Set("Connection", "upgrade")
			outbound.Set("Upgrade", "websocket")
		})

		It("should pick duplex on a streaming rule", func() {
			Expect(upgrade.Negotiate(outbound, streamRule)).To(Equal(upgrade.Duplex))
		})

		It("should refuse duplex on a rule without an idle timeout", func() {
			Expect(upgrade.Negotiate(outbound, plainRule)).To(Equal(upgrade.SingleShot))
		})

		It("should match the connection token case-insensitively", func() {
			outbound.Set("Connection", "Upgrade")

			Expect(upgrade.Negotiate(outbound, streamRule)).To(Equal(upgrade.Duplex))
		})

		It("should find the upgrade token in a multi-token connection header", func() {
			outbound.Set("Connection", "keep-alive, Upgrade")

			Expect(upgrade.Negotiate(outbound, streamRule)).To(Equal(upgrade.Duplex))
		})

		It("should not mistake a longer token for upgrade intent", func() {
			outbound.Set("Connection", "upgrade-insecure-requests")

			Expect(upgrade.Negotiate(outbound, streamRule)).To(Equal(upgrade.SingleShot))
		})

		It("should ignore the path entirely", func() {
			// Same headers, different rule prefixes: only the rule's
			// capability matters.
			other := &route.Rule{Prefix: "/anything", IdleTimeout: time.Minute}

			Expect(upgrade.Negotiate(outbound, other)).To(Equal(upgrade.Duplex))
		})
	})
})

var _ = Describe("Mode", func() {
	It("should print stable names", func() {
		Expect(upgrade.SingleShot.String()).To(Equal("single_shot"))
		Expect(upgrade.Duplex.String()).To(Equal("duplex"))
	})
})
