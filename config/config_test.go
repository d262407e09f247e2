package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/streamgate/streamgate/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	BeforeEach(func() {
		// Load works on viper's global instance, reset it between specs.
		viper.Reset()

		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.Chdir(origDir)
		os.RemoveAll(tempDir)
	})

	writeConfig := func(content string) {
		configPath := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(configPath, []byte(content), 0644)).To(Succeed())
		Expect(os.Chdir(tempDir)).To(Succeed())
	}

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				writeConfig(`
server:
  address: ":8080"
  environment: "dev"

admin:
  address: ":9090"

upstream:
  authority: "127.0.0.1:8501"

proxy:
  dial_timeout: "5s"
  response_header_timeout: "15s"

routes:
  - prefix: "/_stcore/stream"
    path_override: "/_stcore/stream"
    idle_timeout: "24h"
  - prefix: "/"

logging:
  level: "info"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse the upstream authority", func() {
				cfg, _ := config.Load()
				Expect(cfg.Upstream.Authority).To(Equal("127.0.0.1:8501"))
			})

			It("should keep routes in declaration order", func() {
				cfg, _ := config.Load()
				Expect(cfg.Routes).To(HaveLen(2))
				Expect(cfg.Routes[0].Prefix).To(Equal("/_stcore/stream"))
				Expect(cfg.Routes[0].IdleTimeout).To(Equal("24h"))
				Expect(cfg.Routes[1].Prefix).To(Equal("/"))
				Expect(cfg.Routes[1].IdleTimeout).To(BeEmpty())
			})

			It("should parse proxy timeouts", func() {
				cfg, _ := config.Load()
				Expect(cfg.Proxy.DialTimeout).To(Equal("5s"))
				Expect(cfg.Proxy.ResponseHeaderTimeout).To(Equal("15s"))
			})
		})

		Context("with a minimal config file", func() {
			BeforeEach(func() {
				writeConfig(`
upstream:
  authority: "127.0.0.1:8501"
`)
			})

			It("should fall back to defaults for the rest", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Admin.Address).To(Equal(":9090"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
				Expect(cfg.Routes).To(HaveLen(1))
				Expect(cfg.Routes[0].Prefix).To(Equal("/"))
			})
		})

		Context("with no config file", func() {
			BeforeEach(func() {
				Expect(os.Chdir(tempDir)).To(Succeed())
			})

			It("should fail validation without an upstream authority", func() {
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			cfg = &config.Config{
				Server:   config.ServerConfig{Address: ":8080", Environment: config.EnvDev},
				Admin:    config.AdminConfig{Address: ":9090"},
				Upstream: config.UpstreamConfig{Authority: "127.0.0.1:8501"},
				Proxy:    config.ProxyConfig{DialTimeout: "5s", ResponseHeaderTimeout: "15s"},
				Routes:   []config.RouteConfig{{Prefix: "/"}},
				Logging:  config.LoggingConfig{Level: config.LogLevelInfo},
			}
		})

		It("should accept a complete configuration", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject an unknown environment", func() {
			cfg.Server.Environment = "testing"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an address without a port", func() {
			cfg.Server.Address = "localhost"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an empty route list", func() {
			cfg.Routes = nil
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a route prefix without a leading slash", func() {
			cfg.Routes = []config.RouteConfig{{Prefix: "app"}}
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a malformed idle timeout", func() {
			cfg.Routes = []config.RouteConfig{{Prefix: "/", IdleTimeout: "never"}}
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a malformed path override", func() {
			cfg.Routes = []config.RouteConfig{{Prefix: "/", PathOverride: "fixed"}}
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a header rule without a name", func() {
			cfg.Routes = []config.RouteConfig{{
				Prefix:  "/",
				Headers: []config.HeaderRuleConfig{{Name: "", Value: "x"}},
			}}
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a bad per-route authority", func() {
			cfg.Routes = []config.RouteConfig{{Prefix: "/", Authority: "nohost"}}
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an unknown log level", func() {
			cfg.Logging.Level = "verbose"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject malformed proxy timeouts", func() {
			cfg.Proxy.DialTimeout = "quick"
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})
})
