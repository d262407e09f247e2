package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamgate/streamgate/config"
	"github.com/streamgate/streamgate/internal/httpserver"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/proxy"
	"github.com/streamgate/streamgate/internal/route"
	"github.com/streamgate/streamgate/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	table, err := buildRouteTable(cfg, log)
	if err != nil {
		log.Error("Failed to build route table", slog.Any("err", err))
		os.Exit(1)
	}

	opts, err := forwardingOptions(cfg)
	if err != nil {
		log.Error("Failed to parse proxy timeouts", slog.Any("err", err))
		os.Exit(1)
	}

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	engine := proxy.New(log, table, collector, opts)

	proxySrv, err := httpserver.New(cfg.Server.Address, engine)
	if err != nil {
		log.Error("Failed to create proxy server", slog.Any("err", err))
		os.Exit(1)
	}

	adminSrv, err := httpserver.New(cfg.Admin.Address, setupAdminRouter(collector))
	if err != nil {
		log.Error("Failed to create admin server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 2)

	go func() {
		srvErrCh <- proxySrv.Start()
	}()
	go func() {
		srvErrCh <- adminSrv.Start()
	}()

	log.Info("Proxy listening",
		slog.String("address", cfg.Server.Address),
		slog.String("admin", cfg.Admin.Address),
		slog.String("upstream", cfg.Upstream.Authority),
		slog.Int("routes", len(cfg.Routes)))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := proxySrv.Shutdown(context.Background()); err != nil {
			log.Error("Error during proxy shutdown", slog.Any("err", err))
		}
		if err := adminSrv.Shutdown(context.Background()); err != nil {
			log.Error("Error during admin shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Server error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// buildRouteTable turns the configured route list into the immutable rule
// table, inheriting the deployment upstream for rules without their own
// authority. Order is preserved exactly as declared.
func buildRouteTable(cfg *config.Config, log *slog.Logger) (*route.Table, error) {
	rules := make([]*route.Rule, 0, len(cfg.Routes))

	for _, rc := range cfg.Routes {
		rule := &route.Rule{
			Prefix:       rc.Prefix,
			Authority:    cfg.Upstream.Authority,
			PathOverride: rc.PathOverride,
		}

		if rc.Authority != "" {
			rule.Authority = rc.Authority
		}

		if rc.IdleTimeout != "" {
			idle, err := time.ParseDuration(rc.IdleTimeout)
			if err != nil {
				return nil, err
			}
			rule.IdleTimeout = idle
		}

		for _, h := range rc.Headers {
			rule.Headers = append(rule.Headers, route.HeaderRule{Name: h.Name, Value: h.Value})
		}

		rules = append(rules, rule)
	}

	table := route.NewTable(rules)

	for _, shadowed := range table.Shadowed() {
		log.Warn("Route is shadowed by an earlier prefix and will never match",
			slog.String("prefix", shadowed.Prefix))
	}

	return table, nil
}

func forwardingOptions(cfg *config.Config) (proxy.Options, error) {
	dial, err := time.ParseDuration(cfg.Proxy.DialTimeout)
	if err != nil {
		return proxy.Options{}, err
	}

	responseHeader, err := time.ParseDuration(cfg.Proxy.ResponseHeaderTimeout)
	if err != nil {
		return proxy.Options{}, err
	}

	return proxy.Options{
		DialTimeout:           dial,
		ResponseHeaderTimeout: responseHeader,
	}, nil
}
