package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"grimm.is/ruledesk/internal/api"
	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/health"
	"grimm.is/ruledesk/internal/i18n"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/metrics"
	"grimm.is/ruledesk/internal/ratelimit"
)

const auditPruneInterval = 24 * time.Hour

// RunServe runs the HTTP control surface until SIGINT or SIGTERM.
func RunServe(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.JSON = cfg.LogJSON
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	hub := events.NewHub()
	st, err := newLocalStack(cfg, hub)
	if err != nil {
		return fmt.Errorf("failed to initialize kernel backend: %w", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	checker := health.NewChecker(nil)
	checker.Register("kernel", health.CheckKernel(st.kernel))

	opts := api.ServerOptions{
		Orchestrator: st.orch,
		Client:       st.client,
		Baseline:     cfg.Baseline(),
		Hub:          hub,
		Health:       checker,
		Limiter:      ratelimit.NewLimiter(cfg.API.MutationsPerMinute, time.Minute, nil),
		Metrics:      metrics.Get(),
		Logger:       logger.WithComponent("api"),
		Config:       api.ServerConfigFrom(cfg.API),
		Language:     i18n.ParseLocale(cfg.API.Language),
	}
	if st.audit != nil {
		opts.Audit = st.audit
		checker.Register("audit", health.CheckAudit(st.audit))
		go pruneAudit(ctx, st.audit, logger)
	}

	srv, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	logger.Info(brand.Name+" starting",
		"version", brand.Version,
		"pid", os.Getpid(),
		"config", cfg.String(),
		"audit", st.audit != nil,
	)

	// Probe once so a missing nft binary shows up at startup, not on the
	// first request. The server starts either way.
	if snap, err := st.client.Fetch(ctx); err != nil {
		logger.Warn("initial ruleset listing failed", "error", err)
	} else if snap.Degraded() {
		logger.Warn("ruleset listing is degraded", "warnings", snap.Warnings)
	}

	return srv.Start(ctx, cfg.Listen)
}

func pruneAudit(ctx context.Context, store *audit.Store, logger *logging.Logger) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		if n, err := store.Prune(); err != nil {
			logger.Warn("audit prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned audit events", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
