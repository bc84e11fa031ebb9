package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberguard/cyberguard/internal/api"
	apihandlers "github.com/cyberguard/cyberguard/internal/api/handlers"
	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/config"
	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/metrics"
	"github.com/cyberguard/cyberguard/internal/reporter"
	"github.com/cyberguard/cyberguard/internal/scan"
	"github.com/cyberguard/cyberguard/internal/store"
	"github.com/cyberguard/cyberguard/internal/store/postgres"
)

const (
	systemMetricsInterval = 15 * time.Second
	storeConnectTimeout   = 30 * time.Second
)

// serveCmd runs the API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API server",
	Long: `Run the CyberGuard dashboard API server.

The server exposes:
  - session login and logout
  - dashboard summary, devices, open ports, CVEs and users
  - simulated scans with a websocket progress stream
  - Prometheus metrics and health endpoints`,
	Example: `  cyberguard serve
  cyberguard serve --host 0.0.0.0 --port 8080
  CYBERGUARD_SESSION_SECRET=... cyberguard serve --storage postgres`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host address to bind (empty = use config value)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (0 = use config value)")
	serveCmd.Flags().String("storage", "", "Storage driver: memory or postgres (empty = use config value)")

	bindFlags(serveCmd.Flags(), map[string]string{
		"server.host":    "host",
		"server.port":    "port",
		"storage.driver": "storage",
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger.Logger)
}

// openStore connects the configured storage driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		logger.Info("Connecting to database", "host", cfg.Storage.Database.Host, "database", cfg.Storage.Database.Database)
		connectCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		st, err := postgres.Connect(connectCtx, cfg.Storage.Database, logger.With("component", "store"))
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		logger.Info("Database connection established")
		return st, nil
	default:
		logger.Info("Using in-memory store")
		return store.NewMemory(), nil
	}
}

// serve builds every component from cfg and runs them until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var pm *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		pm = metrics.NewPrometheusMetrics()
		st = metrics.InstrumentStore(st, pm)
	}

	sessions, err := auth.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return err
	}
	gate := auth.NewGate(st, sessions, auth.WithLogger(logger.With("component", "auth")))

	if cfg.Storage.Seed {
		report, err := store.Seed(ctx, st, gate, store.Fixtures(time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
		logger.Info("Fixtures loaded", "inserted", report.Inserted, "skipped", report.Skipped)
	}

	var observers []scan.Observer
	if pm != nil {
		observers = append(observers, pm)
	}
	manager, err := scan.NewManager(st, cfg.Scan, logger.With("component", "scan"), observers...)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	dash := dashboard.NewService(st)

	srv, err := api.New(cfg, api.Dependencies{
		Store:     st,
		Gate:      gate,
		Dashboard: dash,
		Scans:     manager,
		Metrics:   pm,
		Build:     apihandlers.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime},
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return manager.Run(gctx) })

	if cfg.Reporter.Enabled {
		rep := reporter.New(logger.With("component", "reporter"))
		var gauges reporter.Gauges
		if pm != nil {
			gauges = pm
		}
		if err := rep.Register(cfg.Reporter.Schedule, dash, sessions, gauges); err != nil {
			return err
		}
		g.Go(func() error { return rep.Run(gctx) })
	}
	if pm != nil {
		g.Go(func() error { return pm.StartPeriodicUpdates(gctx, systemMetricsInterval) })
	}

	logger.Info("CyberGuard started", "address", srv.GetAddress(), "storage", cfg.Storage.Driver, "version", version)
	err = g.Wait()
	logger.Info("CyberGuard stopped")
	return err
}
