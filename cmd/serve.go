package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tms-tools/teamcal/internal/instrumentation"
	"github.com/tms-tools/teamcal/internal/notify"
	"github.com/tms-tools/teamcal/internal/server"
	"github.com/tms-tools/teamcal/internal/service"
	"github.com/tms-tools/teamcal/internal/store"
	tasksync "github.com/tms-tools/teamcal/internal/sync"
)

// ServeConfig holds the resolved configuration for the serve command.
type ServeConfig struct {
	// Addr is the listen address of the JSON API server (e.g. ":8080")
	Addr string

	// DBDriver selects the database driver: "postgres" or "sqlite3"
	DBDriver string

	// DBDSN is the driver-specific data source name
	DBDSN string

	// AutoMigrate applies the schema on startup when true
	AutoMigrate bool

	// JWTSecret signs and verifies API bearer tokens. Required.
	JWTSecret string

	// TokenTTL is the lifetime of tokens issued by this process
	TokenTTL time.Duration

	// CalendarID overrides the target Google calendar ("primary" when empty)
	CalendarID string

	// Metrics holds the dedicated metrics server configuration
	Metrics MetricsConfig

	// Debug enables debug-level logging
	Debug bool
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func newServeCmd() *cobra.Command {
	var cfg ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task API server",
		Long: `Start the teamcal HTTP server: the JSON task API, the websocket
notification endpoint, health probes, and a dedicated Prometheus
metrics listener.

Configuration:
  Flags take precedence over environment variables. A .env file in the
  working directory is loaded first, so local development can keep its
  settings there.

  TEAMCAL_ADDR          API listen address        (--addr)
  TEAMCAL_DB_DRIVER     postgres or sqlite3       (--db-driver)
  TEAMCAL_DB_DSN        database DSN              (--db-dsn)
  TEAMCAL_JWT_SECRET    token signing secret      (--jwt-secret, required)
  TEAMCAL_CALENDAR_ID   target Google calendar    (--calendar-id)
  METRICS_ENABLED       metrics server toggle     (--metrics-enabled)
  METRICS_ADDR          metrics listen address    (--metrics-addr)

Google Calendar credentials come from TEAMCAL_GOOGLE_CLIENT_ID,
TEAMCAL_GOOGLE_CLIENT_SECRET and TEAMCAL_GOOGLE_REDIRECT_URL; without
them the server runs with calendar sync unavailable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load a .env file if present; real environment wins.
			_ = godotenv.Load()

			loadServeEnvVars(cmd, &cfg)

			if cfg.JWTSecret == "" {
				return fmt.Errorf("a JWT secret is required: set --jwt-secret or TEAMCAL_JWT_SECRET")
			}

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", ":8080", "API server listen address. Can also use TEAMCAL_ADDR env var.")
	cmd.Flags().StringVar(&cfg.DBDriver, "db-driver", "sqlite3", "Database driver: postgres or sqlite3. Can also use TEAMCAL_DB_DRIVER env var.")
	cmd.Flags().StringVar(&cfg.DBDSN, "db-dsn", "teamcal.db", "Database DSN. Can also use TEAMCAL_DB_DSN env var.")
	cmd.Flags().BoolVar(&cfg.AutoMigrate, "migrate", true, "Apply the database schema on startup.")
	cmd.Flags().StringVar(&cfg.JWTSecret, "jwt-secret", "", "Secret for signing API bearer tokens. Can also use TEAMCAL_JWT_SECRET env var.")
	cmd.Flags().DurationVar(&cfg.TokenTTL, "token-ttl", 24*time.Hour, "Lifetime of tokens issued by this server.")
	cmd.Flags().StringVar(&cfg.CalendarID, "calendar-id", "", "Target Google calendar id. Default is the account's primary calendar. Can also use TEAMCAL_CALENDAR_ID env var.")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")

	// Metrics server flags
	cmd.Flags().BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.Metrics.Addr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadServeEnvVars fills config fields from environment variables.
// Environment variables only apply when the flag was not explicitly set.
func loadServeEnvVars(cmd *cobra.Command, cfg *ServeConfig) {
	if !cmd.Flags().Changed("addr") {
		if addr := os.Getenv("TEAMCAL_ADDR"); addr != "" {
			cfg.Addr = addr
		}
	}
	if !cmd.Flags().Changed("db-driver") {
		if driver := os.Getenv("TEAMCAL_DB_DRIVER"); driver != "" {
			cfg.DBDriver = driver
		}
	}
	if !cmd.Flags().Changed("db-dsn") {
		if dsn := os.Getenv("TEAMCAL_DB_DSN"); dsn != "" {
			cfg.DBDSN = dsn
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("TEAMCAL_JWT_SECRET")
	}
	if !cmd.Flags().Changed("calendar-id") {
		if id := os.Getenv("TEAMCAL_CALENDAR_ID"); id != "" {
			cfg.CalendarID = id
		}
	}
	if !cmd.Flags().Changed("metrics-enabled") {
		if v := os.Getenv("METRICS_ENABLED"); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				cfg.Metrics.Enabled = parsed
			}
		}
	}
	if !cmd.Flags().Changed("metrics-addr") {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			cfg.Metrics.Addr = addr
		}
	}
}

func runServe(cfg ServeConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := store.Migrate(shutdownCtx, db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	st := store.New(db)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
			logger.Info("metrics server started", "addr", metricsServer.Addr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}
	defer func() {
		if metricsServer != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := metricsServer.Shutdown(stopCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}
	}()

	// Server context manages per-account Google Calendar clients
	serverContext := server.NewServerContext(shutdownCtx, nil, logger)
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", "error", err)
		}
	}()

	clients := func(ctx context.Context, userID string) (tasksync.CalendarService, error) {
		client := serverContext.CalendarClientForAccount(userID)
		if client == nil {
			return nil, fmt.Errorf("no calendar credentials for user %s", userID)
		}
		return client, nil
	}

	syncOpts := []tasksync.Option{tasksync.WithMetrics(provider.Metrics())}
	if cfg.CalendarID != "" {
		syncOpts = append(syncOpts, tasksync.WithCalendarID(cfg.CalendarID))
	}
	orchestrator := tasksync.New(logger, st, clients, st, syncOpts...)

	hub := notify.NewHub(logger)
	defer hub.Close()

	svc := service.New(st, orchestrator, hub, logger, service.WithMetrics(provider.Metrics()))
	auth := server.NewAuthenticator([]byte(cfg.JWTSecret), cfg.TokenTTL)
	health := server.NewHealthChecker(serverContext, db)

	api := server.NewAPI(server.APIConfig{
		Service:  svc,
		Settings: st,
		Puller:   orchestrator,
		Hub:      hub,
		Auth:     auth,
		Health:   health,
		Logger:   logger,
		Metrics:  provider.Metrics(),
		Audit:    instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging),
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	health.SetReady(true)
	logger.Info("api server listening", "addr", cfg.Addr, "driver", cfg.DBDriver)

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping api server")
		health.SetReady(false)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := httpServer.Shutdown(stopCtx); err != nil {
			return fmt.Errorf("error shutting down api server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("api server stopped with error: %w", err)
		}
	}

	logger.Info("api server stopped")
	return nil
}
