/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the municipal tax engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration (viper)
  2. Build the zap logger
  3. Load the tariff table (YAML file or embedded defaults)
  4. Initialize SQLite store
  5. Create API handler, router and penalty scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config     Optional YAML configuration file
  -port       HTTP server port, overrides server.port
  -db         SQLite database path, overrides database.path
              Use ":memory:" for in-memory database
  -tariffs    Tariff YAML document, overrides tariffs.path
  -log-level  Overrides logging.level

ENVIRONMENT:
  FISCAL_SERVER_PORT, FISCAL_DATABASE_PATH, FISCAL_TARIFFS_PATH,
  FISCAL_LOGGING_LEVEL, FISCAL_SCHEDULER_ENABLED, FISCAL_SCHEDULER_INTERVAL ...

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the penalty scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/fiscal.db"
  ./server -config=./fiscal.yaml -tariffs=./tariffs_sfax.yaml
  FISCAL_LOGGING_FORMAT=console ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - factory/tariff.go: Tariff document loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fiscal-engine/api"
	"github.com/warp/fiscal-engine/factory"
	"github.com/warp/fiscal-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Optional YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	tariffsPath := flag.String("tariffs", "", "Tariff YAML document")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *tariffsPath != "" {
		cfg.Tariffs.Path = *tariffsPath
	}

	logger, err := newLogger(cfg.Logging, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *Config, logger *zap.Logger) error {
	tariffs, err := factory.NewTariffFactory().LoadTariffs(cfg.Tariffs.Path)
	if err != nil {
		return fmt.Errorf("failed to load tariffs: %w", err)
	}
	logger.Info("tariff table loaded",
		zap.String("path", cfg.Tariffs.Path),
		zap.Int("tib_service_bands", len(tariffs.TIB.ServiceRates)),
		zap.Int("tib_exemptions", len(tariffs.TIB.Exemptions)),
		zap.Int("ttnb_exemptions", len(tariffs.TTNB.Exemptions)),
	)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, tariffs, logger)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.CORS.AllowedOrigins})

	scheduler := api.NewPenaltyScheduler(handler)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
