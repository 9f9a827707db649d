/*
main.go - karmad entry point

PURPOSE:
  Initializes and starts the karma economy daemon. Handles configuration
  loading, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command and flags (cobra)
  2. Load TOML configuration
  3. Initialize structured logging (zap)
  4. Open SQLite store (ledger + records share one database)
  5. Wire provisioner, gate, rewarder, engine, handler
  6. Start HTTP server with graceful shutdown

COMMANDS:
  karmad serve [--config FILE]   Run the daemon
  karmad version                 Print the build version

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for in-flight requests to complete (30s timeout)
  3. Close the database
  4. Exit

SEE ALSO:
  - config/config.go: configuration schema and defaults
  - api/server.go: router configuration
  - karma/engine.go: event processing core
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gitkarma/engine/api"
	"github.com/gitkarma/engine/config"
	"github.com/gitkarma/engine/gh"
	"github.com/gitkarma/engine/karma"
	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/store/sqlite"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "karmad",
	Short: "Karma economy daemon for pull request funding",
	Long: `karmad runs the per-repository karma economy: contributors spend
tokens to open pull requests and earn tokens by reviewing others' work.
It ingests repository events over HTTP, maintains a double-entry token
ledger, and emits comments and check runs describing each outcome.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "karmad", version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	defaults := karma.EconomyDefaults{
		InitialGrant:         cfg.Economy.InitialGrant,
		MergePenalty:         cfg.Economy.MergePenalty,
		ReviewBonus:          cfg.Economy.ReviewBonus,
		CommentBonus:         cfg.Economy.CommentBonus,
		ComplexityBonus:      cfg.Economy.ComplexityBonus,
		ComplexityEnabled:    cfg.Economy.ComplexityBonus > 0,
		ComplexityThreshold:  500,
		TimelyReviewBonus:    cfg.Economy.TimelyBonus,
		TimelyReviewWindow:   cfg.Economy.TimelyWindowDuration(),
		TimelyReviewEnabled:  cfg.Economy.TimelyWindowDuration() > 0,
		AdminOverrideEnabled: true,
		RecheckToken:         cfg.Economy.RecheckToken,
		AdminRecheckToken:    cfg.Economy.AdminToken,
	}

	led := ledger.New(store)
	caps := gh.StaticCapabilities{Admins: cfg.Admins}
	sink := gh.LogSink{Log: log.Named("sink")}

	prov := karma.NewProvisioner(led, store, defaults, log.Named("provisioner"))
	gate := karma.NewGate(led, prov)
	rewards := karma.NewRewarder(led, prov)
	engine := karma.NewEngine(store, prov, gate, rewards, sink, caps, log.Named("engine"))

	handler := api.NewHandler(engine, store, led, caps, log.Named("api"))
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.Store.Path),
			zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
