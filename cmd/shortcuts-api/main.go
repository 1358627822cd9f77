package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/config"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shortcuts-api",
		Short: "Text-expansion shortcuts backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newRepairDuplicatesCommand(), newIssueSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("session-cookie", defaults.GetString("session.cookie_name"), "Session cookie name")
	flags.String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	flags.String("cache-backend", defaults.GetString("cache.backend"), "Cache backend (sqlite, memory)")
	flags.Int("cache-max-value-bytes", defaults.GetInt("cache.max_value_bytes"), "Largest value the cache accepts")
	flags.Int("cache-chunk-size", defaults.GetInt("cache.chunk_size"), "Characters per cached chunk")
	flags.Duration("table-cache-ttl", defaults.GetDuration("cache.table_ttl"), "Lifetime of the whole-table cache")
	flags.Duration("snapshot-ttl", defaults.GetDuration("snapshot.ttl"), "Lifetime of a snapshot")
	flags.Duration("snapshot-lock-timeout", defaults.GetDuration("snapshot.lock_timeout"), "Wait for the snapshot lock")
	flags.Int("snapshot-max-page-limit", defaults.GetInt("snapshot.max_page_limit"), "Largest page a client may request")
	flags.Int("snapshot-rate-per-minute", defaults.GetInt("snapshot.rate_per_minute"), "Snapshots a user may begin per minute")
	flags.Duration("mutation-lock-timeout", defaults.GetDuration("mutation.lock_timeout"), "Wait for the write lock")
	flags.String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma-separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.cookie_name", "session-cookie")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "cache.backend", "cache-backend")
	bindFlag(cmd, "cache.max_value_bytes", "cache-max-value-bytes")
	bindFlag(cmd, "cache.chunk_size", "cache-chunk-size")
	bindFlag(cmd, "cache.table_ttl", "table-cache-ttl")
	bindFlag(cmd, "snapshot.ttl", "snapshot-ttl")
	bindFlag(cmd, "snapshot.lock_timeout", "snapshot-lock-timeout")
	bindFlag(cmd, "snapshot.max_page_limit", "snapshot-max-page-limit")
	bindFlag(cmd, "snapshot.rate_per_minute", "snapshot-rate-per-minute")
	bindFlag(cmd, "mutation.lock_timeout", "mutation-lock-timeout")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	dispatcher := server.NewRealtimeDispatcher()
	app, err := newApplication(viper.GetViper(), dispatcher)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ShortcutsService:      app.service,
		SnapshotManager:       app.snapshots,
		PageReader:            app.pages,
		SessionValidator:      app.sessions,
		Realtime:              dispatcher,
		Metrics:               app.metrics,
		Logger:                logger,
		AllowedOrigins:        app.config.AllowedOrigins,
		SnapshotRatePerMinute: app.config.SnapshotRatePerMinute,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", app.config.HTTPAddress),
			zap.String("cache_backend", app.config.CacheBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
