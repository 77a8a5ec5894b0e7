package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatbot/internal/api"
	"chatbot/internal/chat"
	"chatbot/internal/config"
	"chatbot/internal/host"
	"chatbot/internal/loader"
	"chatbot/internal/webapp"
	"chatbot/pkg/plugin"

	"github.com/heptiolabs/healthcheck"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the chat server and run plugin instances",
	Long: `Run reads the host configuration from the environment (and .env), creates
the instances listed in the instances file, connects to the chat server and
starts every enabled instance.

SIGHUP reloads every instance's configuration; SIGINT and SIGTERM stop all
instances and exit.`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

func runBot(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	plugin.Global().LogTypes(logger.Named("plugin-registry"))

	cfg, err := config.LoadHost(logger)
	if err != nil {
		return err
	}

	logger.Info("Starting chatbot",
		zap.String("version", host.Version),
		zap.String("chat_url", cfg.ChatURL),
		zap.String("public_url", cfg.PublicURL),
		zap.Int("workers", cfg.Workers))

	// Lifecycle hooks run on the host pool. The chat client keeps its own
	// workers so a busy lifecycle pool never stalls event delivery.
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	client := chat.NewClient(cfg.ChatURL, cfg.ChatToken, logger.Named("chat"), cfg.Workers)

	loaders, err := loader.Discover(cfg.PluginDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("No plugin directory, using bundled plugin files", zap.String("dir", cfg.PluginDir))
	case err != nil:
		logger.Warn("Some plugin directories could not be loaded", zap.Error(err))
	}

	mounts := webapp.NewTable(logger)
	watcher := config.NewWatcher(cfg.WatchInterval, logger.Named("config"))

	h := host.New(host.Options{
		Bus:       client,
		Logger:    logger,
		Loaders:   loaders,
		Mounts:    mounts,
		Watcher:   watcher,
		ConfigDir: cfg.ConfigDir,
		PublicURL: cfg.PublicURL,
		OpenDB:    databaseOpener(cfg),
		Pool:      pool,
		Metrics:   host.NewMetrics(prometheus.DefaultRegisterer),
	})

	entries, err := host.LoadEntries(cfg.InstancesFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("No instances file, running without instances", zap.String("path", cfg.InstancesFile))
	case err != nil:
		return err
	}
	if err := h.LoadAll(entries); err != nil {
		logger.Warn("Some instances could not be created", zap.Error(err))
	}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("chat", func() error {
		if !client.IsConnected() {
			return errors.New("chat client is not connected")
		}
		return nil
	})

	server := api.NewServer(h, mounts, health, prometheus.DefaultGatherer, cfg.AdminToken, logger.Named("api"), cfg.HTTPPort)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := client.Connect(); err != nil {
		server.Stop()
		return fmt.Errorf("failed to connect to chat server: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h.StartAll(ctx); err != nil {
		logger.Error("Some instances failed to start", zap.Error(err))
	}
	watcher.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	logger.Info("Chatbot running. Press Ctrl+C to exit.")
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("Reloading instance configs")
		if err := h.ReloadAllConfigs(); err != nil {
			logger.Warn("Some configs were rejected", zap.Error(err))
		}
	}

	logger.Info("Shutting down gracefully...")
	watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := h.Close(shutdownCtx); err != nil {
		logger.Error("Error stopping instances", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		logger.Error("Error disconnecting chat client", zap.Error(err))
	}
	if err := server.Stop(); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	return nil
}

// databaseOpener returns the instance database opener, or nil when no
// driver is configured. "{id}" in the DSN is replaced by the instance ID.
func databaseOpener(cfg *config.Host) func(id string) (*sql.DB, error) {
	if cfg.DatabaseDriver == "" {
		return nil
	}
	return func(id string) (*sql.DB, error) {
		dsn := strings.ReplaceAll(cfg.DatabaseDSN, "{id}", id)
		db, err := sql.Open(cfg.DatabaseDriver, dsn)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}
