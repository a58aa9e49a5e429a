package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudgate/cloudgate/internal/catalog"
	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/crypto"
	"github.com/cloudgate/cloudgate/internal/health"
	"github.com/cloudgate/cloudgate/internal/metrics"
	"github.com/cloudgate/cloudgate/internal/provider"
	"github.com/cloudgate/cloudgate/internal/provider/backblaze"
	"github.com/cloudgate/cloudgate/internal/provider/dropbox"
	"github.com/cloudgate/cloudgate/internal/provider/gcs"
	"github.com/cloudgate/cloudgate/internal/provider/gdrive"
	"github.com/cloudgate/cloudgate/internal/provider/mega"
	"github.com/cloudgate/cloudgate/internal/provider/onedrive"
	"github.com/cloudgate/cloudgate/internal/storage"
	"github.com/cloudgate/cloudgate/pkg/api"
	"github.com/cloudgate/cloudgate/pkg/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cloudgate:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Global.LogLevel)
	slog.SetDefault(logger)

	db, err := catalog.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return err
	}
	defer db.Close()
	store := catalog.NewPostgresStore(db)

	enc := crypto.New(cfg.Security.StorageSecret)
	collector := metrics.NewCollector(&metrics.Config{
		Capacity:  cfg.Metrics.Capacity,
		Namespace: cfg.Metrics.Namespace,
	})
	retryer := retry.New(retry.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying upload", "attempt", attempt, "delay", delay, "error", err)
		},
	})

	registry := registerProviders(logger)
	service := storage.NewService(registry, store, enc, collector, retryer, logger)

	aggregator := health.NewAggregator(cfg.Health, store, collector, func(ctx context.Context) []health.Lister {
		var listers []health.Lister
		for _, name := range registry.Names() {
			p, err := registry.Resolve(name)
			if err != nil {
				logger.Warn("provider excluded from health probe", "provider", name, "error", err)
				continue
			}
			listers = append(listers, p)
		}
		return listers
	})

	serverCfg := api.DefaultServerConfig()
	serverCfg.Address = cfg.Global.ListenAddress
	server := api.NewServer(serverCfg, service, registry, collector, aggregator, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// registerProviders wires all six adapter factories. Adapters resolve their
// credentials when resolved, so providers without configured credentials
// fail per-request instead of at startup.
func registerProviders(logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(provider.GoogleCloud, func() (provider.Provider, error) {
		return gcs.New(context.Background(), logger)
	})
	registry.Register(provider.Dropbox, func() (provider.Provider, error) {
		return dropbox.New(context.Background(), logger)
	})
	registry.Register(provider.Mega, func() (provider.Provider, error) {
		return mega.New(context.Background(), logger)
	})
	registry.Register(provider.GoogleDrive, func() (provider.Provider, error) {
		return gdrive.New(context.Background(), logger)
	})
	registry.Register(provider.Backblaze, func() (provider.Provider, error) {
		return backblaze.New(context.Background(), logger)
	})
	registry.Register(provider.OneDrive, func() (provider.Provider, error) {
		return onedrive.New(context.Background(), logger)
	})
	return registry
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
