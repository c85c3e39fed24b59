package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/activity-radar/internal/catalog"
	"github.com/example/activity-radar/internal/config"
	"github.com/example/activity-radar/internal/events"
	httpapi "github.com/example/activity-radar/internal/http"
	"github.com/example/activity-radar/internal/locate"
	"github.com/example/activity-radar/internal/logging"
	"github.com/example/activity-radar/internal/mapbridge"
	"github.com/example/activity-radar/internal/session"
	"github.com/example/activity-radar/internal/storage"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	kv, health, closeKV, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	pub, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("event publisher close failed", "error", err)
		}
	}()

	ip := locate.NewIPClient(
		locate.WithURL(cfg.IPGeoURL),
		locate.WithTimeout(cfg.IPGeoTimeout),
		locate.WithVersion(version),
		locate.WithLogger(logger),
	)
	sessions := session.NewManager(cat, kv, session.Options{
		ListDebounce:   cfg.ListDebounce,
		MarkerDebounce: cfg.MarkerDebounce,
		Publisher:      pub,
		Logger:         logger,
		Stages: func(b *mapbridge.Bridge) []locate.Stage {
			return []locate.Stage{
				{Strategy: &locate.DeviceStrategy{Browser: b}, Timeout: cfg.LocateStageTimeout},
				{Strategy: &locate.WidgetStrategy{Browser: b}, Timeout: cfg.LocateStageTimeout},
				{Strategy: &locate.IPStrategy{Client: ip}, Timeout: cfg.IPGeoTimeout},
			}
		},
	})
	defer sessions.Close()
	go sessions.RunEvictor(ctx, cfg.SessionEvictInterval, cfg.SessionTTL)

	api := httpapi.NewServer(sessions, logger,
		httpapi.WithHealthCheck(health),
		httpapi.WithLocateTimeout(cfg.LocateBudget()),
		httpapi.WithWidgetPolicy(mapbridge.AwaitPolicy{
			Retries:      cfg.WidgetRetries,
			InitialDelay: cfg.WidgetInitialDelay,
			PollInterval: cfg.WidgetPollInterval,
			PollCeiling:  cfg.WidgetPollCeiling,
		}),
	)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("activity-radar listening", "addr", cfg.HTTPAddr, "items", cat.Len(), "storage", cfg.StorageBackend, "events", cfg.EventsBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadCatalog(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*catalog.Catalog, error) {
	if cfg.CatalogURL != "" {
		return catalog.Fetch(ctx, nil, cfg.CatalogURL, logger)
	}
	return catalog.LoadFile(cfg.CatalogPath, logger)
}

func openStorage(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.KV, func(context.Context) error, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		rkv := storage.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix)
		if err := rkv.Ping(ctx); err != nil {
			_ = rkv.Close()
			return nil, nil, nil, fmt.Errorf("redis: %w", err)
		}
		logger.Info("storage ready", "backend", "redis", "addr", cfg.RedisAddr)
		return rkv, rkv.Ping, func() { _ = rkv.Close() }, nil
	case config.BackendPostgres:
		pkv, err := storage.NewPostgresKV(cfg.PGDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.RunMigrations {
			if err := pkv.Migrate(ctx); err != nil {
				_ = pkv.Close()
				return nil, nil, nil, err
			}
			logger.Info("migration applied", "table", "kv_store")
		}
		logger.Info("storage ready", "backend", "postgres")
		return pkv, pkv.Ping, func() { _ = pkv.Close() }, nil
	default:
		logger.Info("storage ready", "backend", "memory")
		return storage.NewMemoryKV(), nil, func() {}, nil
	}
}

func openPublisher(cfg config.ServerConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsKafka:
		logger.Info("publishing events", "backend", "kafka", "topic", cfg.KafkaTopic)
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.EventsNATS:
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing events", "backend", "nats", "subject", cfg.NATSSubject)
		return p, nil
	default:
		return events.Nop{}, nil
	}
}
