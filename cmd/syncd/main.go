package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binsync/internal/api"
	"binsync/internal/cache"
	"binsync/internal/config"
	"binsync/internal/connectivity"
	"binsync/internal/events"
	"binsync/internal/logging"
	"binsync/internal/metrics"
	"binsync/internal/offline"
	"binsync/internal/queue"
	"binsync/internal/remote"
	"binsync/internal/storage"
	"binsync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

type engine struct {
	monitor *connectivity.Monitor
	queue   *queue.Queue
	cache   *cache.Store
	store   storage.Store
	syncer  *syncer.Coordinator
	offline *offline.Service
	remote  *remote.Client
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := base.With().Str("component", "syncd-main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	kv, cleanup, err := initStorage(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := buildEngine(ctx, cfg, kv, &base)
	defer eng.syncer.Close()

	go eng.monitor.Run(ctx, cfg.Connectivity.PollInterval)
	if cfg.Sync.AutoSync {
		go eng.syncer.Run(ctx, cfg.Sync.Interval)
	}

	// накопленное за время простоя отправляем сразу, если сеть уже есть
	if eng.monitor.IsOnline() {
		if _, err := eng.syncer.Drain(ctx); err != nil {
			logger.Warn().Err(err).Msg("startup drain failed")
		}
	}

	if !cfg.API.Enabled {
		logger.Info().Msg("API disabled, running sync loops only")
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")
		return nil
	}

	return startServers(ctx, cfg, eng, &base)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, *baseLogger, closer, nil
}

func initStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage.Store, func(), error) {
	var (
		primary storage.Store
		cleanup = func() {}
	)

	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.Storage.Path).Msg("init sqlite store")
			return nil, nil, err
		}
		primary = s
		cleanup = func() { _ = s.Close() }
		go storage.NewBackupService(s, cfg.Storage.Backup, logger).Start(ctx)
	case "redis":
		client := storage.NewRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			if !cfg.Storage.FailoverToMemory {
				_ = client.Close()
				return nil, nil, fmt.Errorf("redis ping: %w", err)
			}
			logger.Warn().Err(err).Msg("redis unavailable, starting on memory fallback")
		} else {
			logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}
		primary = storage.NewRedisStore(client, cfg.Redis.KeyPrefix)
		cleanup = func() { _ = client.Close() }
	default:
		logger.Warn().Msg("memory storage: pending operations will not survive a restart")
		return storage.NewMemoryStore(), cleanup, nil
	}

	if cfg.Storage.FailoverToMemory {
		logger.Info().Dur("recovery_interval", cfg.Storage.RecoveryInterval).
			Msg("memory failover enabled: writes during a primary outage are kept in memory only")
		return storage.NewFailoverStore(primary, storage.NewMemoryStore(), cfg.Storage.RecoveryInterval, logger), cleanup, nil
	}
	return primary, cleanup, nil
}

func buildEngine(ctx context.Context, cfg *config.Config, kv storage.Store, logger *zerolog.Logger) *engine {
	bus := events.NewEventBus()
	subscribeUINotifications(bus, logger)

	client := remote.NewClient(cfg.Remote)
	prober := connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL, cfg.Remote.APIKey, cfg.Connectivity.ProbeTimeout)
	monitor := connectivity.NewMonitor(ctx, prober, logger, bus)

	opts := make([]cache.Option, 0, len(cfg.Cache.Resources))
	for name, ttl := range cfg.Cache.TTLs() {
		opts = append(opts, cache.WithTTL(name, ttl))
	}
	c := cache.New(kv, cfg.Cache.DefaultTTL, logger, opts...)

	q := queue.New(kv, logger)

	coord := syncer.New(q, kv, monitor, cfg.Sync.DeliveryTimeout, logger, bus)
	for _, d := range client.Deliveries() {
		coord.Register(d.Kind, d.Fn)
	}
	monitor.Subscribe(coord.OnConnectivityChange)

	return &engine{
		monitor: monitor,
		queue:   q,
		cache:   c,
		store:   kv,
		syncer:  coord,
		offline: offline.NewService(monitor, c, q, logger, bus),
		remote:  client,
	}
}

// subscribeUINotifications logs the events a UI would surface to the user.
func subscribeUINotifications(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventConnectivityChanged, func(e *events.Event) error {
		var p events.ConnectivityPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		// только реальные переходы
		if p.Online == p.WasOffline {
			logger.Info().Bool("online", p.Online).Msg("connectivity notification")
		}
		return nil
	})
	bus.Subscribe(events.EventOperationQueued, func(e *events.Event) error {
		var p events.QueuedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		logger.Info().Str("receipt", p.ID).Str("kind", p.Kind).Msg("operation saved offline")
		return nil
	})
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(ctx context.Context, cfg *config.Config, eng *engine, logger *zerolog.Logger) error {
	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Monitor:   eng.monitor,
		Syncer:    eng.syncer,
		Queue:     eng.queue,
		Offline:   eng.offline,
		Cache:     eng.cache,
		Storage:   eng.store,
		Remote:    eng.remote,
		Resources: cfg.Cache.Resources,
		Retry:     cfg.Retry,
	}, logger)

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		srv, err := api.NewGRPCServer(&cfg.API, eng.monitor, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer = srv
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("syncd started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("syncd stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
