package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/assign"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			if err := runMigrations(ps); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set; using in-memory ride store")
		store = storage.NewMemoryStore()
	}

	var rc *redis.Client
	var directory geo.Directory
	var book notify.AddressBook
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		directory = geo.NewRedisDirectory(rc, cfg.RedisGeoKey)
		book = notify.NewRedisAddressBook(rc)
	} else {
		logger.Warn("REDIS_ADDR not set; using in-memory geo directory")
		directory = geo.NewIndex()
		book = notify.NewMemoryAddressBook()
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = producer.Close() }()
	}

	var dispatcher *notify.Dispatcher
	if cfg.PushEndpoint != "" {
		dispatcher = notify.NewDispatcher(book, notify.NewHTTPGateway(cfg.PushEndpoint, cfg.PushKey), logger)
	} else {
		logger.Warn("PUSH_ENDPOINT not set; push notifications disabled")
	}

	estimator := &eta.Estimator{
		SpeedMps:        cfg.AverageSpeedMps,
		FallbackMinutes: cfg.ETAFallbackMinutes,
		Cache:           eta.NewCache(cfg.ETACacheTTL),
	}
	if cfg.OSRMEndpoint != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	broadcast := hub.New(logger)

	manager := &lifecycle.Manager{Store: store, Hub: broadcast, Logger: logger}
	matcher := &match.Service{
		Geo:          directory,
		Store:        store,
		Hub:          broadcast,
		Lifecycle:    manager,
		RadiusMeters: cfg.MatchRadiusMeters,
		Logger:       logger,
	}
	coordinator := &assign.Coordinator{
		Store:  store,
		Geo:    directory,
		ETA:    estimator,
		Hub:    broadcast,
		Logger: logger,
	}
	if dispatcher != nil {
		manager.Notifier = dispatcher
		matcher.Notifier = dispatcher
		coordinator.Notifier = dispatcher
	}
	manager.Matcher = matcher

	srv := httpapi.NewServer(httpapi.Deps{
		Lifecycle:   manager,
		Coordinator: coordinator,
		Matcher:     matcher,
		Store:       store,
		Geo:         directory,
		Book:        book,
		Hub:         broadcast,
		Kafka:       producer,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func runMigrations(ps *storage.PostgresStore) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = ps.DB().Exec(string(b))
	return err
}
