package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/audit"
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/handler"
	"github.com/boddenberg/txn-risk-engine/internal/infra/cache"
	"github.com/boddenberg/txn-risk-engine/internal/infra/client"
	"github.com/boddenberg/txn-risk-engine/internal/infra/messaging"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/infra/resilience"
	"github.com/boddenberg/txn-risk-engine/internal/infra/store/memory"
	"github.com/boddenberg/txn-risk-engine/internal/infra/store/redisstore"
	"github.com/boddenberg/txn-risk-engine/internal/infra/store/sqlstore"
	"github.com/boddenberg/txn-risk-engine/internal/port"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"go.uber.org/zap"
)

// backend is the storage selected at startup.
type backend interface {
	port.HistoryStore
	port.ProfileStore
	port.AssessmentStore
	port.AlertStore
	audit.Sink
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		logger.Fatal("failed to load rules", zap.String("rules_file", cfg.RulesFile), zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("rules_file", cfg.RulesFile),
		zap.Int("history_window", cfg.HistoryWindowSize),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Bool("database", cfg.DatabaseURL != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("rates_cache_ttl", cfg.RatesCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "txn-risk-engine")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	ctx := context.Background()
	var checks []handler.HealthCheck

	// --- Storage ---
	var store backend
	if cfg.DatabaseURL != "" {
		db, err := sqlstore.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		sqlStore, err := sqlstore.New(db)
		if err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		store = sqlStore
		checks = append(checks, handler.HealthCheck{Name: "database", Ping: sqlStore.Ping})
		logger.Info("using SQL store")
	} else {
		store = memoryBackend{Store: memory.New(), MemorySink: audit.NewMemorySink()}
		logger.Warn("DATABASE_URL not set, history is kept in memory")
	}

	var profiles port.ProfileStore = store
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		ps := redisstore.NewProfileStore(rdb, cfg.ProfileTTL)
		profiles = ps
		checks = append(checks, handler.HealthCheck{Name: "redis", Ping: ps.Ping})
		logger.Info("profiles shared through redis", zap.String("addr", cfg.RedisAddr))
	}

	chain, err := audit.NewChain(ctx, store, time.Now, logger)
	if err != nil {
		logger.Fatal("failed to resume audit chain", zap.Error(err))
	}

	// --- Market rates ---
	static := client.NewStaticProvider(cfg.RatesBaseCurrency, rules.ReferenceRates, time.Now())
	var rates port.RateProvider = static
	if cfg.RatesAPIURL != "" {
		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		rates = client.NewCachedRates(
			client.NewRatesClient(httpClient, cfg.RatesAPIURL, resilience.NewCircuitBreaker("rates-api"), resilienceCfg),
			static,
			cache.New[*domain.RateTable](cfg.RatesCacheTTL),
			metrics,
			logger,
		)
		logger.Info("using market rates API", zap.String("url", cfg.RatesAPIURL))
	}

	// --- Alert delivery ---
	var publisher port.AlertPublisher = messaging.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kp := messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.AlertTopic), logger)
		defer kp.Close()
		publisher = kp
		logger.Info("alerts published to kafka", zap.String("topic", cfg.AlertTopic))
	} else {
		logger.Warn("KAFKA_BROKERS not set, alerts are only logged")
	}

	// --- Services ---
	registry := profile.NewRegistry(profiles, profile.NewBuilder(rules.Geo.LocationHistorySize), logger)
	riskSvc := service.NewRiskService(
		service.Ports{
			History:     store,
			Assessments: store,
			Alerts:      store,
			Publisher:   publisher,
			Rates:       rates,
			Audit:       chain,
		},
		registry,
		rules,
		service.Options{
			WindowSize:     cfg.HistoryWindowSize,
			MaxConcurrency: cfg.MaxConcurrency,
			RatesBase:      cfg.RatesBaseCurrency,
		},
		metrics,
		logger,
	)
	auth := service.NewReviewerAuth(cfg.JWTSecret, cfg.JWTAccessTTL)

	// --- Router ---
	router := handler.NewRouter(riskSvc, auth, checks, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// memoryBackend pairs the in-memory store with an in-memory audit sink.
type memoryBackend struct {
	*memory.Store
	*audit.MemorySink
}
