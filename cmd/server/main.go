package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/bdgd-pro/vinculo/config"
	customerrepo "github.com/bdgd-pro/vinculo/internal/repositories/customer"
	matchsetrepo "github.com/bdgd-pro/vinculo/internal/repositories/matchset"
	registryrepo "github.com/bdgd-pro/vinculo/internal/repositories/registry"
	"github.com/bdgd-pro/vinculo/pkg/database"
	"github.com/bdgd-pro/vinculo/pkg/events"
	"github.com/bdgd-pro/vinculo/pkg/geocode"
	"github.com/bdgd-pro/vinculo/pkg/kafka"
	"github.com/bdgd-pro/vinculo/pkg/matching"
	"github.com/bdgd-pro/vinculo/pkg/middleware"
	"github.com/bdgd-pro/vinculo/pkg/redis"
	"github.com/bdgd-pro/vinculo/pkg/refine"
	geocodingroutes "github.com/bdgd-pro/vinculo/pkg/routes/geocoding"
	healthroutes "github.com/bdgd-pro/vinculo/pkg/routes/health"
	matchingroutes "github.com/bdgd-pro/vinculo/pkg/routes/matching"
	"github.com/bdgd-pro/vinculo/pkg/stats"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		zapLogger.Info("log", zap.Any("entry", msg))
	})

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)
	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer sqlxDB.Close()

	db := database.NewDatabaseInstance(sqlxDB, logger)
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	if err := runMigrations(cfg, logger, sqlxDB); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var matchEvents matching.EventSink
	var refineEvents refine.EventSink
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaMatchTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()

		emitter := events.NewEmitter(producer, logger)
		matchEvents = emitter
		refineEvents = emitter
	}

	customers := customerrepo.NewRepository(db, logger)
	registries := registryrepo.NewRepository(db, logger)
	matchSets := matchsetrepo.NewRepository(db, logger)

	scorer := matching.NewScorer(matching.ScorerConfig{
		CEPPrefixMinDigits: cfg.CEPPrefixMinDigits,
		AddressMinJaccard:  cfg.AddressMinJaccard,
	})
	rankerConfig := matching.DefaultRankerConfig()
	rankerConfig.Floor = cfg.MatchMinScore
	ranker := matching.NewRanker(rankerConfig)

	locker := redis.NewLocker(redisClient, "")

	engineConfig := matching.DefaultEngineConfig()
	engineConfig.MaxCandidates = cfg.MatchMaxCandidates
	engineConfig.StoredMatches = cfg.MatchStoredMatches
	engineConfig.WorkerCount = cfg.MatchWorkerCount
	engineConfig.LockTTL = time.Duration(cfg.RefineLockTTLSeconds) * time.Second
	engine := matching.NewEngine(logger, registries, customers, matchSets, locker, matchEvents, scorer, ranker, engineConfig)
	resolver := matching.NewResolver(logger, customers, matchSets, ranker)

	geocodeClient := geocode.NewClient(geocode.ClientConfig{
		BaseURL:     cfg.GeocodeBaseURL,
		UserAgent:   cfg.GeocodeUserAgent,
		Timeout:     time.Duration(cfg.GeocodeTimeoutSeconds) * time.Second,
		MinInterval: time.Duration(cfg.GeocodeMinIntervalMS) * time.Millisecond,
	}, logger)
	geocodeCache := geocode.NewCache(redisClient, logger, geocode.CacheConfig{
		TTL:       time.Duration(cfg.GeocodeCacheTTLHours) * time.Hour,
		Precision: cfg.GeocodeCoordPrecision,
	})
	geocoder := geocode.NewService(geocodeClient, geocodeCache, logger)

	refiner := refine.NewOrchestrator(logger, customers, matchSets, engine, geocoder, locker, refineEvents, refine.Config{
		BatchLimit: cfg.RefineBatchLimit,
		LockTTL:    time.Duration(cfg.RefineLockTTLSeconds) * time.Second,
	})

	aggregator := stats.NewAggregator(logger, customers, matchSets, geocoder, redisClient, stats.Config{
		CacheTTL: time.Duration(cfg.StatsCacheTTLSeconds) * time.Second,
	})

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	checker := healthroutes.NewChecker(db, redisClient, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	matchingHandler := matchingroutes.NewHandler(
		logger, engine, resolver, refiner, aggregator,
		customers, matchSets, matchSets, ranker, cfg.MatchBatchLimit,
	)
	matchingHandler.Register(api.Group("/matching"))
	geocodingroutes.NewHandler(logger, aggregator).Register(api.Group("/geocoding"))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	checker.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	checker.SetReady(false)
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.PrettyLogs {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runMigrations(cfg *config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(cfg.DatabaseName, driver)
}
