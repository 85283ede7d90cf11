package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/lake"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlgate"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := database.Open(context.Background(), database.DBConfig{
		Dialect:         cfg.Database.Dialect,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.String("dialect", cfg.Database.Dialect), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	dialect, err := database.LookupDialect(cfg.Database.Dialect)
	if err != nil {
		logger.Error("unsupported dialect", slog.Any("error", err))
		os.Exit(1)
	}
	source := database.NewSource(db, dialect)

	if cfg.Database.Dialect == config.DialectLake {
		objectStore, err := s3store.New(s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		mirror, err := lake.NewMirror(objectStore, cfg.Lake.LocalDir, logger)
		if err != nil {
			logger.Error("failed to initialize lake mirror", slog.Any("error", err))
			os.Exit(1)
		}
		source = source.WithSync(mirror.Sync)
		logger.Info("lake mirror enabled",
			slog.String("bucket", cfg.ObjectStore.Bucket),
			slog.String("local_dir", mirror.LocalDir()),
		)
	}

	cache := schema.NewCache(source, schema.Options{
		TTL:          cfg.Schema.TTL,
		SampleRows:   cfg.Schema.SampleRows,
		NoSamples:    cfg.Schema.SampleRows == 0,
		SingleFlight: cfg.Schema.SingleFlight,
	})

	generator, err := newGenerator(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize text generator", slog.String("provider", cfg.AI.Provider), slog.Any("error", err))
		os.Exit(1)
	}

	questions, err := pipeline.New(pipeline.Dependencies{
		Schema:    cache,
		Generator: generator,
		Gate: sqlgate.New(sqlgate.Options{
			RowLimit:    cfg.Gate.RowLimit,
			ParserCheck: cfg.Gate.ParserCheck,
		}),
		Executor: source,
		Dialect:  cfg.Database.Dialect,
		Logger:   logger,
		LogSQL:   cfg.Observability.LogSQL,
	})
	if err != nil {
		logger.Error("failed to build question pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.PingCheck(source.Ping),
		DependencyTimeout: time.Second,
		Pipeline:          questions,
		Schema:            cache,
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = api.NewRateLimiter(api.RateLimiterConfig{
			RPM:   cfg.RateLimit.RPM,
			Burst: cfg.RateLimit.Burst,
		})
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", cfg.Database.Dialect),
			slog.String("provider", cfg.AI.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newGenerator(ctx context.Context, cfg config.Config) (nl2sql.Generator, error) {
	switch cfg.AI.Provider {
	case config.ProviderOpenAI:
		return nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		return nl2sql.NewGeminiGenerator(ctx, nl2sql.GeminiConfig{
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
			BaseURL:     cfg.AI.BaseURL,
		})
	}
}
