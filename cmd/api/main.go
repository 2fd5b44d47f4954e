package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/codegen-engine/internal/config"
	"github.com/kursadbilgin/codegen-engine/internal/generator"
	"github.com/kursadbilgin/codegen-engine/internal/handler"
	"github.com/kursadbilgin/codegen-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/codegen-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/codegen-engine/internal/infra/redis"
	"github.com/kursadbilgin/codegen-engine/internal/observability"
	"github.com/kursadbilgin/codegen-engine/internal/queue"
	"github.com/kursadbilgin/codegen-engine/internal/registry"
	"github.com/kursadbilgin/codegen-engine/internal/repository"
	"github.com/kursadbilgin/codegen-engine/internal/service"
	"github.com/kursadbilgin/codegen-engine/internal/stream"
	"github.com/kursadbilgin/codegen-engine/internal/task"
	"github.com/kursadbilgin/codegen-engine/internal/transport"
	"github.com/kursadbilgin/codegen-engine/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger("codegen-engine", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("codegen-engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("codegen-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SubmitRatePerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	results, err := infraredis.NewResultStore(rdb, cfg.ResultTTL())
	if err != nil {
		return fmt.Errorf("result store initialization failed: %w", err)
	}

	checks := map[string]handler.Check{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
	}

	var sinks []service.Sink
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		mq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close() //nolint:errcheck

		sink, err := service.NewEventPublisherSink(queue.NewRabbitMQPublisher(mq))
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		checks["rabbitmq"] = mq.Ping
	}
	if strings.TrimSpace(cfg.CompletionWebhookURL) != "" {
		notifier, err := webhook.NewNotifier(cfg.CompletionWebhookURL)
		if err != nil {
			return fmt.Errorf("webhook notifier initialization failed: %w", err)
		}
		sink, err := service.NewWebhookSink(notifier)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	metrics := observability.NewMetrics()
	reg := registry.New(cfg.TaskRetention(), cfg.TaskRetentionMax, logger)

	generations, err := service.NewGenerationService(service.GenerationServiceDeps{
		Registry:    reg,
		Generations: repository.NewGormGenerationRepo(db),
		Results:     results,
		Limiter:     limiter,
		Sinks:       sinks,
		Metrics:     metrics,
		Logger:      logger,
		BatchSize:   cfg.BatchSize,
		BatchPause:  cfg.BatchPause(),
		NewSampler: func() (task.Sampler, error) {
			return generator.NewSampler()
		},
	})
	if err != nil {
		return fmt.Errorf("generation service initialization failed: %w", err)
	}
	defer generations.Close()

	previews, err := service.NewPreviewGate(generations, cfg.PreviewTTL(), metrics, logger)
	if err != nil {
		return fmt.Errorf("preview gate initialization failed: %w", err)
	}
	sweeper, err := service.NewSweeper(reg, previews, cfg.SweepInterval(), cfg.PendingTaskTTL(), metrics, logger)
	if err != nil {
		return fmt.Errorf("sweeper initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "codegen-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, checks)
	if err := handler.RegisterGenerationRoutes(app, generations); err != nil {
		return err
	}
	if err := handler.RegisterPreviewRoutes(app, previews); err != nil {
		return err
	}
	handler.RegisterCompositionRoutes(app)

	streams, err := stream.NewServer(generations, stream.Config{}, metrics, logger)
	if err != nil {
		return fmt.Errorf("stream server initialization failed: %w", err)
	}
	streamServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.StreamPort),
		Handler:           streams.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("codegen-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("codegen-engine stream gateway started", zap.Int("port", cfg.StreamPort))
		if err := streamServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("stream server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if err := streamServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stream shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
