package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/config"
	"github.com/noah-isme/campus-portal-api/internal/database"
	"github.com/noah-isme/campus-portal-api/internal/observability"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/pkg/plagiarism"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "plagiarism-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.AppName + " worker",
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		log.Fatalf("failed to initialise tracing: %v", err)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" plagiarism worker")
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, notifications relay over nats")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	scorer, err := plagiarism.NewScorer(plagiarism.Options{
		Provider:      cfg.PlagiarismProvider,
		Endpoint:      cfg.PlagiarismEndpoint,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to configure plagiarism scorer: %v", err)
	}
	if scorer == nil {
		logger.Warn().Msg("plagiarism provider is none, queued jobs will be marked failed")
	}

	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), redisClient, natsConn, cfg.ChannelBase, logger)

	worker := service.NewPlagiarismWorker(service.PlagiarismDependencies{
		Submissions: repository.NewSubmissionRepository(db),
		Jobs:        repository.NewPlagiarismJobRepository(db),
		Assignments: repository.NewAssignmentRepository(db),
		Scorer:      scorer,
		Notifier:    notifications,
		Fetcher:     service.NewHTTPFileFetcher(nil, int64(cfg.UploadMaxSizeMB)<<20),
		Vendor:      cfg.PlagiarismVendor,
		Timeout:     cfg.PlagiarismTimeout,
	}, logger)

	sweep(ctx, worker, logger)

	subject := cfg.PlagiarismJobSubject()
	subscription, err := worker.Subscribe(ctx, natsConn, subject)
	if err != nil {
		log.Fatalf("failed to subscribe to %s: %v", subject, err)
	}
	logger.Info().Str("subject", subject).Msg("plagiarism worker listening")

	metrics := fiber.New(fiber.Config{DisableStartupMessage: true})
	metrics.Get("/metrics", observability.MetricsHandler())
	go func() {
		if err := metrics.Listen(fmt.Sprintf(":%s", cfg.WorkerMetricsPort)); err != nil {
			logger.Error().Err(err).Msg("metrics listener stopped")
		}
	}()

	ticker := time.NewTicker(cfg.PlagiarismSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep(ctx, worker, logger)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := subscription.Drain(); err != nil {
				logger.Warn().Err(err).Msg("failed to drain job subscription")
			}
			if err := metrics.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics shutdown failed")
			}
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("tracer shutdown failed")
			}
			cancel()
			logger.Info().Msg("plagiarism worker stopped")
			return
		}
	}
}

func sweep(ctx context.Context, worker service.PlagiarismWorker, logger zerolog.Logger) {
	processed, err := worker.Sweep(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("pending job sweep failed")
		return
	}
	if processed > 0 {
		logger.Info().Int("processed", processed).Msg("pending plagiarism jobs processed")
	}
}
