package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/config"
	"github.com/noah-isme/campus-portal-api/internal/database"
	"github.com/noah-isme/campus-portal-api/internal/handler"
	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/observability"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/router"
	"github.com/noah-isme/campus-portal-api/internal/service"
	cloud "github.com/noah-isme/campus-portal-api/pkg/cloudinary"
	"github.com/noah-isme/campus-portal-api/pkg/plagiarism"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(rootCtx, observability.TracingConfig{
		ServiceName: cfg.AppName,
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

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, listing cache and notification relay disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, file plagiarism jobs stay queued for the worker sweep")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	var storage service.FileStorage
	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cloudinary disabled, uploads will be rejected")
	} else {
		storage = uploader
	}

	scorer, err := plagiarism.NewScorer(plagiarism.Options{
		Provider:      cfg.PlagiarismProvider,
		Endpoint:      cfg.PlagiarismEndpoint,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("plagiarism scorer disabled")
		scorer = nil
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	facultyRepo := repository.NewFacultyRepository(db)
	jobRepo := repository.NewPlagiarismJobRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), logger)

	notificationService := service.NewNotificationService(notificationRepo, redisClient, natsConn, cfg.ChannelBase, logger)
	notificationService.Start(rootCtx)

	dispatcher := service.NewPlagiarismDispatcher(service.PlagiarismDependencies{
		Submissions: submissionRepo,
		Jobs:        jobRepo,
		Assignments: assignmentRepo,
		Scorer:      scorer,
		Publisher:   service.NewNATSJobPublisher(natsConn, cfg.PlagiarismJobSubject()),
		Notifier:    notificationService,
		Vendor:      cfg.PlagiarismVendor,
		Timeout:     cfg.PlagiarismTimeout,
	}, logger)

	assignmentService := service.NewAuditedAssignmentService(service.NewAssignmentService(service.AssignmentDependencies{
		Assignments: assignmentRepo,
		Faculty:     facultyRepo,
		Students:    studentRepo,
		Submissions: submissionRepo,
		Notifier:    notificationService,
		Cache:       service.NewRedisListingCache(redisClient, cfg.ChannelBase, cfg.ListingCacheTTL, logger),
		Defaults:    service.NewStaticAssignmentProvider(nil),
	}, validate, logger), activityService, logger)
	submissionService := service.NewSubmissionService(assignmentRepo, studentRepo, submissionRepo, dispatcher, validate, logger)
	gradingService := service.NewAuditedGradingService(
		service.NewGradingService(submissionRepo, assignmentRepo, notificationService, validate, logger),
		activityService, logger)
	commentService := service.NewCommentService(commentRepo, assignmentRepo, validate, logger)
	uploadService := service.NewUploadService(storage, cfg.UploadMaxSizeMB, logger)

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler:   handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(submissionService, gradingService, cfg.SubmitRateLimit, logger),
		CommentHandler:      handler.NewCommentHandler(commentService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, cfg.NotificationKeepAlive),
		UploadHandler:       handler.NewUploadHandler(uploadService, logger),
		ActivityHandler:     handler.NewActivityHandler(activityService, logger),
		HealthProbes:        probes,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-rootCtx.Done()
	shutdown(app, shutdownTracing)
}

func shutdown(app *fiber.App, shutdownTracing func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracer shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
