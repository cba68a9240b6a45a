package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	httpadapter "docmark/internal/adapters/http"
	"docmark/internal/core/orchestrator"
	"docmark/internal/platform/collaborators"
	"docmark/internal/platform/statestore"
	"docmark/internal/platform/workqueue"

	"docmark/config"
	"docmark/health"
	"docmark/pkg/cache"
	"docmark/pkg/errors"
	"docmark/pkg/events"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
	"docmark/pkg/security"
	"docmark/pkg/validator"
	"docmark/worker"
)

func main() {
	cfg := config.Load()

	loggerConfig := &logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		TimeFormat: cfg.Logging.TimeFormat,
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Printf("failed to initialize structured logger: %v, using default\n", err)
	}
	log := logger.Get()
	ctx := logger.WithCorrelationID(context.Background())

	log.FromContext(ctx).Info().Msg("starting docmark server")
	log.FromContext(ctx).Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("configuration loaded")

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		log.FromContext(ctx).Info().Str("port", cfg.Metrics.Port).Msg("metrics initialized")
	}

	validatorConfig := &validator.Config{
		MaxFileSize:        cfg.Validation.MaxFileSize,
		MinFileSize:        cfg.Validation.MinFileSize,
		AllowedMimeTypes:   cfg.Validation.AllowedMimeTypes,
		AllowedExtensions:  cfg.Validation.AllowedExtensions,
		MaxConcurrentReqs:  cfg.Validation.MaxConcurrentReqs,
		RequireContentType: cfg.Validation.RequireContentType,
	}
	validator.Init(validatorConfig)
	log.FromContext(ctx).Info().Msg("input validation initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.FromContext(ctx).Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	resultCache, err := cache.NewCache(&cache.CacheConfig{
		RedisURL:      fmt.Sprintf("redis://%s:%s/%d", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DB),
		DefaultTTL:    cfg.Orchestration.ResultTTL,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		PoolSize:      10,
		EnableMetrics: cfg.Metrics.Enabled,
		Namespace:     cfg.Metrics.Namespace,
	}, *log.Logger, metrics.Get())
	if err != nil {
		log.FromContext(ctx).Fatal().Err(err).Msg("failed to initialize result cache")
	}

	store := statestore.New(redisClient, cfg.Orchestration.StatusTTL, resultCache)
	queue := workqueue.New(redisClient)

	fetcher := collaborators.NewLocalFetcher(cfg.Orchestration.SplitWorkDirectory, cfg.Orchestration.FetchTimeout)
	splitter := collaborators.NewPDFSplitter(cfg.Orchestration.SplitWorkDirectory)
	converter := collaborators.NewDocumentConverter()
	normalizer := collaborators.NewGoldmarkNormalizer()

	orchCfg := orchestrator.Config{
		MinSplitPages:  cfg.Orchestration.MinSplitPages,
		ResultTTL:      cfg.Orchestration.ResultTTL,
		PageResultTTL:  cfg.Orchestration.PageResultTTL,
		MergeDelimiter: cfg.Orchestration.MergeDelimiter,
	}
	orch := orchestrator.New(store, queue, fetcher, splitter, converter, normalizer, orchCfg, log, metrics.Get())

	cfgManager := config.NewManager(cfg.Server.Environment)
	if err := cfgManager.LoadFromEnv(); err != nil {
		log.FromContext(ctx).Warn().Err(err).Msg("config manager failed to load from env")
	}
	cfgManager.SetFeatureFlag("event_bus", true)
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := cfgManager.LoadFromFile(configFile); err != nil {
			log.FromContext(ctx).Warn().Err(err).Msg("failed to load config file")
		} else if err := cfgManager.StartWatching(); err != nil {
			log.FromContext(ctx).Warn().Err(err).Msg("failed to start config file watcher")
		} else {
			log.FromContext(ctx).Info().Str("path", configFile).Msg("watching config file for changes")
			defer cfgManager.StopWatching()
		}
	}

	var eventBus events.EventBus
	if cfgManager.IsFeatureEnabled("event_bus") {
		if eventConfig := events.DefaultEventConfig(); eventConfig != nil {
			eventConfig.RedisURL = fmt.Sprintf("redis://%s:%s/%d", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DB)
			bus, busErr := events.NewRedisEventBus(eventConfig, *log.Logger, metrics.Get())
			if busErr != nil {
				log.FromContext(ctx).Warn().Err(busErr).Msg("event bus unavailable, continuing without dead-letter notifications")
			} else {
				eventBus = bus
				if startErr := bus.Start(ctx); startErr != nil {
					log.FromContext(ctx).Warn().Err(startErr).Msg("event bus failed to start")
				}
				defer bus.Stop()
			}
		}
	}

	manager := worker.NewManager(queue, orch, cfg, log, metrics.Get())
	if eventBus != nil {
		manager.SetEventBus(eventBus)
	}
	manager.Start()
	defer manager.Stop()

	verifier := security.NewVerifier(security.DefaultAuthConfig(cfg.Security.JWTSigningKey))
	handler := httpadapter.NewHandler(orch, fetcher, validator.Get(), validatorConfig)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			appErr := errors.AsAppError(err)
			return c.Status(appErr.HTTPStatus).JSON(errors.NewErrorResponse(appErr))
		},
		BodyLimit: int(cfg.Security.MaxRequestBodySize),
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: !cfg.IsProduction(),
	}))

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
		}
		reqCtx := logger.WithRequestID(c.Context(), requestID)

		err := c.Next()

		duration := time.Since(start)
		log.LogRequest(reqCtx, c.Method(), c.Path(), c.Get("User-Agent"), c.IP(), duration)
		if cfg.Metrics.Enabled {
			statusCode := fmt.Sprintf("%d", c.Response().StatusCode())
			metrics.Get().RecordHTTPRequest(c.Method(), c.Path(), statusCode, duration, int64(len(c.Response().Body())))
		}
		return err
	})

	if cfg.Security.RateLimitEnabled {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Security.RateLimitPerMinute,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return errors.NewRateLimitError("rate limit exceeded")
			},
		}))
	}

	if cfg.Security.CorsEnabled {
		app.Use(cors.New(cors.Config{
			AllowOrigins: func() string {
				if len(cfg.Security.CorsAllowedOrigins) > 0 {
					return cfg.Security.CorsAllowedOrigins[0]
				}
				return "*"
			}(),
			AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		}))
	}

	httpadapter.SetupRoutes(app, handler, verifier)

	if cfg.Health.Enabled {
		healthChecker := health.NewHealthChecker(cfg, store, queue)
		healthChecker.SetResultCache(resultCache)

		app.Get(cfg.Health.Path, func(c *fiber.Ctx) error {
			status := healthChecker.GetHealthStatus()
			httpStatus := fiber.StatusOK
			if status.Status != "healthy" {
				httpStatus = fiber.StatusServiceUnavailable
			}
			return c.Status(httpStatus).JSON(status)
		})

		app.Get(cfg.Health.ReadinessPath, func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "ready"})
		})

		app.Get(cfg.Health.LivenessPath, func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "alive"})
		})
	}

	if cfg.Metrics.Enabled {
		go func() {
			metricsApp := fiber.New()
			metricsApp.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))

			log.FromContext(ctx).Info().Str("port", cfg.Metrics.Port).Msg("metrics server starting")
			if err := metricsApp.Listen(":" + cfg.Metrics.Port); err != nil {
				log.FromContext(ctx).Error().Err(err).Msg("failed to start metrics server")
			}
		}()
	}

	go func() {
		log.FromContext(ctx).Info().Str("port", cfg.Server.Port).Msg("http server starting")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.FromContext(ctx).Fatal().Err(err).Msg("failed to start http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.FromContext(ctx).Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.FromContext(ctx).Error().Err(err).Msg("server shutdown error")
	}

	log.FromContext(ctx).Info().Msg("server stopped")
}
