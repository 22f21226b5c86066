package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/campaign-dispatcher/internal/config"
	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"github.com/kursadbilgin/campaign-dispatcher/internal/handler"
	"github.com/kursadbilgin/campaign-dispatcher/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-dispatcher/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/campaign-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/campaign-dispatcher/internal/observability"
	"github.com/kursadbilgin/campaign-dispatcher/internal/phone"
	"github.com/kursadbilgin/campaign-dispatcher/internal/provider"
	"github.com/kursadbilgin/campaign-dispatcher/internal/queue"
	"github.com/kursadbilgin/campaign-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/campaign-dispatcher/internal/render"
	"github.com/kursadbilgin/campaign-dispatcher/internal/repository"
	"github.com/kursadbilgin/campaign-dispatcher/internal/service"
	"github.com/kursadbilgin/campaign-dispatcher/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	store, err := newCredentialStore(cfg, rdb)
	if err != nil {
		logger.Fatal("credential store initialization failed", zap.Error(err))
	}

	engines, handles, err := newEngines(cfg, store, rdb, metrics, logger)
	if err != nil {
		logger.Fatal("dispatch engine initialization failed", zap.Error(err))
	}

	progress, err := infraredis.NewProgressStore(rdb, 0, logger)
	if err != nil {
		logger.Fatal("progress store initialization failed", zap.Error(err))
	}

	checks := []handler.ReadinessCheck{handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb)}

	var publisher queue.Publisher
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		publisher = queue.NewRabbitMQPublisher(mq)
		defer publisher.Close() //nolint:errcheck
		checks = append(checks, handler.ReadinessCheck{Name: "rabbitmq", Ping: mq.Ping})
	} else {
		logger.Info("RABBITMQ_URL not set, run events will not be published")
	}

	runService, err := service.NewRunService(engines, repository.NewGormRunRepo(db), progress, publisher, logger)
	if err != nil {
		logger.Fatal("run service initialization failed", zap.Error(err))
	}
	runService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "campaign-dispatcher",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterConfigRoutes(app, handles, metrics); err != nil {
		logger.Fatal("config routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterDispatchRoutes(app, runService); err != nil {
		logger.Fatal("dispatch routes registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("campaign-dispatcher api started",
			zap.Int("port", cfg.APIPort),
			zap.Any("providers", runService.Providers()),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", zap.Error(err))
		}
		if err := runService.Shutdown(shutdownCtx); err != nil {
			logger.Warn("in-flight runs were canceled", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
	}
	logger.Info("campaign-dispatcher api stopped")
}

func newCredentialStore(cfg *config.Config, rdb *goredis.Client) (credentials.Store, error) {
	switch cfg.CredentialStore {
	case config.CredentialStoreFile:
		return credentials.NewFileStore(cfg.CredentialFile)
	case config.CredentialStoreMemory:
		return credentials.NewMemoryStore(), nil
	default:
		return credentials.NewRedisStore(rdb)
	}
}

func newEngines(
	cfg *config.Config,
	store credentials.Store,
	rdb *goredis.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) ([]service.Dispatcher, map[domain.Provider]credentials.Handle, error) {
	var throttle ratelimit.RateLimiter
	switch {
	case cfg.ProviderRateLimitPerSec <= 0:
	case cfg.ProviderRateLimitScope == config.RateLimitScopeLocal:
		throttle = ratelimit.NewLocalRateLimiter(cfg.ProviderRateLimitPerSec)
	default:
		limiter, err := infraredis.NewProviderRateLimiter(rdb, cfg.ProviderRateLimitPerSec)
		if err != nil {
			return nil, nil, err
		}
		throttle = limiter
	}

	normalizer, err := phone.NewNormalizer(cfg.DefaultPhoneRegion)
	if err != nil {
		return nil, nil, err
	}

	twilioConfig, err := credentials.NewAccessor("twilio", store, credentials.TwilioFromFields, logger)
	if err != nil {
		return nil, nil, err
	}
	emailJSConfig, err := credentials.NewAccessor("emailjs", store, credentials.EmailJSFromFields, logger)
	if err != nil {
		return nil, nil, err
	}
	sesConfig, err := credentials.NewAccessor("ses", store, credentials.SESFromFields, logger)
	if err != nil {
		return nil, nil, err
	}

	twilioSender, err := provider.NewTwilioSender(cfg.TwilioBaseURL, cfg.TwilioAddressScheme, normalizer, cfg.ProviderTimeout)
	if err != nil {
		return nil, nil, err
	}
	emailJSSender, err := provider.NewEmailJSSender(cfg.EmailJSBaseURL, cfg.ProviderTimeout)
	if err != nil {
		return nil, nil, err
	}
	sesSender := provider.NewSESSender(cfg.SESEndpoint, &http.Client{Timeout: cfg.ProviderTimeout})

	twilio, err := dispatch.NewEngine[credentials.TwilioCredentials](domain.ProviderTwilio, twilioConfig, twilioSender, render.New(render.ChatMediaLabel), dispatch.Options{
		Delay:    cfg.ChatSendDelay,
		Throttle: throttle,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	emailJS, err := dispatch.NewEngine[credentials.EmailJSCredentials](domain.ProviderEmailJS, emailJSConfig, emailJSSender, render.New(render.EmailMediaLabel), dispatch.Options{
		Delay:    cfg.EmailSendDelay,
		Throttle: throttle,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	ses, err := dispatch.NewEngine[credentials.SESCredentials](domain.ProviderSES, sesConfig, sesSender, render.New(render.EmailMediaLabel), dispatch.Options{
		Delay:    cfg.EmailSendDelay,
		Throttle: throttle,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	twilio.SetMetrics(metrics)
	emailJS.SetMetrics(metrics)
	ses.SetMetrics(metrics)

	handles := map[domain.Provider]credentials.Handle{
		domain.ProviderTwilio:  twilioConfig,
		domain.ProviderEmailJS: emailJSConfig,
		domain.ProviderSES:     sesConfig,
	}

	return []service.Dispatcher{twilio, emailJS, ses}, handles, nil
}
