package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/hauntedempire/paycore/app/controllers"
	"github.com/hauntedempire/paycore/app/repository"
	"github.com/hauntedempire/paycore/internal/pkg/billing"
	"github.com/hauntedempire/paycore/internal/pkg/cache"
	"github.com/hauntedempire/paycore/internal/pkg/config"
	"github.com/hauntedempire/paycore/internal/pkg/database"
	"github.com/hauntedempire/paycore/internal/pkg/env"
	"github.com/hauntedempire/paycore/internal/pkg/eventarchive"
	"github.com/hauntedempire/paycore/internal/pkg/gateway"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/mail"
	"github.com/hauntedempire/paycore/internal/pkg/middleware"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
	"github.com/hauntedempire/paycore/internal/pkg/promotion"
	"github.com/hauntedempire/paycore/internal/pkg/provider"
	"github.com/hauntedempire/paycore/internal/pkg/quota"
	"github.com/hauntedempire/paycore/internal/pkg/router"
)

const shutdownTimeout = 20 * time.Second

// limiterRedisDB keeps rate limiter keys apart from the job lists.
const limiterRedisDB = 2

func main() {
	if err := run(); err != nil {
		log.Fatalf("[Main] %v", err)
	}
}

func run() error {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := NewApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port))
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	log.Info("[Main] Shutting down")
	return app.ShutdownWithTimeout(shutdownTimeout)
}

// NewApplication wires every component from cfg. The returned cleanup stops the
// job workers and closes connections.
func NewApplication(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	db, err := database.SetupDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	catalog, err := billing.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("[Main] Loaded %d products from %s", len(catalog.Products()), cfg.Catalog.Path)

	archive, err := eventarchive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, nil, err
	}

	var redisClient *redis.Client
	var limiterStorage fiber.Storage
	if cfg.Jobs.Mode == config.JobsModeRedis {
		redisClient = cache.NewClient(cfg.Cache)
		port, _ := strconv.Atoi(cfg.Cache.Port)
		limiterStorage = redisstorage.New(redisstorage.Config{
			Host:     cfg.Cache.Host,
			Port:     port,
			Password: cfg.Cache.Password,
			Database: limiterRedisDB,
			Reset:    false,
		})
	}

	repos := repository.NewFactory(db).GetRepositories()
	gw := gateway.New(cfg.Gateway)
	stripeProvider := provider.NewStripeProvider(cfg.Stripe.SecretKey)
	billingService := billing.NewServiceFromDB(db, catalog)

	// Typed nil channels must not reach the notifier.
	var channels []notify.Channel
	if discord := notify.NewDiscordChannel(cfg.Notify.DiscordWebhookURL, cfg.Notify.Timeout); discord != nil {
		channels = append(channels, discord)
	}
	if email := notify.NewEmailChannel(mail.NewMailer(cfg.SMTP)); email != nil {
		channels = append(channels, email)
	}

	handlers := jobqueue.Handlers{
		Accounts: repos.Account,
		Promoter: promotion.NewClient(cfg.Promotion.URL, cfg.Promotion.Timeout),
		Notifier: notify.NewNotifier(channels...),
	}

	var (
		scheduler *jobqueue.RedisScheduler
		manager   *jobqueue.Manager
		queue     *jobqueue.Queue
		depth     controllers.QueueDepth
	)
	if redisClient != nil {
		scheduler = jobqueue.NewRedisScheduler(redisClient)
		queue = jobqueue.NewQueue(repos.Job, handlers, scheduler)
		manager = jobqueue.NewManager(queue, scheduler, cfg.Jobs.Workers)
		manager.Start()
		depth = scheduler
	} else {
		queue = jobqueue.NewQueue(repos.Job, handlers, nil)
	}
	log.Infof("[Main] Jobs run in %s mode", cfg.Jobs.Mode)

	enforcer := quota.NewEnforcer(repos.Account, queue)

	var payloadArchive controllers.PayloadArchiver
	if archive != nil {
		payloadArchive = archive
	}

	app := fiber.New(fiber.Config{
		AppName:   "paycore",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	app.Get("/metrics", middleware.RequireAdmin(cfg.Admin), monitor.New())

	// SWAGGER / OPENAPI
	if specPath, ok := findFile("public/docs/v1/openapi.yml"); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Main] openapi.yml not found, API docs disabled")
	}

	router.InstallRouter(app, router.Dependencies{
		Config:         cfg,
		Webhook:        controllers.NewWebhookController(billing.NewWebhookVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance), billingService, queue, payloadArchive),
		Checkout:       controllers.NewCheckoutController(catalog, billing.NewCheckoutService(catalog, stripeProvider, gw)),
		Payment:        controllers.NewPaymentController(stripeProvider, gw, enforcer, queue),
		Usage:          controllers.NewUsageController(enforcer, queue),
		Admin:          controllers.NewAdminController(queue, billingService, depth),
		LimiterStorage: limiterStorage,
	})

	cleanup := func() {
		if manager != nil {
			manager.Stop()
		}
		if limiterStorage != nil {
			if err := limiterStorage.Close(); err != nil {
				log.Warnf("[Main] Failed to close limiter storage: %v", err)
			}
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return app, cleanup, nil
}

// findFile resolves path from the working directory or the project root.
func findFile(path string) (string, bool) {
	for _, base := range []string{"./", "../../", "../../../"} {
		candidate := base + path
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[Main] Cannot stat %s: %v", candidate, err)
		}
	}
	return "", false
}
