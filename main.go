package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"lwie/config"
	controller "lwie/controllers"
	"lwie/middleware"
	"lwie/routes"
	"lwie/services"
	"lwie/utils"
	"lwie/worker"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stdout)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logrus.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	logger := logrus.StandardLogger()

	var provider services.PaymentProvider
	switch cfg.PaymentProvider {
	case "stripe":
		provider = utils.NewStripeCheckoutClient(cfg.Stripe.SecretKey, nil, logger.WithField("component", "stripe"))
	default:
		provider = utils.NewChapaClient(cfg.Chapa.BaseURL, cfg.Chapa.SecretKey, cfg.PaymentHTTPTimeout, logger.WithField("component", "chapa"))
	}

	opts := services.PaymentOptions{
		CallbackURL:  cfg.PaymentCallbackURL,
		ReturnURL:    cfg.PaymentReturnURL,
		DefaultPosts: cfg.DefaultPurchasePost,
	}
	if cfg.Kafka.Enabled {
		publisher, err := utils.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.WithField("component", "kafka"))
		if err != nil {
			logrus.WithError(err).Error("Kafka unavailable, payment events disabled")
		} else {
			defer publisher.Close()
			opts.Publisher = publisher
		}
	}
	if cfg.SMTP.Enabled() {
		opts.Receipts = utils.NewReceiptMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, logger.WithField("component", "mailer"))
	}

	quota := services.NewQuotaService(config.DB, cfg.FreePosts, logger.WithField("component", "quota"))
	payments := services.NewPaymentService(config.DB, provider, quota, opts, logger.WithField("component", "payments"))

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "lwie-backend",
		ErrorHandler: routes.ErrorHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   middleware.DefaultCORSConfig().AllowedMethods,
		AllowedHeaders:   middleware.DefaultCORSConfig().AllowedHeaders,
		ExposedHeaders:   middleware.DefaultCORSConfig().ExposedHeaders,
		MaxAge:           3600,
	}))

	rateLimitStore := middleware.NewRateLimitStorage(cfg.Redis)
	routes.SetupRoutes(app, routes.Deps{
		DB:        config.DB,
		Quota:     quota,
		Payments:  payments,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
		PaymentConfig: controller.PaymentControllerConfig{
			ChapaWebhookSecret:  cfg.Chapa.WebhookSecret,
			StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		},
		InitiateLimit:  cfg.RateLimitInitiate,
		InitiateWindow: time.Minute,
		RateLimitStore: rateLimitStore,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize and start payment expiry worker
	expiryWorker := worker.NewPaymentExpiryWorker(payments, cfg.PaymentPendingTTL, cfg.PaymentSweepEvery, logger.WithField("component", "payment_expiry"))
	go expiryWorker.Start(ctx)

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logrus.Infof("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}

	if rateLimitStore != nil {
		_ = rateLimitStore.Close()
	}
	if sqlDB, err := config.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logrus.Info("Server stopped")
}
