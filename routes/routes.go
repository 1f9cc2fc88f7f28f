package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "lwie/controllers"
	"lwie/middleware"
	"lwie/services"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	DB        *gorm.DB
	Quota     *services.QuotaService
	Payments  *services.PaymentService
	JWTSecret string
	Logger    logrus.FieldLogger

	PaymentConfig controller.PaymentControllerConfig
	// InitiateLimit is the number of checkouts an account may open per
	// InitiateWindow. Zero disables the limiter.
	InitiateLimit   int
	InitiateWindow  time.Duration
	RateLimitStore  fiber.Storage
	AccessLogFormat string
}

func SetupRoutes(app *fiber.App, deps Deps) {
	format := deps.AccessLogFormat
	if format == "" {
		format = "[${time}] ${status} - ${latency} ${method} ${path}\n"
	}
	app.Use(logger.New(logger.Config{Format: format}))

	protected := middleware.Protected(deps.DB, deps.JWTSecret)

	authController := controller.NewAuthController(deps.DB, deps.Quota, deps.JWTSecret, deps.Logger.WithField("component", "auth"))
	paymentController := controller.NewPaymentController(deps.Payments, deps.PaymentConfig, deps.Logger.WithField("component", "payment"))
	quotaController := controller.NewQuotaController(deps.Quota)
	listingController := controller.NewListingController(deps.DB, deps.Quota, deps.Logger.WithField("component", "listing"))

	// Auth routes
	auth := app.Group("/auth")
	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)
	auth.Get("/me", protected, authController.Me)

	// Payment routes; provider callbacks are public and re-verified server side
	payment := app.Group("/payment")
	payment.Get("/plans", paymentController.GetPlans)
	payment.Get("/verify", paymentController.VerifyPayment)
	payment.Post("/callback", paymentController.PaymentCallback)
	payment.Get("/callback", paymentController.PaymentCallback)
	payment.Post("/stripe/webhook", paymentController.StripeWebhook)

	initiate := []fiber.Handler{protected}
	if deps.InitiateLimit > 0 {
		window := deps.InitiateWindow
		if window <= 0 {
			window = time.Minute
		}
		initiate = append(initiate, middleware.InitiateRateLimiter(deps.InitiateLimit, window, deps.RateLimitStore))
	}
	initiate = append(initiate, paymentController.InitiatePayment)
	payment.Post("/initiate", initiate...)
	payment.Get("/receipt/:tx_ref", protected, paymentController.GetReceipt)
	payment.Get("/transactions", protected, paymentController.ListTransactions)

	// Quota and listings
	app.Get("/quota", protected, quotaController.GetQuota)

	listings := app.Group("/listings")
	listings.Get("/", listingController.ListListings)
	listings.Get("/:id", listingController.GetListing)
	listings.Post("/", protected, listingController.CreateListing)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Route not found",
		})
	})
}

// ErrorHandler renders errors that escape the handlers as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	} else {
		logrus.WithError(err).WithField("path", c.Path()).Error("Unhandled request error")
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
