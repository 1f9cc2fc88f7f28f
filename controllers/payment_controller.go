package controller

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"

	"lwie/middleware"
	"lwie/models"
	"lwie/services"
	"lwie/utils"
)

type InitiatePaymentRequest struct {
	PlanID    string `json:"plan_id" validate:"required"`
	FirstName string `json:"first_name" validate:"required,max=50"`
	LastName  string `json:"last_name" validate:"required,max=50"`
	Email     string `json:"email" validate:"required,mailbox"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
}

type PaymentControllerConfig struct {
	// ChapaWebhookSecret enables signature checks on POST callbacks when set.
	ChapaWebhookSecret  string
	StripeWebhookSecret string
}

type PaymentController struct {
	payments *services.PaymentService
	cfg      PaymentControllerConfig
	logger   logrus.FieldLogger
}

func NewPaymentController(payments *services.PaymentService, cfg PaymentControllerConfig, logger logrus.FieldLogger) *PaymentController {
	return &PaymentController{
		payments: payments,
		cfg:      cfg,
		logger:   logger,
	}
}

// GetPlans returns the plan catalog.
func (pc *PaymentController) GetPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"plans":   models.Plans,
	})
}

// InitiatePayment opens a checkout for one of the catalog plans. Price and
// post count always come from the catalog, never from the client.
func (pc *PaymentController) InitiatePayment(c *fiber.Ctx) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Authorization required")
	}

	var req InitiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := utils.ValidateStruct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	plan, ok := models.PlanByID(req.PlanID)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Unknown plan")
	}

	result, err := pc.payments.Initiate(c.UserContext(), services.InitiateParams{
		UserID:        user.ID,
		PlanID:        plan.ID,
		PlanName:      plan.Name,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		PostsCount:    plan.Posts,
		CustomerName:  strings.TrimSpace(req.FirstName + " " + req.LastName),
		CustomerEmail: req.Email,
		CustomerPhone: req.Phone,
	})
	if err != nil {
		return serviceError(c, err, "payment_initiate_failed", map[string]interface{}{
			"user_id": user.ID,
			"plan_id": plan.ID,
		})
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"redirect_url":   result.RedirectURL,
		"transaction_id": result.TransactionID,
	})
}

// VerifyPayment re-verifies a transaction with the provider. The return page
// calls it after the redirect; repeated calls never credit twice.
func (pc *PaymentController) VerifyPayment(c *fiber.Ctx) error {
	txRef := strings.TrimSpace(c.Query("tx_ref"))
	if txRef == "" {
		return errorResponse(c, fiber.StatusBadRequest, "tx_ref is required")
	}
	return pc.verify(c, txRef, "payment_verify_failed")
}

// PaymentCallback handles the provider's server to server notification.
// Chapa posts a JSON body and also redirects with ?trx_ref=. The payload is
// only a hint; the transaction is always re-verified with the provider.
func (pc *PaymentController) PaymentCallback(c *fiber.Ctx) error {
	txRef := firstNonEmpty(c.Query("trx_ref"), c.Query("tx_ref"))

	if c.Method() == fiber.MethodPost {
		if pc.cfg.ChapaWebhookSecret != "" {
			if !utils.VerifyChapaSignature(c.Body(), pc.cfg.ChapaWebhookSecret,
				c.Get("x-chapa-signature"), c.Get("chapa-signature")) {
				utils.LogEvent("payment_callback_bad_signature", map[string]interface{}{
					"ip": c.IP(),
				})
				return errorResponse(c, fiber.StatusUnauthorized, "Invalid signature")
			}
		}
		var body struct {
			TxRef  string `json:"tx_ref"`
			TrxRef string `json:"trx_ref"`
		}
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &body); err != nil {
				return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
			}
		}
		txRef = firstNonEmpty(body.TxRef, body.TrxRef, txRef)
	}

	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return errorResponse(c, fiber.StatusBadRequest, "tx_ref is required")
	}
	return pc.verify(c, txRef, "payment_callback_failed")
}

// StripeWebhook re-verifies the checkout session named by a signed Stripe
// event.
func (pc *PaymentController) StripeWebhook(c *fiber.Ctx) error {
	if pc.cfg.StripeWebhookSecret == "" {
		return errorResponse(c, fiber.StatusNotFound, "Stripe webhooks are not configured")
	}

	event, err := utils.ConstructStripeEvent(c.Body(), c.Get("Stripe-Signature"), pc.cfg.StripeWebhookSecret)
	if err != nil {
		pc.logger.WithError(err).Warn("Rejected Stripe webhook")
		return errorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload")
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		return c.SendStatus(fiber.StatusOK)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Error parsing checkout session")
	}
	txRef := firstNonEmpty(session.ClientReferenceID, session.Metadata["tx_ref"])
	if txRef == "" {
		pc.logger.WithField("session_id", session.ID).Warn("Stripe session without tx_ref")
		return c.SendStatus(fiber.StatusOK)
	}
	return pc.verify(c, txRef, "stripe_webhook_failed")
}

func (pc *PaymentController) verify(c *fiber.Ctx, txRef, errorType string) error {
	result, err := pc.payments.Verify(c.UserContext(), txRef)
	if err != nil {
		return serviceError(c, err, errorType, map[string]interface{}{"tx_ref": txRef})
	}

	return c.JSON(fiber.Map{
		"success":           result.Success,
		"tx_ref":            result.TxRef,
		"posts_credited":    result.PostsCredited,
		"status":            result.RawStatus,
		"already_processed": result.AlreadyProcessed,
		"message":           verifyMessage(result),
	})
}

func verifyMessage(r *services.VerifyResult) string {
	switch {
	case r.Success && r.AlreadyProcessed:
		return "Payment already verified"
	case r.Success:
		return "Payment verified and posts credited"
	case r.RawStatus == services.ProviderStatusPending:
		return "Payment is still pending"
	default:
		return "Payment was not successful"
	}
}

// GetReceipt returns the receipt of one of the caller's credited purchases.
func (pc *PaymentController) GetReceipt(c *fiber.Ctx) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Authorization required")
	}

	receipt, err := pc.payments.Receipt(c.UserContext(), user.ID, c.Params("tx_ref"))
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			err = services.ErrReceiptUnavailable
		}
		return serviceError(c, err, "receipt_failed", map[string]interface{}{"user_id": user.ID})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"receipt": receipt,
	})
}

// ListTransactions returns the caller's payment history.
func (pc *PaymentController) ListTransactions(c *fiber.Ctx) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Authorization required")
	}

	txs, err := pc.payments.Transactions(c.UserContext(), user.ID, c.QueryInt("limit", 20))
	if err != nil {
		return serviceError(c, err, "transactions_failed", map[string]interface{}{"user_id": user.ID})
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"transactions": txs,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
