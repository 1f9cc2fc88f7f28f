package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"lwie/services"
)

// StripeCheckoutClient is the alternate provider, backed by Stripe Checkout
// Sessions. The tx_ref travels as client_reference_id and in metadata.
type StripeCheckoutClient struct {
	api    *client.API
	logger logrus.FieldLogger
}

// NewStripeCheckoutClient builds a client. backends may be nil for the
// default Stripe endpoints.
func NewStripeCheckoutClient(secretKey string, backends *stripe.Backends, logger logrus.FieldLogger) *StripeCheckoutClient {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeCheckoutClient{api: api, logger: logger}
}

func (c *StripeCheckoutClient) Name() string {
	return "stripe"
}

func (c *StripeCheckoutClient) Initialize(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.TxRef),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.ReturnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(int64(req.Amount) * 100), // minor units
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Title),
						Description: stripe.String(req.Description),
					},
				},
			},
		},
		Metadata: map[string]string{
			"tx_ref":      req.TxRef,
			"plan_id":     req.PlanID,
			"posts_count": strconv.Itoa(req.PostsCount),
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"tx_ref": req.TxRef,
			"error":  err,
		}).Error("Failed to create Stripe checkout session")
		return nil, classifyStripeError(err)
	}
	return &services.CheckoutSession{
		CheckoutURL: s.URL,
		ProviderRef: s.ID,
	}, nil
}

func (c *StripeCheckoutClient) Verify(ctx context.Context, txRef, providerRef string) (*services.ProviderVerification, error) {
	if providerRef == "" {
		return nil, fmt.Errorf("%w: no checkout session recorded for %s", services.ErrProvider, txRef)
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(providerRef, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return &services.ProviderVerification{
				Status:  services.ProviderStatusFailed,
				Message: "checkout session not found",
			}, nil
		}
		return nil, classifyStripeError(err)
	}
	if s.ClientReferenceID != "" && s.ClientReferenceID != txRef {
		return nil, fmt.Errorf("%w: session %s belongs to %s", services.ErrProvider, s.ID, s.ClientReferenceID)
	}

	v := &services.ProviderVerification{
		Status:      services.ProviderStatusSuccess,
		Amount:      int(s.AmountTotal / 100),
		Currency:    strings.ToUpper(string(s.Currency)),
		ProviderRef: s.ID,
	}
	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		v.PaymentStatus = services.ProviderStatusSuccess
	case s.Status == stripe.CheckoutSessionStatusExpired:
		v.PaymentStatus = services.ProviderStatusFailed
		v.Message = "checkout session expired"
	default:
		v.PaymentStatus = services.ProviderStatusPending
	}
	if n, err := strconv.Atoi(s.Metadata["posts_count"]); err == nil && n > 0 {
		v.PostsCount = n
	}
	return v, nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %s", services.ErrProviderUnavailable, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", services.ErrProvider, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", services.ErrProviderUnavailable, err)
}

// ConstructStripeEvent verifies a Stripe webhook signature and decodes the event
func ConstructStripeEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if signature == "" {
		return stripe.Event{}, errors.New("missing Stripe-Signature header")
	}
	// Tolerance for clock drift
	return webhook.ConstructEventWithTolerance(payload, signature, secret, 5*time.Minute)
}
