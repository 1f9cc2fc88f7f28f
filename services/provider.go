package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"lwie/models"
)

// CheckoutRequest is what a provider needs to open a hosted checkout page.
type CheckoutRequest struct {
	TxRef       string
	Amount      int
	Currency    string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Title       string
	Description string
	CallbackURL string
	ReturnURL   string
	PlanID      string
	PostsCount  int
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	CheckoutURL string
	ProviderRef string
}

// Provider-reported payment states.
const (
	ProviderStatusSuccess = "success"
	ProviderStatusPending = "pending"
	ProviderStatusFailed  = "failed"
)

// ProviderVerification is the provider's view of a transaction.
type ProviderVerification struct {
	// Status is the provider's top-level status.
	Status string
	// PaymentStatus is the state of the payment itself, when reported separately.
	PaymentStatus string
	Message       string
	Title         string
	// PostsCount is the post count round-tripped through provider metadata, 0 if absent.
	PostsCount  int
	Amount      int
	Currency    string
	ProviderRef string
}

// Succeeded reports whether the provider confirmed the payment.
func (v *ProviderVerification) Succeeded() bool {
	return v.Status == ProviderStatusSuccess &&
		(v.PaymentStatus == "" || v.PaymentStatus == ProviderStatusSuccess)
}

// Pending reports whether the provider has not settled the payment yet.
func (v *ProviderVerification) Pending() bool {
	return v.Status == ProviderStatusSuccess && v.PaymentStatus == ProviderStatusPending
}

// RawStatus is the most specific status the provider reported.
func (v *ProviderVerification) RawStatus() string {
	if v.PaymentStatus != "" {
		return v.PaymentStatus
	}
	return v.Status
}

// PaymentProvider opens checkouts and verifies them by tx_ref. providerRef is
// the CheckoutSession.ProviderRef recorded at initiation, possibly empty.
type PaymentProvider interface {
	Name() string
	Initialize(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	Verify(ctx context.Context, txRef, providerRef string) (*ProviderVerification, error)
}

// PaymentCreditedEvent is published once per credited transaction.
type PaymentCreditedEvent struct {
	EventID        string    `json:"event_id"`
	TransactionID  string    `json:"transaction_id"`
	UserID         uint      `json:"user_id"`
	UserEmail      string    `json:"user_email"`
	PlanID         string    `json:"plan_id"`
	PostsPurchased int       `json:"posts_purchased"`
	Amount         int       `json:"amount"`
	Currency       string    `json:"currency"`
	Provider       string    `json:"provider"`
	CreditedAt     time.Time `json:"credited_at"`
}

// EventPublisher fans payment events out to other services.
type EventPublisher interface {
	PublishPaymentCredited(ctx context.Context, event PaymentCreditedEvent) error
}

// ReceiptSender delivers a receipt to the buyer.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, to string, receipt models.ReceiptRecord) error
}

var postsInTitle = regexp.MustCompile(`\((\d+)\s*[Pp]osts?\)`)

// ParsePostsFromTitle extracts N from a "(N Posts)" suffix such as
// "Payment for Standard Plan (7 Posts)".
func ParsePostsFromTitle(title string) (int, bool) {
	m := postsInTitle.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// PaymentTitle is the human readable title sent to the provider.
func PaymentTitle(planName string, posts int) string {
	return fmt.Sprintf("Payment for %s Plan (%d Posts)", planName, posts)
}
