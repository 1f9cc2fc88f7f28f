package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// PaymentPlan is a purchasable bundle of posts. Plans are a static catalog.
type PaymentPlan struct {
	ID        string   `json:"id"` // basic, standard, premium
	Name      string   `json:"name"`
	Price     int      `json:"price"` // whole ETB
	Currency  string   `json:"currency"`
	Posts     int      `json:"posts"`
	Features  []string `json:"features"`
	IsPopular bool     `json:"is_popular"`
}

// DefaultCurrency is the currency every plan is priced in.
const DefaultCurrency = "ETB"

// Plans is the ordered plan catalog.
var Plans = []PaymentPlan{
	{
		ID:       "basic",
		Name:     "Basic",
		Price:    10,
		Currency: DefaultCurrency,
		Posts:    3,
		Features: []string{
			"3 additional posts",
			"Listings stay active for 30 days",
			"Standard visibility",
		},
	},
	{
		ID:       "standard",
		Name:     "Standard",
		Price:    20,
		Currency: DefaultCurrency,
		Posts:    7,
		Features: []string{
			"7 additional posts",
			"Listings stay active for 60 days",
			"Highlighted in category pages",
			"Email support",
		},
		IsPopular: true,
	},
	{
		ID:       "premium",
		Name:     "Premium",
		Price:    50,
		Currency: DefaultCurrency,
		Posts:    20,
		Features: []string{
			"20 additional posts",
			"Listings stay active for 90 days",
			"Featured on the home page",
			"Priority support",
		},
	},
}

// PlanByID looks a plan up by its id, case-insensitively.
func PlanByID(id string) (PaymentPlan, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range Plans {
		if p.ID == id {
			return p, true
		}
	}
	return PaymentPlan{}, false
}

// Payment transaction states.
const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusPending   = "pending"
	PaymentStatusCredited  = "credited"
	PaymentStatusFailed    = "failed"
)

// PaymentTransaction is the local log of a provider payment, keyed by tx_ref.
type PaymentTransaction struct {
	gorm.Model
	TxRef  string `gorm:"not null;uniqueIndex;size:64" json:"tx_ref"`
	UserID uint   `gorm:"not null;index" json:"user_id"`

	// What was bought
	PlanID     string `gorm:"not null" json:"plan_id"`
	PlanName   string `gorm:"not null" json:"plan_name"`
	Amount     int    `gorm:"not null" json:"amount"`
	Currency   string `gorm:"not null;default:'ETB'" json:"currency"`
	PostsCount int    `gorm:"not null" json:"posts_count"`

	// Buyer
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	// Provider side
	Provider    string `gorm:"not null" json:"provider"` // chapa, stripe
	CheckoutURL string `json:"checkout_url,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`

	Status        string     `gorm:"not null;index;default:'initiated'" json:"status"` // initiated, pending, credited, failed
	PostsCredited int        `gorm:"not null;default:0" json:"posts_credited"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreditedAt    *time.Time `json:"credited_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`

	User User `json:"-"`
}

// IsTerminal reports whether the transaction can no longer change state.
func (t *PaymentTransaction) IsTerminal() bool {
	return t.Status == PaymentStatusCredited || t.Status == PaymentStatusFailed
}

// ReceiptRecord is the printable summary of a credited purchase.
type ReceiptRecord struct {
	TransactionID string    `json:"transaction_id"`
	PlanName      string    `json:"plan_name"`
	Price         int       `json:"price"`
	Currency      string    `json:"currency"`
	PostsCount    int       `json:"posts_count"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Date          time.Time `json:"date"`
}

// Receipt builds the receipt of a transaction.
func (t *PaymentTransaction) Receipt() ReceiptRecord {
	date := t.CreatedAt
	if t.CreditedAt != nil {
		date = *t.CreditedAt
	}
	posts := t.PostsCredited
	if posts == 0 {
		posts = t.PostsCount
	}
	return ReceiptRecord{
		TransactionID: t.TxRef,
		PlanName:      t.PlanName,
		Price:         t.Amount,
		Currency:      t.Currency,
		PostsCount:    posts,
		CustomerName:  t.CustomerName,
		CustomerEmail: t.CustomerEmail,
		Date:          date,
	}
}
