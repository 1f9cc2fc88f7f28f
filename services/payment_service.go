package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lwie/models"
)

// DefaultPurchasedPosts is credited when a successful payment carries no post count.
const DefaultPurchasedPosts = 5

const maxTxRefAttempts = 3

var errAlreadyProcessed = errors.New("transaction already processed")

type PaymentOptions struct {
	CallbackURL  string
	ReturnURL    string
	DefaultPosts int
	Publisher    EventPublisher
	Receipts     ReceiptSender
}

// PaymentService initiates provider checkouts and turns verified payments
// into post credits, at most once per tx_ref.
type PaymentService struct {
	db       *gorm.DB
	provider PaymentProvider
	quota    *QuotaService
	opts     PaymentOptions
	logger   logrus.FieldLogger

	now      func() time.Time
	newTxRef func(time.Time) string
}

func NewPaymentService(db *gorm.DB, provider PaymentProvider, quota *QuotaService, opts PaymentOptions, logger logrus.FieldLogger) *PaymentService {
	if opts.DefaultPosts <= 0 {
		opts.DefaultPosts = DefaultPurchasedPosts
	}
	return &PaymentService{
		db:       db,
		provider: provider,
		quota:    quota,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newTxRef: NewTxRef,
	}
}

// NewTxRef returns "tx-<unix millis>-<6 random digits>". Uniqueness is
// probabilistic; the unique index on tx_ref catches collisions.
func NewTxRef(now time.Time) string {
	return fmt.Sprintf("tx-%d-%06d", now.UnixMilli(), rand.Intn(1_000_000))
}

type InitiateParams struct {
	UserID        uint
	PlanID        string
	PlanName      string
	Amount        int
	Currency      string
	PostsCount    int
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

type InitiateResult struct {
	RedirectURL   string `json:"redirect_url"`
	TransactionID string `json:"transaction_id"`
}

// Initiate records a new transaction and opens a checkout with the provider.
// The provider is called exactly once; failures are not retried.
func (s *PaymentService) Initiate(ctx context.Context, p InitiateParams) (*InitiateResult, error) {
	if p.Amount <= 0 || p.PostsCount <= 0 || strings.TrimSpace(p.CustomerEmail) == "" {
		return nil, ErrInvalidPayment
	}
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}

	tx := models.PaymentTransaction{
		UserID:        p.UserID,
		PlanID:        p.PlanID,
		PlanName:      p.PlanName,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PostsCount:    p.PostsCount,
		CustomerName:  strings.TrimSpace(p.CustomerName),
		CustomerEmail: strings.TrimSpace(p.CustomerEmail),
		CustomerPhone: strings.TrimSpace(p.CustomerPhone),
		Provider:      s.provider.Name(),
		Status:        models.PaymentStatusInitiated,
	}
	if err := s.createTransaction(ctx, &tx); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"tx_ref":   tx.TxRef,
		"user_id":  tx.UserID,
		"plan_id":  tx.PlanID,
		"amount":   tx.Amount,
		"provider": tx.Provider,
	})

	firstName, lastName := splitName(tx.CustomerName)
	session, err := s.provider.Initialize(ctx, CheckoutRequest{
		TxRef:       tx.TxRef,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		FirstName:   firstName,
		LastName:    lastName,
		Email:       tx.CustomerEmail,
		Phone:       tx.CustomerPhone,
		Title:       PaymentTitle(tx.PlanName, tx.PostsCount),
		Description: fmt.Sprintf("LWIE %s plan, %d marketplace posts", tx.PlanName, tx.PostsCount),
		CallbackURL: s.opts.CallbackURL,
		ReturnURL:   withTxRef(s.opts.ReturnURL, tx.TxRef),
		PlanID:      tx.PlanID,
		PostsCount:  tx.PostsCount,
	})
	if err != nil {
		log.WithError(err).Error("Payment initialization failed")
		if markErr := s.markFailed(ctx, tx.TxRef, "initialize: "+err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to mark transaction as failed")
		}
		return nil, fmt.Errorf("initialize payment: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("tx_ref = ? AND status = ?", tx.TxRef, models.PaymentStatusInitiated).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusPending,
			"checkout_url": session.CheckoutURL,
			"provider_ref": session.ProviderRef,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update transaction: %w", res.Error)
	}

	log.Info("Payment initialized")
	return &InitiateResult{
		RedirectURL:   session.CheckoutURL,
		TransactionID: tx.TxRef,
	}, nil
}

func (s *PaymentService) createTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	var err error
	for attempt := 0; attempt < maxTxRefAttempts; attempt++ {
		tx.TxRef = s.newTxRef(s.now())
		err = s.db.WithContext(ctx).Create(tx).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		tx.ID = 0
	}
	return fmt.Errorf("create transaction: %w", err)
}

type VerifyResult struct {
	TxRef         string `json:"tx_ref"`
	Success       bool   `json:"success"`
	PostsCredited int    `json:"posts_credited"`
	RawStatus     string `json:"status"`
	// AlreadyProcessed is set when an earlier verification settled the transaction.
	AlreadyProcessed bool `json:"already_processed"`
}

// Verify asks the provider for the state of txRef and credits the buyer on
// success. Verify is idempotent: the webhook and the browser redirect may
// both call it, posts are credited once.
func (s *PaymentService) Verify(ctx context.Context, txRef string) (*VerifyResult, error) {
	tx, err := s.find(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if done := settled(tx); done != nil {
		return done, nil
	}

	log := s.logger.WithFields(logrus.Fields{
		"tx_ref":  txRef,
		"user_id": tx.UserID,
	})

	pv, err := s.provider.Verify(ctx, txRef, tx.ProviderRef)
	if err != nil {
		// Left pending: the next verify or the expiry sweep settles it.
		log.WithError(err).Warn("Payment verification failed")
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	if pv.Pending() {
		log.Info("Payment still pending at provider")
		return &VerifyResult{TxRef: txRef, RawStatus: pv.RawStatus()}, nil
	}
	if !pv.Succeeded() {
		reason := "provider status " + pv.RawStatus()
		if pv.Message != "" {
			reason += ": " + pv.Message
		}
		return s.fail(ctx, tx, pv.RawStatus(), reason)
	}
	if pv.Amount > 0 && pv.Amount != tx.Amount {
		log.WithFields(logrus.Fields{
			"expected": tx.Amount,
			"paid":     pv.Amount,
		}).Error("Paid amount does not match transaction")
		return s.fail(ctx, tx, models.PaymentStatusFailed, fmt.Sprintf("amount mismatch: paid %d, expected %d", pv.Amount, tx.Amount))
	}

	posts := s.resolvePosts(tx, pv)
	creditedAt := s.now()
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Model(&models.PaymentTransaction{}).
			Where("tx_ref = ? AND status IN ?", txRef, []string{models.PaymentStatusInitiated, models.PaymentStatusPending}).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusCredited,
				"posts_credited": posts,
				"credited_at":    creditedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("settle transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errAlreadyProcessed
		}
		_, err := s.quota.WithTx(db).Credit(ctx, tx.UserID, posts)
		return err
	})
	if errors.Is(err, errAlreadyProcessed) {
		// A concurrent verification won the race.
		current, findErr := s.find(ctx, txRef)
		if findErr != nil {
			return nil, findErr
		}
		if done := settled(current); done != nil {
			return done, nil
		}
		return nil, fmt.Errorf("verify payment: unexpected state %q", current.Status)
	}
	if err != nil {
		return nil, err
	}

	tx.Status = models.PaymentStatusCredited
	tx.PostsCredited = posts
	tx.CreditedAt = &creditedAt
	log.WithField("posts", posts).Info("Payment verified and posts credited")
	s.notify(ctx, tx)

	return &VerifyResult{
		TxRef:         txRef,
		Success:       true,
		PostsCredited: posts,
		RawStatus:     pv.RawStatus(),
	}, nil
}

// resolvePosts prefers the structured metadata, then the "(N Posts)" title
// convention, then the count recorded at initiation, then the default.
func (s *PaymentService) resolvePosts(tx *models.PaymentTransaction, pv *ProviderVerification) int {
	if pv.PostsCount > 0 {
		return pv.PostsCount
	}
	if n, ok := ParsePostsFromTitle(pv.Title); ok {
		return n
	}
	if tx.PostsCount > 0 {
		return tx.PostsCount
	}
	return s.opts.DefaultPosts
}

func (s *PaymentService) fail(ctx context.Context, tx *models.PaymentTransaction, rawStatus, reason string) (*VerifyResult, error) {
	if err := s.markFailed(ctx, tx.TxRef, reason); err != nil {
		return nil, err
	}
	current, err := s.find(ctx, tx.TxRef)
	if err != nil {
		return nil, err
	}
	if current.Status == models.PaymentStatusCredited {
		return settled(current), nil
	}
	s.logger.WithFields(logrus.Fields{
		"tx_ref": tx.TxRef,
		"reason": reason,
	}).Warn("Payment failed")
	return &VerifyResult{TxRef: tx.TxRef, RawStatus: rawStatus}, nil
}

func (s *PaymentService) markFailed(ctx context.Context, txRef, reason string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("tx_ref = ? AND status IN ?", txRef, []string{models.PaymentStatusInitiated, models.PaymentStatusPending}).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"failure_reason": clip(reason, 255),
			"failed_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark transaction failed: %w", res.Error)
	}
	return nil
}

// ExpireStale fails transactions that stayed unsettled for longer than ttl.
func (s *PaymentService) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("status IN ? AND created_at < ?", []string{models.PaymentStatusInitiated, models.PaymentStatusPending}, now.Add(-ttl)).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"failure_reason": "abandoned",
			"failed_at":      now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("expire stale transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Receipt returns the receipt of a credited transaction owned by userID.
func (s *PaymentService) Receipt(ctx context.Context, userID uint, txRef string) (*models.ReceiptRecord, error) {
	tx, err := s.find(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, ErrTransactionNotFound
	}
	if tx.Status != models.PaymentStatusCredited {
		return nil, ErrReceiptUnavailable
	}
	receipt := tx.Receipt()
	return &receipt, nil
}

// Transactions lists the account's payments, newest first.
func (s *PaymentService) Transactions(ctx context.Context, userID uint, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var txs []models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Transaction returns one transaction by tx_ref.
func (s *PaymentService) Transaction(ctx context.Context, txRef string) (*models.PaymentTransaction, error) {
	return s.find(ctx, txRef)
}

func (s *PaymentService) find(ctx context.Context, txRef string) (*models.PaymentTransaction, error) {
	if strings.TrimSpace(txRef) == "" {
		return nil, ErrTransactionNotFound
	}
	var tx models.PaymentTransaction
	if err := s.db.WithContext(ctx).Where("tx_ref = ?", txRef).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return &tx, nil
}

// notify runs the post-credit side effects. They never undo a credit.
func (s *PaymentService) notify(ctx context.Context, tx *models.PaymentTransaction) {
	log := s.logger.WithField("tx_ref", tx.TxRef)

	if s.opts.Publisher != nil {
		event := PaymentCreditedEvent{
			EventID:        uuid.NewString(),
			TransactionID:  tx.TxRef,
			UserID:         tx.UserID,
			UserEmail:      tx.CustomerEmail,
			PlanID:         tx.PlanID,
			PostsPurchased: tx.PostsCredited,
			Amount:         tx.Amount,
			Currency:       tx.Currency,
			Provider:       tx.Provider,
			CreditedAt:     *tx.CreditedAt,
		}
		if err := s.opts.Publisher.PublishPaymentCredited(ctx, event); err != nil {
			log.WithError(err).Error("Failed to publish payment event")
		}
	}

	if s.opts.Receipts != nil && tx.CustomerEmail != "" {
		if err := s.opts.Receipts.SendReceipt(ctx, tx.CustomerEmail, tx.Receipt()); err != nil {
			log.WithError(err).Warn("Failed to send receipt email")
		}
	}
}

func settled(tx *models.PaymentTransaction) *VerifyResult {
	switch tx.Status {
	case models.PaymentStatusCredited:
		return &VerifyResult{
			TxRef:            tx.TxRef,
			Success:          true,
			PostsCredited:    tx.PostsCredited,
			RawStatus:        ProviderStatusSuccess,
			AlreadyProcessed: true,
		}
	case models.PaymentStatusFailed:
		return &VerifyResult{
			TxRef:            tx.TxRef,
			RawStatus:        models.PaymentStatusFailed,
			AlreadyProcessed: true,
		}
	}
	return nil
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func withTxRef(returnURL, txRef string) string {
	u, err := url.Parse(returnURL)
	if err != nil || returnURL == "" {
		return returnURL
	}
	q := u.Query()
	q.Set("tx_ref", txRef)
	u.RawQuery = q.Encode()
	return u.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
