package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lwie/models"
)

// QuotaStatus is the ledger state plus the derived remaining counts.
type QuotaStatus struct {
	models.QuotaState
	RemainingFree int `json:"remaining_free"`
	RemainingPaid int `json:"remaining_paid"`
}

// NewQuotaStatus derives the remaining counts from a state.
func NewQuotaStatus(state models.QuotaState) QuotaStatus {
	return QuotaStatus{
		QuotaState:    state,
		RemainingFree: state.RemainingFree(),
		RemainingPaid: state.RemainingPaid(),
	}
}

// QuotaService reads and mutates the account-keyed post ledger.
//
// Every mutation is a single conditional UPDATE so that concurrent requests
// for the same account can neither lose an increment nor overdraw a balance.
type QuotaService struct {
	db        *gorm.DB
	freePosts int
	logger    logrus.FieldLogger
}

func NewQuotaService(db *gorm.DB, freePosts int, logger logrus.FieldLogger) *QuotaService {
	return &QuotaService{
		db:        db,
		freePosts: freePosts,
		logger:    logger,
	}
}

// WithTx returns a copy of the service bound to an open transaction.
func (s *QuotaService) WithTx(tx *gorm.DB) *QuotaService {
	cp := *s
	cp.db = tx
	return &cp
}

// GetStatus returns the account's quota, creating a zeroed ledger on first use.
func (s *QuotaService) GetStatus(ctx context.Context, userID uint) (QuotaStatus, error) {
	ledger, err := s.ensureLedger(s.db.WithContext(ctx), userID)
	if err != nil {
		return QuotaStatus{}, err
	}
	return NewQuotaStatus(ledger.State()), nil
}

// Consume takes one post from the account, paid balance first. When both
// balances are empty it returns ErrQuotaExhausted and changes nothing.
func (s *QuotaService) Consume(ctx context.Context, userID uint, action string, listingID *uint) (QuotaStatus, error) {
	var status QuotaStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureLedger(tx, userID); err != nil {
			return err
		}

		source := ""
		for _, step := range []struct {
			source, used, total string
		}{
			{models.QuotaSourcePaid, "paid_used", "paid_total"},
			{models.QuotaSourceFree, "free_used", "free_total"},
		} {
			res := tx.Model(&models.QuotaLedger{}).
				Where("user_id = ? AND "+step.used+" < "+step.total, userID).
				Update(step.used, gorm.Expr(step.used+" + ?", 1))
			if res.Error != nil {
				return fmt.Errorf("consume %s post: %w", step.source, res.Error)
			}
			if res.RowsAffected == 1 {
				source = step.source
				break
			}
		}
		if source == "" {
			return ErrQuotaExhausted
		}

		usage := models.QuotaUsage{
			UserID:    userID,
			Source:    source,
			Action:    action,
			ListingID: listingID,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("record quota usage: %w", err)
		}

		ledger, err := s.load(tx, userID)
		if err != nil {
			return err
		}
		status = NewQuotaStatus(ledger.State())
		return nil
	})
	if errors.Is(err, ErrQuotaExhausted) {
		current, statusErr := s.GetStatus(ctx, userID)
		if statusErr != nil {
			return QuotaStatus{}, statusErr
		}
		return current, ErrQuotaExhausted
	}
	if err != nil {
		return QuotaStatus{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"action":         action,
		"remaining_free": status.RemainingFree,
		"remaining_paid": status.RemainingPaid,
	}).Debug("Post consumed")
	return status, nil
}

// Credit adds n purchased posts to the paid balance.
func (s *QuotaService) Credit(ctx context.Context, userID uint, n int) (QuotaStatus, error) {
	if n <= 0 {
		return QuotaStatus{}, ErrInvalidCredit
	}

	var status QuotaStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureLedger(tx, userID); err != nil {
			return err
		}
		res := tx.Model(&models.QuotaLedger{}).
			Where("user_id = ?", userID).
			Update("paid_total", gorm.Expr("paid_total + ?", n))
		if res.Error != nil {
			return fmt.Errorf("credit posts: %w", res.Error)
		}

		ledger, err := s.load(tx, userID)
		if err != nil {
			return err
		}
		status = NewQuotaStatus(ledger.State())
		return nil
	})
	if err != nil {
		return QuotaStatus{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"credited":   n,
		"paid_total": status.PaidTotal,
	}).Info("Posts credited")
	return status, nil
}

func (s *QuotaService) ensureLedger(db *gorm.DB, userID uint) (*models.QuotaLedger, error) {
	ledger, err := s.load(db, userID)
	if err == nil {
		return ledger, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Two first reads may race; the loser's insert is a no-op.
	fresh := models.QuotaLedger{UserID: userID, FreeTotal: s.freePosts}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("create quota ledger: %w", err)
	}
	return s.load(db, userID)
}

func (s *QuotaService) load(db *gorm.DB, userID uint) (*models.QuotaLedger, error) {
	var ledger models.QuotaLedger
	if err := db.Where("user_id = ?", userID).First(&ledger).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load quota ledger: %w", err)
	}
	return &ledger, nil
}
