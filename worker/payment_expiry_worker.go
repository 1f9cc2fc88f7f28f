package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StaleExpirer fails transactions that stayed open longer than ttl.
type StaleExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// PaymentExpiryWorker periodically fails checkouts the buyer abandoned, so
// they stop showing as pending. It never credits anything.
type PaymentExpiryWorker struct {
	payments     StaleExpirer
	ttl          time.Duration
	interval     time.Duration
	initialDelay time.Duration
	logger       logrus.FieldLogger
}

func NewPaymentExpiryWorker(payments StaleExpirer, ttl, interval time.Duration, logger logrus.FieldLogger) *PaymentExpiryWorker {
	return &PaymentExpiryWorker{
		payments:     payments,
		ttl:          ttl,
		interval:     interval,
		initialDelay: 10 * time.Second,
		logger:       logger,
	}
}

// Start blocks until ctx is canceled.
func (w *PaymentExpiryWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.initialDelay):
	}

	w.logger.WithFields(logrus.Fields{
		"ttl":      w.ttl,
		"interval": w.interval,
	}).Info("Payment expiry worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Payment expiry worker shutting down...")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *PaymentExpiryWorker) sweep(ctx context.Context) {
	n, err := w.payments.ExpireStale(ctx, w.ttl)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WithError(err).Error("Error expiring stale payments")
		}
		return
	}
	if n > 0 {
		w.logger.WithField("expired", n).Info("Expired abandoned payments")
	}
}
