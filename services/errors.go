package services

import "errors"

var (
	// ErrQuotaExhausted is returned by Consume when neither the paid nor the
	// free balance has a post left. The ledger is left unchanged.
	ErrQuotaExhausted = errors.New("post quota exhausted")
	// ErrInvalidCredit is returned when crediting a non-positive number of posts.
	ErrInvalidCredit = errors.New("credit must be a positive number of posts")

	ErrInvalidPayment      = errors.New("invalid payment request")
	ErrUnknownPlan         = errors.New("unknown payment plan")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReceiptUnavailable  = errors.New("receipt not available")

	// ErrProvider means the payment provider answered but rejected the call
	// or returned something we could not understand.
	ErrProvider = errors.New("payment provider error")
	// ErrProviderUnavailable means the provider could not be reached or timed
	// out. The caller may retry.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)
