package models

import "gorm.io/gorm"

// DefaultFreePosts is the number of posts every account may publish without paying.
const DefaultFreePosts = 3

// Quota sources recorded on QuotaUsage rows.
const (
	QuotaSourcePaid = "paid"
	QuotaSourceFree = "free"
)

// QuotaState holds the post counters of one account.
type QuotaState struct {
	FreeUsed  int `json:"free_used"`
	FreeTotal int `json:"free_total"`
	PaidTotal int `json:"paid_total"`
	PaidUsed  int `json:"paid_used"`
}

// RemainingFree is max(0, FreeTotal-FreeUsed).
func (q QuotaState) RemainingFree() int {
	return nonNegative(q.FreeTotal - q.FreeUsed)
}

// RemainingPaid is max(0, PaidTotal-PaidUsed).
func (q QuotaState) RemainingPaid() int {
	return nonNegative(q.PaidTotal - q.PaidUsed)
}

// Remaining is the total number of posts still available.
func (q QuotaState) Remaining() int {
	return q.RemainingFree() + q.RemainingPaid()
}

// Consume takes one post, paid balance first. It returns the source that was
// charged, or "" when both balances are empty and nothing changed.
func (q *QuotaState) Consume() string {
	if q.RemainingPaid() > 0 {
		q.PaidUsed++
		return QuotaSourcePaid
	}
	if q.RemainingFree() > 0 {
		q.FreeUsed++
		return QuotaSourceFree
	}
	return ""
}

// Credit adds n purchased posts to the paid balance.
func (q *QuotaState) Credit(n int) {
	q.PaidTotal += n
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// QuotaLedger is the persisted, account-keyed quota. Counters are only ever
// changed with conditional SQL increments, see services.QuotaService.
type QuotaLedger struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	FreeUsed  int `gorm:"not null;default:0" json:"free_used"`
	FreeTotal int `gorm:"not null" json:"free_total"`
	PaidTotal int `gorm:"not null;default:0" json:"paid_total"`
	PaidUsed  int `gorm:"not null;default:0" json:"paid_used"`
}

// State returns the counters as a QuotaState.
func (l *QuotaLedger) State() QuotaState {
	return QuotaState{
		FreeUsed:  l.FreeUsed,
		FreeTotal: l.FreeTotal,
		PaidTotal: l.PaidTotal,
		PaidUsed:  l.PaidUsed,
	}
}

// QuotaUsage tracks every consumed post
type QuotaUsage struct {
	gorm.Model
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	Source    string `gorm:"not null" json:"source"` // paid or free
	Action    string `gorm:"not null" json:"action"` // create_listing, ...
	ListingID *uint  `json:"listing_id,omitempty"`
}
