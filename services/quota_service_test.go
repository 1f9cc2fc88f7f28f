package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lwie/models"
)

func TestQuotaStatusDefaultsOnFirstRead(t *testing.T) {
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	user := createUser(t, db, "abebe@example.com")

	status, err := svc.GetStatus(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, models.QuotaState{FreeTotal: 3}, status.QuotaState)
	assert.Equal(t, 3, status.RemainingFree)
	assert.Equal(t, 0, status.RemainingPaid)

	// A second read must not create a second ledger.
	_, err = svc.GetStatus(context.Background(), user.ID)
	require.NoError(t, err)
	var count int64
	db.Model(&models.QuotaLedger{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestConsumeFreePostsUntilExhausted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	user := createUser(t, db, "abebe@example.com")

	for i := 0; i < 3; i++ {
		_, err := svc.Consume(ctx, user.ID, "create_listing", nil)
		require.NoError(t, err)
	}
	status, err := svc.GetStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.RemainingFree)
	assert.Equal(t, 0, status.RemainingPaid)

	before := status.QuotaState
	status, err = svc.Consume(ctx, user.ID, "create_listing", nil)
	assert.True(t, errors.Is(err, ErrQuotaExhausted))
	assert.Equal(t, before, status.QuotaState, "exhausted consume must not change state")

	var usages int64
	db.Model(&models.QuotaUsage{}).Where("user_id = ?", user.ID).Count(&usages)
	assert.Equal(t, int64(3), usages)
}

func TestCreditThenConsumePrefersPaid(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	user := createUser(t, db, "abebe@example.com")

	status, err := svc.Credit(ctx, user.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, status.PaidTotal)
	assert.Equal(t, 0, status.PaidUsed)
	assert.Equal(t, 0, status.FreeUsed)

	status, err = svc.Consume(ctx, user.ID, "create_listing", nil)
	require.NoError(t, err)
	assert.Equal(t, 6, status.RemainingPaid)
	assert.Equal(t, 3, status.RemainingFree)

	var usage models.QuotaUsage
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&usage).Error)
	assert.Equal(t, models.QuotaSourcePaid, usage.Source)
}

func TestCreditRejectsNonPositive(t *testing.T) {
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	user := createUser(t, db, "abebe@example.com")

	for _, n := range []int{0, -4} {
		_, err := svc.Credit(context.Background(), user.ID, n)
		assert.ErrorIs(t, err, ErrInvalidCredit)
	}
	status, err := svc.GetStatus(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PaidTotal)
}

func TestCreditLeavesUsedCountersUnchanged(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	user := createUser(t, db, "abebe@example.com")

	_, err := svc.Consume(ctx, user.ID, "create_listing", nil)
	require.NoError(t, err)
	before, err := svc.GetStatus(ctx, user.ID)
	require.NoError(t, err)

	after, err := svc.Credit(ctx, user.ID, 20)
	require.NoError(t, err)

	assert.Equal(t, before.PaidTotal+20, after.PaidTotal)
	assert.Equal(t, before.PaidUsed, after.PaidUsed)
	assert.Equal(t, before.FreeUsed, after.FreeUsed)
	assert.Equal(t, before.FreeTotal, after.FreeTotal)
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	user := createUser(t, db, "abebe@example.com")
	_, err := svc.Credit(ctx, user.ID, 2)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(ctx, user.ID, "create_listing", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrQuotaExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, exhausted)

	status, err := svc.GetStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuotaState{FreeUsed: 3, FreeTotal: 3, PaidTotal: 2, PaidUsed: 2}, status.QuotaState)
}

func TestQuotaLedgerIsPerAccount(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewQuotaService(db, models.DefaultFreePosts, newTestLogger())
	alice := createUser(t, db, "alice@example.com")
	bob := createUser(t, db, "bob@example.com")

	_, err := svc.Credit(ctx, alice.ID, 3)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, bob.ID, "create_listing", nil)
	require.NoError(t, err)

	a, err := svc.GetStatus(ctx, alice.ID)
	require.NoError(t, err)
	b, err := svc.GetStatus(ctx, bob.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, a.RemainingPaid)
	assert.Equal(t, 3, a.RemainingFree)
	assert.Equal(t, 0, b.RemainingPaid)
	assert.Equal(t, 2, b.RemainingFree)
}
