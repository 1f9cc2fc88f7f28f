package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lwie/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(u).Error)
	return u
}

// fakeProvider is a scripted PaymentProvider.
type fakeProvider struct {
	mu sync.Mutex

	session     *CheckoutSession
	initErr     error
	verify      *ProviderVerification
	verifyErr   error
	initCalls   []CheckoutRequest
	verifyCalls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Initialize(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls = append(f.initCalls, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.session != nil {
		return f.session, nil
	}
	return &CheckoutSession{CheckoutURL: "https://checkout.example/pay/" + req.TxRef}, nil
}

func (f *fakeProvider) Verify(context.Context, string, string) (*ProviderVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	v := *f.verify
	return &v, nil
}

type recordingPublisher struct {
	events []PaymentCreditedEvent
	err    error
}

func (r *recordingPublisher) PublishPaymentCredited(_ context.Context, e PaymentCreditedEvent) error {
	r.events = append(r.events, e)
	return r.err
}

type recordingReceipts struct {
	sent []models.ReceiptRecord
	to   []string
}

func (r *recordingReceipts) SendReceipt(_ context.Context, to string, receipt models.ReceiptRecord) error {
	r.to = append(r.to, to)
	r.sent = append(r.sent, receipt)
	return nil
}
