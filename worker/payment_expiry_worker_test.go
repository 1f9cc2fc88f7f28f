package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type countingExpirer struct {
	mu    sync.Mutex
	calls int
	ttls  []time.Duration
	err   error
}

func (c *countingExpirer) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.ttls = append(c.ttls, ttl)
	return 1, c.err
}

func (c *countingExpirer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPaymentExpiryWorkerSweepsUntilCanceled(t *testing.T) {
	expirer := &countingExpirer{}
	w := NewPaymentExpiryWorker(expirer, time.Hour, 10*time.Millisecond, quietLogger())
	w.initialDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return expirer.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	expirer.mu.Lock()
	defer expirer.mu.Unlock()
	for _, ttl := range expirer.ttls {
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestPaymentExpiryWorkerSurvivesErrors(t *testing.T) {
	expirer := &countingExpirer{err: errors.New("db down")}
	w := NewPaymentExpiryWorker(expirer, time.Hour, 5*time.Millisecond, quietLogger())
	w.initialDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	assert.Eventually(t, func() bool { return expirer.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestPaymentExpiryWorkerStopsDuringInitialDelay(t *testing.T) {
	expirer := &countingExpirer{}
	w := NewPaymentExpiryWorker(expirer, time.Hour, time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	assert.Zero(t, expirer.count())
}
