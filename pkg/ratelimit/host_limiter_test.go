package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterWaitPaces(t *testing.T) {
	l := NewHostLimiter()
	l.SetInterval("example.com", 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "example.com"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestHostLimiterIndependentHosts(t *testing.T) {
	l := NewHostLimiter()
	l.SetInterval("a.com", time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.com"))
	// b.com has never been seen and uses the default interval, so it
	// must not be blocked by a.com's hour-long spacing.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.com"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiterBackoffAfterErrors(t *testing.T) {
	l := NewHostLimiter()
	for i := 0; i < 4; i++ {
		l.RecordError("flaky.com")
	}

	l.mu.Lock()
	backoffUntil := l.hosts["flaky.com"].backoffUntil
	l.mu.Unlock()
	assert.True(t, backoffUntil.After(time.Now()))

	l.RecordSuccess("flaky.com")
	l.mu.Lock()
	errCount := l.hosts["flaky.com"].errorCount
	l.mu.Unlock()
	assert.Equal(t, 0, errCount)
}
