package semaphore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

// TestScenario1SemaphoreGrant is spec.md §8 scenario 1: tenant limit=2,
// two acquires granted, a third times out, release frees a slot.
func TestScenario1SemaphoreGrant(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := New(st, time.Minute)

	r1, err := sem.Acquire(ctx, "T", "H1", 2)
	require.NoError(t, err)
	assert.True(t, r1.Granted)

	r2, err := sem.Acquire(ctx, "T", "H2", 2)
	require.NoError(t, err)
	assert.True(t, r2.Granted)

	_, err = sem.acquireWithBackoff(ctx, "T", "H3", 2, 50*time.Millisecond)
	require.Error(t, err)
	terr, ok := err.(*jobs.Error)
	require.True(t, ok)
	assert.Equal(t, jobs.ErrScrapeTimeout, terr.Code)

	sem.Release(ctx, "T", "H1")

	r3, err := sem.Acquire(ctx, "T", "H3", 2)
	require.NoError(t, err)
	assert.True(t, r3.Granted)
}

// TestScenario2LeaseReclaim is spec.md §8 scenario 2: an un-heartbeated
// lease becomes reclaimable after its TTL expires.
func TestScenario2LeaseReclaim(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := New(st, 100*time.Millisecond)

	r1, err := sem.Acquire(ctx, "T", "H1", 1)
	require.NoError(t, err)
	assert.True(t, r1.Granted)

	time.Sleep(150 * time.Millisecond)

	r2, err := sem.Acquire(ctx, "T", "H2", 1)
	require.NoError(t, err)
	assert.True(t, r2.Granted)
	assert.GreaterOrEqual(t, r2.Removed, 1)

	ok, err := sem.Heartbeat(ctx, "T", "H1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithSemaphoreGrantsAndReleases(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := New(st, time.Minute)

	var ran bool
	val, err := sem.WithSemaphore(ctx, "T", "H1", 1, time.Second, func(ctx context.Context, limited bool) (any, error) {
		ran = true
		assert.False(t, limited)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "ok", val)

	card, err := st.ZCard(ctx, "sem:T")
	require.NoError(t, err)
	assert.Equal(t, 0, card)
}

func TestWithSemaphoreSelfHostedBypasses(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := New(st, time.Minute, WithSelfHosted(true))

	val, err := sem.WithSemaphore(ctx, "T", "H1", 0, time.Second, func(ctx context.Context, limited bool) (any, error) {
		assert.False(t, limited)
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}
