// Package semaphore implements the per-tenant, lease-based
// concurrency admission protocol (spec.md §4.B): acquire, heartbeat,
// release, and the withSemaphore helper that ties them together
// around a unit of work. The exponential-backoff acquire-retry loop
// is generalized from the teacher's
// internal/procurement/scraping/rate_limiter.go TokenBucket/
// DomainLimiter style — an in-process rate limiter's backoff-and-retry
// shape, adapted here into a distributed acquire loop against
// internal/store.
package semaphore

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

const (
	backoffBase = 25 * time.Millisecond
	backoffMax  = 250 * time.Millisecond
	jitterFrac  = 0.25
)

// Metrics is the narrow set of optional callbacks installed with
// WithMetrics (spec.md §4.B: "active-lease gauge, acquire-duration
// histogram, hold-duration histogram"). internal/api's
// /debug/semaphore route does not read them.
type Metrics struct {
	ActiveLeases    func(tenantID string, delta int)
	AcquireDuration func(tenantID string, d time.Duration)
	HoldDuration    func(tenantID string, d time.Duration)
}

func (m *Metrics) activeLeases(tenantID string, delta int) {
	if m != nil && m.ActiveLeases != nil {
		m.ActiveLeases(tenantID, delta)
	}
}

func (m *Metrics) acquireDuration(tenantID string, d time.Duration) {
	if m != nil && m.AcquireDuration != nil {
		m.AcquireDuration(tenantID, d)
	}
}

func (m *Metrics) holdDuration(tenantID string, d time.Duration) {
	if m != nil && m.HoldDuration != nil {
		m.HoldDuration(tenantID, d)
	}
}

// Semaphore is the per-tenant distributed concurrency admission gate.
type Semaphore struct {
	store        store.Store
	ttl          time.Duration
	selfHosted   bool
	metrics      *Metrics
	nowFn        func() time.Time
}

// Option configures a Semaphore.
type Option func(*Semaphore)

// WithMetrics wires counters for active-lease gauge and acquire/hold
// duration histograms.
func WithMetrics(m *Metrics) Option {
	return func(s *Semaphore) { s.metrics = m }
}

// WithSelfHosted bypasses acquire/heartbeat/release entirely — spec.md
// §4.B point 4's "self-hosted mode" boolean config, for single-tenant
// deployments with no coordination store.
func WithSelfHosted(selfHosted bool) Option {
	return func(s *Semaphore) { s.selfHosted = selfHosted }
}

// New builds a Semaphore. ttl is the lease lifetime; heartbeat fires
// at ttl/2.
func New(st store.Store, ttl time.Duration, opts ...Option) *Semaphore {
	s := &Semaphore{store: st, ttl: ttl, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire runs spec.md §4.B's acquire script once: remove expired
// leases, check capacity, add if there's room.
func (s *Semaphore) Acquire(ctx context.Context, tenantID, holderID string, limit int) (store.AcquireResult, error) {
	nowMs := s.nowFn().UnixMilli()
	res, err := s.store.RunScript(ctx, "acquire", []string{store.SemaphoreKey(tenantID)},
		holderID, limit, s.ttl.Milliseconds(), nowMs)
	if err != nil {
		return store.AcquireResult{}, err
	}
	ar, ok := res.(store.AcquireResult)
	if !ok {
		return store.AcquireResult{}, jobs.NewError(jobs.ErrUnknown, "semaphore: unexpected acquire result type")
	}
	return ar, nil
}

// Heartbeat refreshes a held lease. Returns false if the holder was
// already reclaimed — the caller has lost its lease and must abort.
func (s *Semaphore) Heartbeat(ctx context.Context, tenantID, holderID string) (bool, error) {
	nowMs := s.nowFn().UnixMilli()
	res, err := s.store.RunScript(ctx, "heartbeat", []string{store.SemaphoreKey(tenantID)},
		holderID, s.ttl.Milliseconds(), nowMs)
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// Release best-effort removes a held lease.
func (s *Semaphore) Release(ctx context.Context, tenantID, holderID string) {
	if _, err := s.store.ZRem(ctx, store.SemaphoreKey(tenantID), holderID); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Str("holderId", holderID).Msg("semaphore: release failed")
	}
}

// WorkFunc is the unit of work run while a lease is held. limited
// reports whether any prior acquire attempt was denied before this
// grant — callers use it to annotate the response as having been
// queued/limited.
type WorkFunc func(ctx context.Context, limited bool) (any, error)

// WithSemaphore implements spec.md §4.B's full protocol: backoff-retry
// acquire, heartbeat loop racing fn, guaranteed release.
func (s *Semaphore) WithSemaphore(ctx context.Context, tenantID, holderID string, limit int, timeout time.Duration, fn WorkFunc) (any, error) {
	if s.selfHosted {
		return fn(ctx, false)
	}

	acquireStart := s.nowFn()
	limited, err := s.acquireWithBackoff(ctx, tenantID, holderID, limit, timeout)
	s.metrics.acquireDuration(tenantID, s.nowFn().Sub(acquireStart))
	if err != nil {
		return nil, err
	}

	s.metrics.activeLeases(tenantID, 1)
	holdStart := s.nowFn()
	defer func() {
		s.Release(ctx, tenantID, holderID)
		s.metrics.activeLeases(tenantID, -1)
		s.metrics.holdDuration(tenantID, s.nowFn().Sub(holdStart))
	}()

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()

	lost := make(chan struct{})
	go s.heartbeatLoop(hbCtx, tenantID, holderID, lost)

	type fnResult struct {
		val any
		err error
	}
	done := make(chan fnResult, 1)
	go func() {
		v, e := fn(ctx, limited)
		done <- fnResult{v, e}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-lost:
		return nil, jobs.NewError(jobs.ErrScrapeTimeout, "semaphore lease lost to reclaim")
	case <-ctx.Done():
		return nil, jobs.NewError(jobs.ErrScrapeTimeout, "context cancelled while holding lease")
	}
}

func (s *Semaphore) heartbeatLoop(ctx context.Context, tenantID, holderID string, lost chan<- struct{}) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.Heartbeat(ctx, tenantID, holderID)
			if err != nil {
				log.Warn().Err(err).Str("tenantId", tenantID).Msg("semaphore: heartbeat error")
				continue
			}
			if !ok {
				select {
				case lost <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// acquireWithBackoff loops acquire with exponential backoff (base
// 25ms, max 250ms, ±25% jitter) until granted, cancelled, or timeout.
func (s *Semaphore) acquireWithBackoff(ctx context.Context, tenantID, holderID string, limit int, timeout time.Duration) (bool, error) {
	deadline := s.nowFn().Add(timeout)
	backoff := backoffBase
	limited := false

	for {
		res, err := s.Acquire(ctx, tenantID, holderID, limit)
		if err != nil {
			return limited, err
		}
		if res.Granted {
			return limited, nil
		}
		limited = true

		if s.nowFn().After(deadline) {
			return limited, jobs.NewError(jobs.ErrScrapeTimeout, "semaphore acquire timed out")
		}

		jittered := jitter(backoff)
		remaining := deadline.Sub(s.nowFn())
		select {
		case <-ctx.Done():
			return limited, jobs.NewError(jobs.ErrScrapeTimeout, "semaphore acquire cancelled")
		case <-time.After(minDuration(jittered, remaining)):
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFrac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
