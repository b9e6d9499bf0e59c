// Package ratelimit provides per-host politeness pacing for the
// default scraping engine. Generalized from the teacher's
// AcademicRateLimiter (one fixed interval per named academic source)
// into a limiter keyed by arbitrary host, with a per-host interval
// that robots.txt's Crawl-Delay can override at runtime.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultInterval = 500 * time.Millisecond
	maxBackoff      = 5 * time.Minute
)

type hostState struct {
	lastRequestTime time.Time
	interval        time.Duration
	backoffUntil    time.Time
	errorCount      int
}

// HostLimiter paces requests to each host independently, honoring a
// per-host minimum interval (set from robots.txt's Crawl-Delay, if
// any) and backing off linearly on repeated errors.
type HostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostState
}

// NewHostLimiter builds an empty HostLimiter; hosts are registered
// lazily on first Wait/SetInterval call with defaultInterval.
func NewHostLimiter() *HostLimiter {
	return &HostLimiter{hosts: make(map[string]*hostState)}
}

// SetInterval overrides the minimum spacing between requests to host,
// e.g. from robots.txt's Crawl-Delay directive.
func (l *HostLimiter) SetInterval(host string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateLocked(host).interval = interval
}

func (l *HostLimiter) stateLocked(host string) *hostState {
	s, ok := l.hosts[host]
	if !ok {
		s = &hostState{interval: defaultInterval}
		l.hosts[host] = s
	}
	return s
}

// Wait blocks until it is polite to issue the next request to host,
// respecting both the configured interval and any active backoff.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	for {
		l.mu.Lock()
		s := l.stateLocked(host)
		now := time.Now()

		var wait time.Duration
		if now.Before(s.backoffUntil) {
			wait = s.backoffUntil.Sub(now)
		} else if since := now.Sub(s.lastRequestTime); since < s.interval {
			wait = s.interval - since
		}

		if wait <= 0 {
			s.lastRequestTime = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RecordError tracks a fetch failure for host. From the fourth
// consecutive error on, it backs off for errorCount × 30s (capped at
// maxBackoff).
func (l *HostLimiter) RecordError(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateLocked(host)
	s.errorCount++
	if s.errorCount > 3 {
		backoff := time.Duration(s.errorCount) * 30 * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		s.backoffUntil = time.Now().Add(backoff)
	}
}

// RecordSuccess resets host's error count after a successful fetch.
func (l *HostLimiter) RecordSuccess(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateLocked(host).errorCount = 0
}
