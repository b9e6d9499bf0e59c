// Package store defines the coordination store gateway (spec.md
// §4.A): the one abstraction all cross-process state flows through.
// Semaphore leases, tenant waiting queues, and crawl bookkeeping are
// all expressed in terms of this contract so they can run against
// either a Redis-backed production store or an in-process store for
// tests and self-hosted deployments.
package store

import (
	"context"
	"fmt"
	"time"
)

// ErrScriptNotRegistered reports a RunScript call for a name no
// backend has registered — a programmer error, not a runtime one.
func ErrScriptNotRegistered(name string) error {
	return fmt.Errorf("store: script %q is not registered", name)
}

// AcquireResult is the (granted, count, removed) tuple spec.md §4.B's
// acquire script returns, normalized to the same shape across the
// redisstore and memstore backends.
type AcquireResult struct {
	Granted bool
	Count   int
	Removed int
}

// ZMember is one member of a sorted set, paired with its score.
type ZMember struct {
	Member string
	Score  float64
}

// Message is one item delivered to a PubSub subscription.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub subscription returned by Subscribe.
type Subscription interface {
	// Channel streams incoming messages until the subscription is closed.
	Channel() <-chan Message
	Close() error
}

// PubSub is the coordination store's publish/subscribe facet, used by
// internal/crawltracker to broadcast lifecycle events.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Script is a named server-side atomic multi-op primitive (spec.md
// §9: "do not attempt to reconstruct these protocols with client-side
// read-modify-write loops"). internal/semaphore is the only caller.
type Script interface {
	// Run executes the script against the given keys and args, returning
	// its raw result for the caller to type-assert.
	Run(ctx context.Context, keys []string, args ...any) (any, error)
}

// Pipeline batches unrelated writes without atomicity guarantees
// (spec.md §4.A: "exposes a pipeline() to batch unrelated writes").
type Pipeline interface {
	Set(key string, value string, ttl time.Duration)
	SetAdd(key string, members ...string)
	Expire(key string, ttl time.Duration)
	Exec(ctx context.Context) error
}

// Store is the full coordination store gateway contract (spec.md §4.A).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	SetAdd(ctx context.Context, key string, members ...string) (int, error)
	SetContains(ctx context.Context, key, member string) (bool, error)
	SetCard(ctx context.Context, key string) (int, error)
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRem(ctx context.Context, key string, member string) (int, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int, error)
	ZScan(ctx context.Context, key string, cursor uint64, count int64) (uint64, []ZMember, error)
	ZRem(ctx context.Context, key, member string) (int, error)
	ZCard(ctx context.Context, key string) (int, error)

	ListPush(ctx context.Context, key string, value string) error
	ListPop(ctx context.Context, key string, n int) ([]string, error)
	ListLen(ctx context.Context, key string) (int, error)
	ListRange(ctx context.Context, key string, start, stop int) ([]string, error)
	ListRem(ctx context.Context, key string, value string) (int, error)

	// RunScript executes a named server-side atomic script. Scripts are
	// registered ahead of time by name via RegisterScript; unregistered
	// names are a programmer error.
	RunScript(ctx context.Context, name string, keys []string, args ...any) (any, error)
	RegisterScript(name string, script Script)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	PubSub() PubSub
	Pipeline() Pipeline

	Close() error
}
