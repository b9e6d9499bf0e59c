package memstore

import (
	"context"
	"fmt"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

// memScript adapts a Go closure to the store.Script interface so the
// two atomic primitives internal/semaphore needs (acquire, heartbeat) can run in-process under the Store's own lock
// instead of round-tripping through Redis's EVALSHA — same contract,
// native implementation.
type memScript struct {
	fn func(ctx context.Context, keys []string, args ...any) (any, error)
}

func (m *memScript) Run(ctx context.Context, keys []string, args ...any) (any, error) {
	return m.fn(ctx, keys, args...)
}

func (s *Store) registerBuiltinScripts() {
	s.scripts["acquire"] = &memScript{fn: s.runAcquire}
	s.scripts["heartbeat"] = &memScript{fn: s.runHeartbeat}
}

// runAcquire implements spec.md §4.B acquire: remove expired leases,
// check capacity, add if room. keys=[semKey], args=[holderID, limit,
// ttlMs, nowMs].
func (s *Store) runAcquire(_ context.Context, keys []string, args ...any) (any, error) {
	if len(keys) != 1 || len(args) != 4 {
		return nil, fmt.Errorf("memstore: acquire wants 1 key + 4 args")
	}
	key := keys[0]
	holderID := args[0].(string)
	limit := args[1].(int)
	ttlMs := args[2].(int64)
	nowMs := args[3].(int64)

	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.zsetFor(key)
	removed := 0
	for member, score := range z.members {
		if score < float64(nowMs) {
			delete(z.members, member)
			removed++
		}
	}

	count := len(z.members)
	if count >= limit {
		return store.AcquireResult{Granted: false, Count: count, Removed: removed}, nil
	}

	z.members[holderID] = float64(nowMs + ttlMs)
	return store.AcquireResult{Granted: true, Count: count + 1, Removed: removed}, nil
}

// runHeartbeat implements spec.md §4.B heartbeat: refresh only if the
// holder is still present. keys=[semKey], args=[holderID, ttlMs, nowMs].
func (s *Store) runHeartbeat(_ context.Context, keys []string, args ...any) (any, error) {
	if len(keys) != 1 || len(args) != 3 {
		return nil, fmt.Errorf("memstore: heartbeat wants 1 key + 3 args")
	}
	key := keys[0]
	holderID := args[0].(string)
	ttlMs := args[1].(int64)
	nowMs := args[2].(int64)

	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.zsetFor(key)
	if _, present := z.members[holderID]; !present {
		return false, nil
	}
	z.members[holderID] = float64(nowMs + ttlMs)
	return true, nil
}
