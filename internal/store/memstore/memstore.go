// Package memstore is an in-process implementation of the
// internal/store.Store contract (mutex + maps). It backs unit tests
// and self-hosted single-process deployments where a Redis cluster
// would be overkill — no example repo in the corpus ships an
// in-memory Redis-compatible fake to adopt, so this is a hand-rolled
// test double, not a library gap (see DESIGN.md).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

type entry struct {
	value   string
	expires time.Time // zero means no TTL
}

type zset struct {
	members map[string]float64
}

type list struct {
	values []string
}

// Store is an in-process coordination store.
type Store struct {
	mu      sync.Mutex
	strings map[string]entry
	sets    map[string]map[string]struct{}
	zsets   map[string]*zset
	lists   map[string]*list
	scripts map[string]store.Script

	subsMu sync.Mutex
	subs   map[string][]*subscription

	now func() time.Time
}

// New builds an empty in-process Store with the acquire/heartbeat
// scripts pre-registered.
func New() *Store {
	s := &Store{
		strings: make(map[string]entry),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]*zset),
		lists:   make(map[string]*list),
		scripts: make(map[string]store.Script),
		subs:    make(map[string][]*subscription),
		now:     time.Now,
	}
	s.registerBuiltinScripts()
	return s
}

func (s *Store) expired(e entry) bool {
	return !e.expires.IsZero() && s.now().After(e.expires)
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	if !ok || s.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.strings[key] = entry{value: value, expires: exp}
	return nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.zsets, key)
	delete(s.lists, key)
	return nil
}

func (s *Store) SetAdd(_ context.Context, key string, members ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	added := 0
	for _, m := range members {
		if _, exists := set[m]; !exists {
			set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (s *Store) SetContains(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	_, exists := set[member]
	return exists, nil
}

func (s *Store) SetCard(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets[key]), nil
}

func (s *Store) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SetRem(_ context.Context, key, member string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return 0, nil
	}
	if _, exists := set[member]; exists {
		delete(set, member)
		return 1, nil
	}
	return 0, nil
}

func (s *Store) zsetFor(key string) *zset {
	z, ok := s.zsets[key]
	if !ok {
		z = &zset{members: make(map[string]float64)}
		s.zsets[key] = z
	}
	return z
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zsetFor(key).members[member] = score
	return nil
}

func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64) ([]store.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}
	var out []store.ZMember
	for m, score := range z.members {
		if score >= min && score <= max {
			out = append(out, store.ZMember{Member: m, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out, nil
}

func (s *Store) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		return 0, nil
	}
	removed := 0
	for m, score := range z.members {
		if score >= min && score <= max {
			delete(z.members, m)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) ZScan(_ context.Context, key string, cursor uint64, count int64) (uint64, []store.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		return 0, nil, nil
	}
	all := make([]store.ZMember, 0, len(z.members))
	for m, score := range z.members {
		all = append(all, store.ZMember{Member: m, Score: score})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score < all[j].Score })

	if cursor >= uint64(len(all)) {
		return 0, nil, nil
	}
	end := cursor + uint64(count)
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}
	page := all[cursor:end]
	next := end
	if next >= uint64(len(all)) {
		next = 0
	}
	return next, page, nil
}

func (s *Store) ZRem(_ context.Context, key, member string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		return 0, nil
	}
	if _, exists := z.members[member]; exists {
		delete(z.members, member)
		return 1, nil
	}
	return 0, nil
}

func (s *Store) ZCard(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		return 0, nil
	}
	return len(z.members), nil
}

func (s *Store) listFor(key string) *list {
	l, ok := s.lists[key]
	if !ok {
		l = &list{}
		s.lists[key] = l
	}
	return l
}

func (s *Store) ListPush(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listFor(key)
	l.values = append(l.values, value)
	return nil
}

func (s *Store) ListPop(_ context.Context, key string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok || len(l.values) == 0 {
		return nil, nil
	}
	if n > len(l.values) {
		n = len(l.values)
	}
	out := append([]string(nil), l.values[:n]...)
	l.values = l.values[n:]
	return out, nil
}

func (s *Store) ListLen(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok {
		return 0, nil
	}
	return len(l.values), nil
}

func (s *Store) ListRange(_ context.Context, key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok {
		return nil, nil
	}
	n := len(l.values)
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	return append([]string(nil), l.values[start:stop+1]...), nil
}

func (s *Store) ListRem(_ context.Context, key string, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok {
		return 0, nil
	}
	removed := 0
	out := l.values[:0]
	for _, v := range l.values {
		if v == value {
			removed++
			continue
		}
		out = append(out, v)
	}
	l.values = out
	return removed, nil
}

func (s *Store) RegisterScript(name string, script store.Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = script
}

func (s *Store) RunScript(ctx context.Context, name string, keys []string, args ...any) (any, error) {
	s.mu.Lock()
	script, ok := s.scripts[name]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrScriptNotRegistered(name)
	}
	return script.Run(ctx, keys, args...)
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	if ok {
		e.expires = s.now().Add(ttl)
		s.strings[key] = e
	}
	// Sets/zsets/lists in memstore don't carry TTL metadata individually;
	// process lifetime is the effective bound for tests/self-hosted mode.
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	if !ok || e.expires.IsZero() {
		return -1, nil
	}
	return e.expires.Sub(s.now()), nil
}

func (s *Store) PubSub() store.PubSub { return (*pubsub)(s) }
func (s *Store) Pipeline() store.Pipeline {
	return &pipeline{s: s}
}

func (s *Store) Close() error { return nil }
