// Package redisstore implements internal/store.Store over
// github.com/redis/go-redis/v9 — the production coordination
// backend. runScript is implemented with redis.Script (EVALSHA with
// automatic EVAL fallback on NOSCRIPT), go-redis's idiomatic
// wrapper for exactly the server-side atomic primitive spec.md §4.A
// and §9 require.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

// Store is a Redis-backed coordination store.
type Store struct {
	client  redis.UniversalClient
	scripts map[string]*redis.Script
}

// New builds a Store over an already-configured redis client (single
// node, sentinel, or cluster — any redis.UniversalClient) with the
// acquire/heartbeat scripts pre-loaded.
func New(client redis.UniversalClient) *Store {
	s := &Store{client: client, scripts: make(map[string]*redis.Script)}
	s.registerBuiltinScripts()
	return s
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) (int, error) {
	anyMembers := make([]interface{}, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	n, err := s.client.SAdd(ctx, key, anyMembers...).Result()
	return int(n), err
}

func (s *Store) SetContains(ctx context.Context, key, member string) (bool, error) {
	return s.client.SIsMember(ctx, key, member).Result()
}

func (s *Store) SetCard(ctx context.Context, key string) (int, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return int(n), err
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *Store) SetRem(ctx context.Context, key string, member string) (int, error) {
	n, err := s.client.SRem(ctx, key, member).Result()
	return int(n), err
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]store.ZMember, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	return toZMembers(zs), nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int, error) {
	n, err := s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	return int(n), err
}

func (s *Store) ZScan(ctx context.Context, key string, cursor uint64, count int64) (uint64, []store.ZMember, error) {
	keysAndScores, next, err := s.client.ZScan(ctx, key, cursor, "", count).Result()
	if err != nil {
		return 0, nil, err
	}
	members := make([]store.ZMember, 0, len(keysAndScores)/2)
	for i := 0; i+1 < len(keysAndScores); i += 2 {
		score, _ := parseScore(keysAndScores[i+1])
		members = append(members, store.ZMember{Member: keysAndScores[i], Score: score})
	}
	return next, members, nil
}

func (s *Store) ZRem(ctx context.Context, key, member string) (int, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	return int(n), err
}

func (s *Store) ZCard(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return int(n), err
}

func (s *Store) ListPush(ctx context.Context, key string, value string) error {
	return s.client.RPush(ctx, key, value).Err()
}

func (s *Store) ListPop(ctx context.Context, key string, n int) ([]string, error) {
	vals, err := s.client.LPopCount(ctx, key, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return vals, err
}

func (s *Store) ListLen(ctx context.Context, key string) (int, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return int(n), err
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	return s.client.LRange(ctx, key, int64(start), int64(stop)).Result()
}

func (s *Store) ListRem(ctx context.Context, key string, value string) (int, error) {
	n, err := s.client.LRem(ctx, key, 0, value).Result()
	return int(n), err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *Store) RegisterScript(name string, script store.Script) {
	if rs, ok := script.(*scriptAdapter); ok {
		s.scripts[name] = rs.script
	}
}

func (s *Store) PubSub() store.PubSub     { return &pubsub{client: s.client} }
func (s *Store) Pipeline() store.Pipeline { return &pipeline{client: s.client, ctx: context.Background()} }

func (s *Store) Close() error { return s.client.Close() }
