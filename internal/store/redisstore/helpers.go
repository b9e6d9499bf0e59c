package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseScore(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func toZMembers(zs []redis.Z) []store.ZMember {
	out := make([]store.ZMember, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out[i] = store.ZMember{Member: member, Score: z.Score}
	}
	return out
}

type pubsub struct {
	client redis.UniversalClient
}

type subscription struct {
	ps  *redis.PubSub
	ch  chan store.Message
	done chan struct{}
}

func (s *subscription) Channel() <-chan store.Message { return s.ch }

func (s *subscription) Close() error {
	close(s.done)
	return s.ps.Close()
}

func (p *pubsub) Publish(ctx context.Context, channel string, payload string) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

func (p *pubsub) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	rps := p.client.Subscribe(ctx, channel)
	sub := &subscription{ps: rps, ch: make(chan store.Message, 32), done: make(chan struct{})}
	go func() {
		for msg := range rps.Channel() {
			select {
			case sub.ch <- store.Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

type pipelineOp struct {
	kind    string
	key     string
	value   string
	members []string
	ttl     time.Duration
}

type pipeline struct {
	client redis.UniversalClient
	ctx    context.Context
	ops    []pipelineOp
}

func (p *pipeline) Set(key string, value string, ttl time.Duration) {
	p.ops = append(p.ops, pipelineOp{kind: "set", key: key, value: value, ttl: ttl})
}

func (p *pipeline) SetAdd(key string, members ...string) {
	p.ops = append(p.ops, pipelineOp{kind: "setAdd", key: key, members: members})
}

func (p *pipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, pipelineOp{kind: "expire", key: key, ttl: ttl})
}

func (p *pipeline) Exec(ctx context.Context) error {
	pipe := p.client.Pipeline()
	for _, op := range p.ops {
		switch op.kind {
		case "set":
			pipe.Set(ctx, op.key, op.value, op.ttl)
		case "setAdd":
			anyMembers := make([]interface{}, len(op.members))
			for i, m := range op.members {
				anyMembers[i] = m
			}
			pipe.SAdd(ctx, op.key, anyMembers...)
		case "expire":
			pipe.Expire(ctx, op.key, op.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	p.ops = nil
	return err
}
