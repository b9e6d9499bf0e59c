package memstore

import (
	"context"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

type pubsub Store

type subscription struct {
	ch     chan store.Message
	closed chan struct{}
}

func (s *subscription) Channel() <-chan store.Message { return s.ch }

func (s *subscription) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (p *pubsub) Publish(_ context.Context, channel string, payload string) error {
	s := (*Store)(p)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs[channel] {
		select {
		case sub.ch <- store.Message{Channel: channel, Payload: payload}:
		case <-sub.closed:
		default:
			// Slow subscriber: drop rather than block the publisher,
			// matching the teacher's non-blocking eventbus delivery.
		}
	}
	return nil
}

func (p *pubsub) Subscribe(_ context.Context, channel string) (store.Subscription, error) {
	s := (*Store)(p)
	sub := &subscription{ch: make(chan store.Message, 32), closed: make(chan struct{})}
	s.subsMu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.subsMu.Unlock()
	return sub, nil
}
