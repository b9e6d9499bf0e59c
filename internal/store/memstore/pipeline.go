package memstore

import (
	"context"
	"time"
)

type pipelineOp struct {
	kind    string // "set" | "setAdd" | "expire"
	key     string
	value   string
	members []string
	ttl     time.Duration
}

// pipeline batches unrelated writes without atomicity, per spec.md
// §4.A's "exposes a pipeline() to batch unrelated writes" contract.
type pipeline struct {
	s  *Store
	ops []pipelineOp
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
	for _, op := range p.ops {
		switch op.kind {
		case "set":
			if err := p.s.Set(ctx, op.key, op.value, op.ttl); err != nil {
				return err
			}
		case "setAdd":
			if _, err := p.s.SetAdd(ctx, op.key, op.members...); err != nil {
				return err
			}
		case "expire":
			if err := p.s.Expire(ctx, op.key, op.ttl); err != nil {
				return err
			}
		}
	}
	p.ops = nil
	return nil
}
