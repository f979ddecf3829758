// Package ingress drives one source side's adapter: it subscribes to the
// source address of every mapping whose source side is this side and whose
// direction allows A->B traffic, resolves each observed value against the
// mapping registry, and enqueues one message per matching route. Traffic in
// the B->A direction is not picked up: a mapping's destination address is
// never subscribed. Type/schema transformation happens on the egress side,
// right before delivery.
package ingress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/adapter"
	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/mapping"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/obs"
)

// Runner owns one side's Source adapter and its subscriptions. Values are
// enqueued as observed; the mapping's transform is applied by the egress
// worker for the destination side, not here, so a transform failure can
// still retry/dead-letter through the normal buffer lifecycle instead of
// being silently dropped before it ever reaches the buffer.
type Runner struct {
	side     message.Side
	source   adapter.Source
	registry *mapping.Registry
	buf      *buffer.Buffer
	log      *zap.Logger
}

func New(side message.Side, source adapter.Source, registry *mapping.Registry, buf *buffer.Buffer, log *zap.Logger) *Runner {
	return &Runner{side: side, source: source, registry: registry, buf: buf, log: log}
}

// Run subscribes to every distinct source address pattern configured for
// this side and blocks until ctx is canceled. Individual subscription
// failures are retried with backoff rather than aborting the whole runner,
// so one misconfigured mapping does not take the other sides down with it.
func (r *Runner) Run(ctx context.Context) error {
	patterns := r.distinctPatterns()
	if len(patterns) == 0 {
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	for _, pattern := range patterns {
		pattern := pattern
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runSubscription(ctx, pattern)
		}()
	}
	wg.Wait()
	return nil
}

func (r *Runner) runSubscription(ctx context.Context, pattern string) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.source.Subscribe(ctx, pattern, r.handle)
		if ctx.Err() != nil {
			return
		}
		if err != nil && r.log != nil {
			r.log.Warn("ingress subscription failed, retrying",
				obs.String("side", string(r.side)), obs.String("pattern", pattern), obs.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (r *Runner) distinctPatterns() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range r.registry.All() {
		if e.SourceSide != r.side {
			continue
		}
		if !e.Direction.Allows(true) {
			continue
		}
		if !seen[e.SourceAddress] {
			seen[e.SourceAddress] = true
			out = append(out, e.SourceAddress)
		}
	}
	return out
}

func (r *Runner) handle(ctx context.Context, address string, raw []byte) error {
	matches := r.registry.Resolve(r.side, address)
	if len(matches) == 0 {
		return nil
	}

	var firstErr error
	for _, m := range matches {
		msg := message.Message{
			Source:      m.SourceSide,
			Destination: m.DestinationSide,
			TopicOrNode: m.DestinationAddress,
			MappingID:   m.ID,
			Value:       raw,
			DataType:    m.DataType,
			Priority:    m.Priority,
			MaxRetries:  0,
		}
		if _, err := r.buf.Enqueue(ctx, msg); err != nil {
			if r.log != nil {
				r.log.Warn("enqueue rejected ingress value",
					obs.String("mapping_id", m.ID), obs.Err(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("ingress handle %s: %w", address, firstErr)
	}
	return nil
}
