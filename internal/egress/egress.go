// Package egress implements per-destination worker pools (C6): each pool
// leases a batch of messages bound for its destination side, applies them
// through that side's Sink adapter behind a circuit breaker, and reports
// the outcome back to the buffer.
package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/adapter"
	"github.com/flyingrobots/protocol-bridge/internal/breaker"
	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/mapping"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/obs"
	"github.com/flyingrobots/protocol-bridge/internal/transform"
)

// Pool drains messages addressed to one destination side through sink,
// wrapping every adapter call with a breaker so a stalled destination
// cannot starve the worker threads of the whole bridge.
type Pool struct {
	destination message.Side
	sink        adapter.Sink
	buf         *buffer.Buffer
	brk         *breaker.Breaker
	registry    *mapping.Registry
	transform   *transform.Transformer
	log         *zap.Logger

	workers   int
	batchSize int
	pollEvery time.Duration

	onConsecutiveFailures func(count int)
	failureStreak         int
}

type Option func(*Pool)

func WithWorkers(n int) Option     { return func(p *Pool) { p.workers = n } }
func WithBatchSize(n int) Option   { return func(p *Pool) { p.batchSize = n } }
func WithPollEvery(d time.Duration) Option { return func(p *Pool) { p.pollEvery = d } }
func WithFailureStreakHook(fn func(count int)) Option {
	return func(p *Pool) { p.onConsecutiveFailures = fn }
}

func New(destination message.Side, sink adapter.Sink, buf *buffer.Buffer, brk *breaker.Breaker, registry *mapping.Registry, tr *transform.Transformer, log *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		destination: destination,
		sink:        sink,
		buf:         buf,
		brk:         brk,
		registry:    registry,
		transform:   tr,
		log:         log,
		workers:     1,
		batchSize:   10,
		pollEvery:   200 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run starts the configured number of worker goroutines and blocks until
// ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	done := make(chan struct{}, p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			p.loop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.workers; i++ {
		<-done
	}
	return nil
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

func (p *Pool) drainOnce(ctx context.Context) {
	batch, err := p.buf.LeaseBatch(ctx, p.batchSize, "", p.destination)
	if err != nil {
		if p.log != nil {
			p.log.Error("lease failed", obs.String("destination", string(p.destination)), obs.Err(err))
		}
		return
	}
	for _, m := range batch {
		p.process(ctx, m)
	}
}

func (p *Pool) process(ctx context.Context, m message.Message) {
	spanCtx, span := obs.StartSpan(ctx, "egress.apply", string(m.Source), string(m.Destination))
	defer span.End()

	if p.brk != nil && !p.brk.Allow() {
		obs.CircuitBreakerState.WithLabelValues(string(p.destination)).Set(float64(p.brk.State()))
		_ = p.buf.Fail(ctx, m, fmt.Errorf("circuit open for destination %s", p.destination))
		return
	}

	value, err := p.convert(m)
	if err != nil {
		obs.RecordError(span, err)
		p.failureStreak++
		if p.onConsecutiveFailures != nil {
			p.onConsecutiveFailures(p.failureStreak)
		}
		if ferr := p.buf.Fail(ctx, m, err); ferr != nil && p.log != nil {
			p.log.Error("recording failure outcome", obs.Err(ferr))
		}
		return
	}

	err = p.sink.Apply(spanCtx, m.TopicOrNode, value)
	if p.brk != nil {
		p.brk.Record(err == nil)
		obs.CircuitBreakerState.WithLabelValues(string(p.destination)).Set(float64(p.brk.State()))
	}

	if err != nil {
		obs.RecordError(span, err)
		p.failureStreak++
		if p.onConsecutiveFailures != nil {
			p.onConsecutiveFailures(p.failureStreak)
		}
		if ferr := p.buf.Fail(ctx, m, err); ferr != nil && p.log != nil {
			p.log.Error("recording failure outcome", obs.Err(ferr))
		}
		return
	}

	p.failureStreak = 0
	if cerr := p.buf.Complete(ctx, m); cerr != nil && p.log != nil {
		p.log.Error("recording completion", obs.Err(cerr))
	}
}

// convert runs the message's mapping-declared transform just before
// delivery, per the per-worker egress loop: out = Transformer.convert(...);
// adapter[D].apply(out). Transform failures get exactly the retry/dead-letter
// treatment as adapter errors, so they must happen here and not at ingress
// time, where a failure would silently drop the value instead of enqueuing
// it for retry.
func (p *Pool) convert(m message.Message) (json.RawMessage, error) {
	if p.transform == nil {
		return m.Value, nil
	}
	var transformExpr string
	if p.registry != nil {
		if entry, ok := p.registry.ByID(m.MappingID); ok {
			transformExpr = entry.Transform
		}
	}
	value, err := p.transform.Convert(m.MappingID, m.Value, m.DataType, transformExpr)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	return value, nil
}
