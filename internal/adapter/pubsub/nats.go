// Package pubsub implements the bridge's pub/sub-side adapter over NATS:
// a low-latency broker whose subject wildcards (`*`, `>`) map naturally
// onto the pub/sub side's topic addressing.
package pubsub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flyingrobots/protocol-bridge/internal/adapter"
)

// Adapter wraps a single NATS connection. Subscriptions are tracked so
// Close can drain them cleanly.
type Adapter struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// Dial connects to url (e.g. "nats://127.0.0.1:4222") with reconnection
// enabled indefinitely, matching the bridge's at-least-once delivery goal.
func Dial(url string) (*Adapter, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Name("protocol-bridge"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Adapter{conn: conn}, nil
}

func (a *Adapter) Name() string { return "pubsub:nats" }

// Subscribe maps a configured mapping address (which may use the bridge's
// own "*" wildcard convention) onto a NATS subject by turning "/" into ".";
// NATS treats a bare "*" as a single-token wildcard, so single-level globs
// carry over unmodified. The handler receives the subject translated back
// to "/" form, matching the addresses the mapping registry holds.
func (a *Adapter) Subscribe(ctx context.Context, pattern string, handler adapter.ValueHandler) error {
	subject := toNatsSubject(pattern)
	sub, err := a.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, strings.ReplaceAll(msg.Subject, ".", "/"), msg.Data); err != nil {
			return
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", subject, err)
	}
	a.subs = append(a.subs, sub)

	<-ctx.Done()
	return sub.Unsubscribe()
}

// Apply publishes value on address, translated to a NATS subject.
func (a *Adapter) Apply(ctx context.Context, address string, value []byte) error {
	subject := toNatsSubject(address)
	if err := a.conn.Publish(subject, value); err != nil {
		return fmt.Errorf("publish %q: %w", subject, err)
	}
	return nil
}

func (a *Adapter) Close() error {
	for _, s := range a.subs {
		_ = s.Unsubscribe()
	}
	a.conn.Close()
	return nil
}

// toNatsSubject rewrites doublestar-style "/"-delimited wildcards into NATS
// "."-delimited subject wildcards.
func toNatsSubject(pattern string) string {
	s := strings.ReplaceAll(pattern, "/", ".")
	return s
}
