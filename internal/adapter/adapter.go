// Package adapter defines the capability surface every side of the bridge
// (pub/sub, variable server, enterprise endpoint) must implement. Ingress
// and egress never import a concrete adapter directly — they depend on
// these interfaces so a side can be swapped without touching the core.
package adapter

import "context"

// ValueHandler receives a raw observation from a source side: the address
// it arrived on and its payload, already JSON-encoded.
type ValueHandler func(ctx context.Context, address string, value []byte) error

// Source is implemented by adapters capable of producing inbound traffic.
type Source interface {
	// Subscribe registers handler for every address matching pattern
	// (adapter-specific wildcard syntax) and blocks until ctx is canceled
	// or an unrecoverable transport error occurs.
	Subscribe(ctx context.Context, pattern string, handler ValueHandler) error
}

// Sink is implemented by adapters capable of accepting outbound traffic.
type Sink interface {
	// Apply delivers value to address on the destination side.
	Apply(ctx context.Context, address string, value []byte) error
}

// Adapter is the full per-side capability; a side may implement only the
// half(s) its mappings actually use.
type Adapter interface {
	Source
	Sink
	// Name identifies the adapter implementation for logging/metrics.
	Name() string
	// Close releases any held connections.
	Close() error
}
