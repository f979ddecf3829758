// Package variable implements the bridge's variable-server-side adapter.
// The variable server itself (an OPC UA-style tag/node address space) is
// explicitly out of scope for this repository: Client is an in-memory
// reference implementation of the contract an ingress/egress adapter needs,
// suitable for local development and integration tests, with the same
// poll/subscribe shape a real node-backed client would expose.
package variable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flyingrobots/protocol-bridge/internal/adapter"
)

// Client is a concurrency-safe in-memory node store. Writes made via
// Apply fan out to every subscriber registered through Subscribe for the
// same node id.
type Client struct {
	mu          sync.RWMutex
	nodes       map[string][]byte
	subscribers map[string][]adapter.ValueHandler
	pollEvery   time.Duration
}

func NewClient(pollEvery time.Duration) *Client {
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	return &Client{
		nodes:       map[string][]byte{},
		subscribers: map[string][]adapter.ValueHandler{},
		pollEvery:   pollEvery,
	}
}

func (c *Client) Name() string { return "variable:memory" }

// Subscribe registers handler against an exact node id and blocks until
// ctx is canceled, delivering the current value immediately if one exists.
func (c *Client) Subscribe(ctx context.Context, nodeID string, handler adapter.ValueHandler) error {
	c.mu.Lock()
	c.subscribers[nodeID] = append(c.subscribers[nodeID], handler)
	if v, ok := c.nodes[nodeID]; ok {
		go handler(ctx, nodeID, v)
	}
	c.mu.Unlock()

	<-ctx.Done()
	return nil
}

// Apply writes value to nodeID and notifies its subscribers, mirroring how
// a real node client would push a write and fire a value-changed callback.
func (c *Client) Apply(ctx context.Context, nodeID string, value []byte) error {
	c.mu.Lock()
	c.nodes[nodeID] = value
	handlers := append([]adapter.ValueHandler(nil), c.subscribers[nodeID]...)
	c.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, nodeID, value); err != nil {
			return fmt.Errorf("node %s: subscriber handler: %w", nodeID, err)
		}
	}
	return nil
}

// Get returns the last written value for a node, used by tests.
func (c *Client) Get(nodeID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.nodes[nodeID]
	return v, ok
}

func (c *Client) Close() error { return nil }
