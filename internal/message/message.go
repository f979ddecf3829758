// Package message defines the core data types shared across the buffer,
// the mapping registry, the transformer and every adapter: the Side
// enumeration, message priority/status, and the Message and DeadLetter
// records persisted by the store.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Side identifies one of the three domains the bridge couples.
type Side string

const (
	SidePubSub     Side = "pubsub"
	SideVariable   Side = "variable"
	SideEnterprise Side = "enterprise"
)

func (s Side) Valid() bool {
	switch s {
	case SidePubSub, SideVariable, SideEnterprise:
		return true
	}
	return false
}

// Priority is the primary lease-order key; higher values are leased first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts both the symbolic name and the bare integer.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low", "LOW":
		return PriorityLow, nil
	case "normal", "NORMAL":
		return PriorityNormal, nil
	case "high", "HIGH":
		return PriorityHigh, nil
	case "critical", "CRITICAL":
		return PriorityCritical, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		p := Priority(n)
		if p.Valid() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Status is the lifecycle state of a Message. completed/failed/expired are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// DataType is the per-side scalar/object type carried by Message.Value.
type DataType string

const (
	DataTypeBoolean  DataType = "Boolean"
	DataTypeInt32    DataType = "Int32"
	DataTypeFloat    DataType = "Float"
	DataTypeDouble   DataType = "Double"
	DataTypeString   DataType = "String"
	DataTypeDateTime DataType = "DateTime"
	DataTypeJSON     DataType = "JSON"
)

func (d DataType) Valid() bool {
	switch d {
	case DataTypeBoolean, DataTypeInt32, DataTypeFloat, DataTypeDouble, DataTypeString, DataTypeDateTime, DataTypeJSON:
		return true
	}
	return false
}

// Direction describes which way a Mapping entry permits traffic to flow.
type Direction string

const (
	DirectionAToB         Direction = "A->B"
	DirectionBToA         Direction = "B->A"
	DirectionBidirectional Direction = "bidirectional"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionAToB, DirectionBToA, DirectionBidirectional:
		return true
	}
	return false
}

// Allows reports whether traffic may flow given the mapping's
// (source_addr=A, destination_addr=B) orientation: sourceIsA is true for
// traffic observed at A heading to B, false for traffic from B to A.
func (d Direction) Allows(sourceIsA bool) bool {
	switch d {
	case DirectionBidirectional:
		return true
	case DirectionAToB:
		return sourceIsA
	case DirectionBToA:
		return !sourceIsA
	}
	return false
}

// Message is a unit of work flowing between sides. Value is kept as
// json.RawMessage so object/array payloads round-trip byte-stable
// (modulo key ordering) through the TEXT column in the store.
type Message struct {
	ID           int64           `json:"id"`
	Source       Side            `json:"source"`
	Destination  Side            `json:"destination"`
	TopicOrNode  string          `json:"topic_or_node"`
	MappingID    string          `json:"mapping_id"`
	Value        json.RawMessage `json:"value"`
	DataType     DataType        `json:"data_type"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ExpireAt     time.Time       `json:"expire_at"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// DeadLetter is the durable record written exactly once when a Message
// exhausts its retries and transitions to StatusFailed.
type DeadLetter struct {
	ID           int64           `json:"id"`
	OriginalID   int64           `json:"original_id"`
	Source       Side            `json:"source"`
	Destination  Side            `json:"destination"`
	TopicOrNode  string          `json:"topic_or_node"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"error_message"`
	RetryCount   int             `json:"retry_count"`
	FailedAt     time.Time       `json:"failed_at"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Stats is the set of aggregate counters and gauges returned by Buffer.Stats.
type Stats struct {
	ByStatus          map[Status]int64 `json:"by_status"`
	ByRoute           map[string]int64 `json:"by_route"` // "source->destination" -> count (non-terminal only)
	OldestPendingAt   *time.Time       `json:"oldest_pending_at,omitempty"`
	MessagesAdded     int64            `json:"messages_added"`
	MessagesProcessed int64            `json:"messages_processed"`
	MessagesFailed    int64            `json:"messages_failed"`
	MessagesExpired   int64            `json:"messages_expired"`
	UtilizationPct    float64          `json:"utilization_pct"`
	DeadLetterCount   int64            `json:"dead_letter_count"`
}

// RouteKey formats the (source,destination) pair used as a Stats.ByRoute key.
func RouteKey(source, destination Side) string {
	return string(source) + "->" + string(destination)
}
