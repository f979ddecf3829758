// Package archive implements the long-term archive (C9): a pluggable Sink
// that the scheduler's archive job copies dead-lettered rows into, so that
// history remains queryable outside the primary store.
package archive

import (
	"context"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// Sink accepts a batch of terminal messages for durable long-term storage.
type Sink interface {
	Write(ctx context.Context, batch []message.Message) error
	Close() error
}

// Record is the flattened shape every Sink implementation serializes.
type Record struct {
	ID          int64  `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	TopicOrNode string `json:"topic_or_node"`
	Value       string `json:"value"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

func toRecord(m message.Message) Record {
	r := Record{
		ID: m.ID, Source: string(m.Source), Destination: string(m.Destination),
		TopicOrNode: m.TopicOrNode, Value: string(m.Value), Status: string(m.Status),
		CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if m.ProcessedAt != nil {
		r.ProcessedAt = m.ProcessedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return r
}

// New resolves a Sink from its configured backend name.
func New(backend string, cfg Config) (Sink, error) {
	switch backend {
	case "file", "":
		return NewFileSink(cfg.Path, cfg.Compress)
	case "clickhouse":
		return NewClickHouseSink(cfg.ClickHouseDSN, cfg.ClickHouseDatabase, cfg.ClickHouseTable)
	case "s3":
		return NewS3Sink(cfg.S3Bucket, cfg.S3Region, cfg.S3KeyPrefix)
	case "postgres":
		return NewPostgresSink(cfg.PostgresDSN)
	default:
		return nil, unsupportedBackend(backend)
	}
}

// Config bundles every backend's connection parameters; only the fields
// relevant to the selected backend need be populated.
type Config struct {
	Path     string
	Compress bool

	ClickHouseDSN      string
	ClickHouseDatabase string
	ClickHouseTable    string

	S3Bucket    string
	S3Region    string
	S3KeyPrefix string

	PostgresDSN string
}

type unsupportedBackendErr struct{ backend string }

func (e unsupportedBackendErr) Error() string { return "archive: unsupported backend " + e.backend }

func unsupportedBackend(b string) error { return unsupportedBackendErr{backend: b} }
