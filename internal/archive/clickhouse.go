package archive

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// ClickHouseSink batch-inserts archive rows into a ClickHouse table via
// the native protocol, suited to high-volume historical analytics.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

func NewClickHouseSink(dsn, database, table string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if database != "" {
		opts.Auth.Database = database
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if table == "" {
		table = "bridge_archive"
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (s *ClickHouseSink) Write(ctx context.Context, batch []message.Message) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, source, destination, topic_or_node, value, status, created_at, processed_at)", s.table))
	if err != nil {
		return fmt.Errorf("prepare clickhouse batch: %w", err)
	}
	for _, m := range batch {
		r := toRecord(m)
		if err := stmt.Append(r.ID, r.Source, r.Destination, r.TopicOrNode, r.Value, r.Status, r.CreatedAt, r.ProcessedAt); err != nil {
			return fmt.Errorf("append clickhouse row %d: %w", m.ID, err)
		}
	}
	return stmt.Send()
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
