package archive

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// PostgresSink writes archive rows into Postgres, useful where operators
// already run a relational warehouse they want the bridge's history in.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bridge_archive (
		id BIGINT PRIMARY KEY, source TEXT, destination TEXT, topic_or_node TEXT,
		value TEXT, status TEXT, created_at TIMESTAMPTZ, processed_at TIMESTAMPTZ)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bridge_archive table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Write(ctx context.Context, batch []message.Message) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, m := range batch {
		r := toRecord(m)
		if _, err := tx.ExecContext(ctx, `INSERT INTO bridge_archive
			(id, source, destination, topic_or_node, value, status, created_at, processed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Source, r.Destination, r.TopicOrNode, r.Value, r.Status, r.CreatedAt, nullable(r.ProcessedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert archive row %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresSink) Close() error { return s.db.Close() }
