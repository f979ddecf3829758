// Package store is the on-disk relational durable queue (C1): schema,
// indexes, crash-safe writes via SQLite's write-ahead log, and the raw
// row-level operations the buffer package composes into the Buffer API.
// Packages above this one reach the *sql.DB only through DB().
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// Store wraps a single *sql.DB. Go's database/sql pool already serializes
// writers against the same SQLite file, so — per the task-based-runtime
// guidance that replaces the original thread-affine connection pool — a
// transaction is acquired and released around each mutating call instead
// of pinning a connection to a goroutine.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	walOn  bool
}

// Open creates (or reuses) the SQLite file at path, applies schema and
// indexes, and configures WAL + NORMAL synchronous durability when walEnabled.
func Open(path string, walEnabled bool, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer at a time; a single shared connection
	// avoids SQLITE_BUSY storms under the Go pool's default concurrency.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log, walOn: walEnabled}
	if err := s.init(walEnabled); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(walEnabled bool) error {
	pragmas := []string{"PRAGMA synchronous=NORMAL"}
	if walEnabled {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			topic_or_node TEXT NOT NULL,
			value TEXT NOT NULL,
			data_type TEXT NOT NULL,
			mapping_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 1,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			created_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			expire_at TIMESTAMP NOT NULL,
			error_message TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_priority_created ON messages(priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_source_dest ON messages(source, destination)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_expire ON messages(expire_at)`,
		`CREATE TABLE IF NOT EXISTS failed_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_id INTEGER NOT NULL,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			topic_or_node TEXT NOT NULL,
			value TEXT NOT NULL,
			error_message TEXT,
			retry_count INTEGER NOT NULL,
			failed_at TIMESTAMP NOT NULL,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS statistics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			metric_name TEXT NOT NULL,
			metric_value REAL NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_statistics_name_ts ON statistics(metric_name, timestamp)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if s.log != nil {
		s.log.Info("store initialized", zap.Bool("wal", walEnabled))
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle to callers that need to compose
// multiple row operations inside one transaction (the buffer package and
// tests); the daemon also uses it for its readiness ping.
func (s *Store) DB() *sql.DB { return s.db }

// Insert writes a new pending row and returns its assigned id.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, m message.Message) (int64, error) {
	metaStr := sql.NullString{}
	if len(m.Metadata) > 0 {
		metaStr = sql.NullString{String: string(m.Metadata), Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			source, destination, topic_or_node, value, data_type, mapping_id,
			status, priority, retry_count, max_retries, created_at, expire_at, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.Source, m.Destination, m.TopicOrNode, string(m.Value), m.DataType, m.MappingID,
		message.StatusPending, int(m.Priority), m.RetryCount, m.MaxRetries,
		m.CreatedAt.UTC(), m.ExpireAt.UTC(), metaStr,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

// CountPending returns the number of rows with status=pending, optionally
// scoped to a single priority (pass -1 for "all priorities").
func (s *Store) CountPending(ctx context.Context, priority int) (int64, error) {
	var n int64
	var err error
	if priority < 0 {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE status=?`, message.StatusPending).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE status=? AND priority=?`, message.StatusPending, priority).Scan(&n)
	}
	return n, err
}

// LeaseBatch atomically selects up to limit eligible rows ordered by
// (priority DESC, created_at ASC) and flips them to processing, all inside
// tx. Returns the decoded messages in lease order.
func (s *Store) LeaseBatch(ctx context.Context, tx *sql.Tx, limit int, source, destination string) ([]message.Message, error) {
	query := `SELECT id, source, destination, topic_or_node, value, data_type, mapping_id,
		status, priority, retry_count, max_retries, created_at, processed_at, expire_at, error_message, metadata
		FROM messages
		WHERE status = ? AND expire_at > ? AND retry_count <= max_retries`
	args := []interface{}{message.StatusPending, time.Now().UTC()}
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	if destination != "" {
		query += " AND destination = ?"
		args = append(args, destination)
	}
	query += " ORDER BY priority DESC, created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	var ids []int64
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status=? WHERE id=?`, message.StatusProcessing, id); err != nil {
			return nil, fmt.Errorf("lease id %d: %w", id, err)
		}
	}
	for i := range out {
		out[i].Status = message.StatusProcessing
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(rows *sql.Rows) (message.Message, error) {
	var m message.Message
	var value, errMsg, metadata sql.NullString
	var processedAt sql.NullTime
	var priority int
	var mappingID sql.NullString

	if err := rows.Scan(&m.ID, &m.Source, &m.Destination, &m.TopicOrNode, &value, &m.DataType,
		&mappingID, &m.Status, &priority, &m.RetryCount, &m.MaxRetries, &m.CreatedAt, &processedAt,
		&m.ExpireAt, &errMsg, &metadata); err != nil {
		return m, fmt.Errorf("scan message row: %w", err)
	}
	m.Priority = message.Priority(priority)
	m.MappingID = mappingID.String
	m.Value = json.RawMessage(value.String)
	m.ErrorMessage = errMsg.String
	if metadata.Valid {
		m.Metadata = json.RawMessage(metadata.String)
	}
	if processedAt.Valid {
		t := processedAt.Time
		m.ProcessedAt = &t
	}
	return m, nil
}

// GetByID fetches a single message row for operator-surface inspection.
func (s *Store) GetByID(ctx context.Context, id int64) (message.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source, destination, topic_or_node, value, data_type, mapping_id,
		status, priority, retry_count, max_retries, created_at, processed_at, expire_at, error_message, metadata
		FROM messages WHERE id=?`, id)
	var m message.Message
	var value, errMsg, metadata sql.NullString
	var processedAt sql.NullTime
	var priority int
	var mappingID sql.NullString
	if err := row.Scan(&m.ID, &m.Source, &m.Destination, &m.TopicOrNode, &value, &m.DataType,
		&mappingID, &m.Status, &priority, &m.RetryCount, &m.MaxRetries, &m.CreatedAt, &processedAt,
		&m.ExpireAt, &errMsg, &metadata); err != nil {
		return m, err
	}
	m.Priority = message.Priority(priority)
	m.MappingID = mappingID.String
	m.Value = json.RawMessage(value.String)
	m.ErrorMessage = errMsg.String
	if metadata.Valid {
		m.Metadata = json.RawMessage(metadata.String)
	}
	if processedAt.Valid {
		t := processedAt.Time
		m.ProcessedAt = &t
	}
	return m, nil
}

// Complete transitions id (processing or pending) to completed.
func (s *Store) Complete(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE messages SET status=?, processed_at=? WHERE id=? AND status IN (?,?)`,
		message.StatusCompleted, now.UTC(), id, message.StatusProcessing, message.StatusPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %d not in a completable state", id)
	}
	return nil
}

// IncrementRetryAndRequeue bumps retry_count and moves the row back to
// pending, clearing any stale processing claim.
func (s *Store) IncrementRetryAndRequeue(ctx context.Context, tx *sql.Tx, id int64, errMsg string, backoff time.Duration) error {
	var createdAt time.Time
	if backoff > 0 {
		if err := tx.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id=?`, id).Scan(&createdAt); err != nil {
			return err
		}
		createdAt = time.Now().UTC().Add(backoff)
		_, err := tx.ExecContext(ctx, `UPDATE messages SET status=?, retry_count=retry_count+1, error_message=?, created_at=? WHERE id=?`,
			message.StatusPending, errMsg, createdAt, id)
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE messages SET status=?, retry_count=retry_count+1, error_message=? WHERE id=?`,
		message.StatusPending, errMsg, id)
	return err
}

// MarkFailed transitions id to failed and writes one failed_messages row.
func (s *Store) MarkFailed(ctx context.Context, tx *sql.Tx, m message.Message, errMsg string) error {
	_, err := tx.ExecContext(ctx, `UPDATE messages SET status=?, error_message=?, processed_at=? WHERE id=?`,
		message.StatusFailed, errMsg, time.Now().UTC(), m.ID)
	if err != nil {
		return err
	}
	var metaStr sql.NullString
	if len(m.Metadata) > 0 {
		metaStr = sql.NullString{String: string(m.Metadata), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO failed_messages
		(original_id, source, destination, topic_or_node, value, error_message, retry_count, failed_at, metadata)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Source, m.Destination, m.TopicOrNode, string(m.Value), errMsg, m.RetryCount, time.Now().UTC(), metaStr)
	return err
}

// ResetProcessing bulk-transitions all processing rows back to pending.
// Called once at startup to recover from a crash mid-lease (spec I4/P7).
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET status=? WHERE status=?`, message.StatusPending, message.StatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpirePastTTL transitions pending/processing rows whose expire_at has
// passed to expired, and returns how many were swept.
func (s *Store) ExpirePastTTL(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET status=?, processed_at=? WHERE expire_at<=? AND status IN (?,?)`,
		message.StatusExpired, now.UTC(), now.UTC(), message.StatusPending, message.StatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldTerminal deletes completed rows older than completedAge and
// expired rows older than expiredAge.
func (s *Store) DeleteOldTerminal(ctx context.Context, completedAge, expiredAge time.Duration) (int64, int64, error) {
	now := time.Now().UTC()
	res1, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE status=? AND processed_at<=?`,
		message.StatusCompleted, now.Add(-completedAge))
	if err != nil {
		return 0, 0, err
	}
	n1, _ := res1.RowsAffected()
	res2, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE status=? AND processed_at<=?`,
		message.StatusExpired, now.Add(-expiredAge))
	if err != nil {
		return n1, 0, err
	}
	n2, _ := res2.RowsAffected()
	return n1, n2, nil
}

// DeleteOldestCompleted deletes up to limit of the oldest completed rows,
// used by the overflow policy before dead rows are considered.
func (s *Store) DeleteOldestCompleted(ctx context.Context, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (
		SELECT id FROM messages WHERE status=? ORDER BY processed_at ASC LIMIT ?)`,
		message.StatusCompleted, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldestExpired deletes up to limit of the oldest expired rows.
func (s *Store) DeleteOldestExpired(ctx context.Context, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (
		SELECT id FROM messages WHERE status=? ORDER BY processed_at ASC LIMIT ?)`,
		message.StatusExpired, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StatsByStatus returns counts grouped by status.
func (s *Store) StatsByStatus(ctx context.Context) (map[message.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[message.Status]int64{}
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[message.Status(st)] = n
	}
	return out, rows.Err()
}

// StatsByRoute returns counts grouped by (source,destination) for
// non-terminal rows only, per spec §4.2 stats().
func (s *Store) StatsByRoute(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, destination, COUNT(*) FROM messages
		WHERE status IN (?,?) GROUP BY source, destination`, message.StatusPending, message.StatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var src, dst string
		var n int64
		if err := rows.Scan(&src, &dst, &n); err != nil {
			return nil, err
		}
		out[message.RouteKey(message.Side(src), message.Side(dst))] = n
	}
	return out, rows.Err()
}

// OldestPending returns the created_at of the oldest pending row, if any.
func (s *Store) OldestPending(ctx context.Context) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM messages WHERE status=?`, message.StatusPending).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	tt := t.Time
	return &tt, nil
}

// DeadLetterCount returns the number of rows in failed_messages.
func (s *Store) DeadLetterCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_messages`).Scan(&n)
	return n, err
}

// DeadLetters returns up to limit dead-letter rows, newest first.
func (s *Store) DeadLetters(ctx context.Context, limit int) ([]message.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, original_id, source, destination, topic_or_node,
		value, error_message, retry_count, failed_at, metadata FROM failed_messages
		ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []message.DeadLetter
	for rows.Next() {
		var d message.DeadLetter
		var value, errMsg, metadata sql.NullString
		if err := rows.Scan(&d.ID, &d.OriginalID, &d.Source, &d.Destination, &d.TopicOrNode,
			&value, &errMsg, &d.RetryCount, &d.FailedAt, &metadata); err != nil {
			return nil, err
		}
		d.Value = json.RawMessage(value.String)
		d.ErrorMessage = errMsg.String
		if metadata.Valid {
			d.Metadata = json.RawMessage(metadata.String)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PendingPreview returns up to limit rows in lease order without leasing them,
// for the `pending` CLI/API surface.
func (s *Store) PendingPreview(ctx context.Context, limit int) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, destination, topic_or_node, value, data_type, mapping_id,
		status, priority, retry_count, max_retries, created_at, processed_at, expire_at, error_message, metadata
		FROM messages WHERE status=? ORDER BY priority DESC, created_at ASC LIMIT ?`, message.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteDeadLettersOlderThan purges failed_messages rows beyond the cutoff.
func (s *Store) DeleteDeadLettersOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_messages WHERE failed_at<=?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordStat appends one (metric_name, metric_value) observation to the
// statistics table. The daemon's scheduled report job does not call it.
func (s *Store) RecordStat(ctx context.Context, name string, value float64, metadata json.RawMessage) error {
	var metaStr sql.NullString
	if len(metadata) > 0 {
		metaStr = sql.NullString{String: string(metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO statistics (timestamp, metric_name, metric_value, metadata) VALUES (?,?,?,?)`,
		time.Now().UTC(), name, value, metaStr)
	return err
}

// HourlyBuckets returns completed/failed/created counts per hour over
// [since, now), used by the performance report.
type HourlyBucket struct {
	HourStart time.Time
	Created   int64
	Completed int64
	Failed    int64
	AvgLatencySec float64
	MaxLatencySec float64
}

func (s *Store) HourlyBuckets(ctx context.Context, since time.Time) ([]HourlyBucket, error) {
	created := map[string]int64{}
	rows, err := s.db.QueryContext(ctx, `SELECT strftime('%Y-%m-%dT%H:00:00Z', created_at), COUNT(*)
		FROM messages WHERE created_at >= ? GROUP BY 1`, since.UTC())
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var bucket string
		var n int64
		if err := rows.Scan(&bucket, &n); err != nil {
			rows.Close()
			return nil, err
		}
		created[bucket] = n
	}
	rows.Close()

	type agg struct {
		completed, failed int64
		sumLatency, maxLatency float64
	}
	aggs := map[string]*agg{}
	rows, err = s.db.QueryContext(ctx, `SELECT strftime('%Y-%m-%dT%H:00:00Z', processed_at), status,
		(julianday(processed_at)-julianday(created_at))*86400.0
		FROM messages WHERE processed_at >= ? AND status IN (?,?)`, since.UTC(), message.StatusCompleted, message.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var bucket, status string
		var latency float64
		if err := rows.Scan(&bucket, &status, &latency); err != nil {
			return nil, err
		}
		a, ok := aggs[bucket]
		if !ok {
			a = &agg{}
			aggs[bucket] = a
		}
		if status == string(message.StatusCompleted) {
			a.completed++
			a.sumLatency += latency
			if latency > a.maxLatency {
				a.maxLatency = latency
			}
		} else {
			a.failed++
		}
	}

	buckets := map[string]*HourlyBucket{}
	get := func(k string) *HourlyBucket {
		b, ok := buckets[k]
		if !ok {
			t, _ := time.Parse(time.RFC3339, k)
			b = &HourlyBucket{HourStart: t}
			buckets[k] = b
		}
		return b
	}
	for k, n := range created {
		get(k).Created = n
	}
	for k, a := range aggs {
		b := get(k)
		b.Completed = a.completed
		b.Failed = a.failed
		if a.completed > 0 {
			b.AvgLatencySec = a.sumLatency / float64(a.completed)
		}
		b.MaxLatencySec = a.maxLatency
	}

	out := make([]HourlyBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	return out, nil
}

// ProcessingOlderThan returns the count of status=processing rows whose
// created_at is older than age, used by the stuck-message anomaly.
func (s *Store) ProcessingOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE status=? AND created_at<=?`,
		message.StatusProcessing, time.Now().UTC().Add(-age)).Scan(&n)
	return n, err
}

// NearRetryExhaustion counts non-terminal rows one retry away from dead-lettering.
func (s *Store) NearRetryExhaustion(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages
		WHERE retry_count >= max_retries-1 AND status NOT IN (?,?,?)`,
		message.StatusCompleted, message.StatusFailed, message.StatusExpired).Scan(&n)
	return n, err
}

// RouteCongestion returns per-route counts of pending and processing rows
// together (the same figures as StatsByRoute); routes with neither are absent.
func (s *Store) RouteCongestion(ctx context.Context) (map[string]int64, error) {
	return s.StatsByRoute(ctx)
}

// DailyHourCounts returns created-message counts bucketed by (day-of-week,
// hour-of-day) over the trailing `days`, feeding the load predictor.
type DayHourCount struct {
	DayOfWeek int
	HourOfDay int
	Date      string
	Count     int64
}

func (s *Store) DailyHourCounts(ctx context.Context, since time.Time) ([]DayHourCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT strftime('%w', created_at), strftime('%H', created_at),
		strftime('%Y-%m-%d', created_at), COUNT(*)
		FROM messages WHERE created_at >= ? GROUP BY 1,2,3`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayHourCount
	for rows.Next() {
		var dow, hour, date string
		var n int64
		if err := rows.Scan(&dow, &hour, &date, &n); err != nil {
			return nil, err
		}
		var d, h int
		fmt.Sscanf(dow, "%d", &d)
		fmt.Sscanf(hour, "%d", &h)
		out = append(out, DayHourCount{DayOfWeek: d, HourOfDay: h, Date: date, Count: n})
	}
	return out, rows.Err()
}
