// Package buffer implements the Buffer API (C2): the synchronous,
// transactional surface ingress adapters, egress workers, and the
// operator surface all call instead of touching the store directly.
package buffer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/obs"
	"github.com/flyingrobots/protocol-bridge/internal/store"
)

// Buffer is the durable, priority-ordered queue sitting between ingress and
// egress. All methods are safe for concurrent use; SQLite serializes writers
// and the store package pins a single open connection.
type Buffer struct {
	st  *store.Store
	cfg config.Buffer
	log *zap.Logger
}

func New(st *store.Store, cfg config.Buffer, log *zap.Logger) *Buffer {
	return &Buffer{st: st, cfg: cfg, log: log}
}

// Enqueue admits a new message, applying the overflow policy (I2) when the
// buffer is at capacity: oldest completed rows are dropped first, then
// oldest expired rows, and only if still full is the new message rejected.
func (b *Buffer) Enqueue(ctx context.Context, m message.Message) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ExpireAt.IsZero() {
		m.ExpireAt = m.CreatedAt.Add(time.Duration(b.cfg.TTLMinutes) * time.Minute)
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = b.cfg.RetryMaxAttempts
	}

	total, err := b.st.CountPending(ctx, -1)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	if int(total) >= b.cfg.MaxSize {
		if err := b.reclaimSpace(ctx); err != nil {
			return 0, fmt.Errorf("reclaim space: %w", err)
		}
		total, err = b.st.CountPending(ctx, -1)
		if err != nil {
			return 0, err
		}
		if int(total) >= b.cfg.MaxSize {
			obs.EnqueueRejected.Inc()
			return 0, ErrBufferFull
		}
	}

	if limit, ok := b.priorityLimit(m.Priority); ok {
		n, err := b.st.CountPending(ctx, int(m.Priority))
		if err != nil {
			return 0, err
		}
		if int(n) >= limit {
			obs.EnqueueRejected.Inc()
			return 0, ErrPriorityLimitReached
		}
	}

	tx, err := b.st.DB().Begin()
	if err != nil {
		return 0, err
	}
	id, err := b.st.Insert(ctx, tx, m)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	obs.MessagesEnqueued.WithLabelValues(string(m.Source), string(m.Destination)).Inc()
	if b.log != nil {
		b.log.Debug("message enqueued", obs.Int64("id", id), obs.String("route", message.RouteKey(m.Source, m.Destination)))
	}
	return id, nil
}

func (b *Buffer) priorityLimit(p message.Priority) (int, bool) {
	var limit int
	switch p {
	case message.PriorityHigh, message.PriorityCritical:
		limit = b.cfg.PriorityLimits.High
	case message.PriorityNormal:
		limit = b.cfg.PriorityLimits.Normal
	case message.PriorityLow:
		limit = b.cfg.PriorityLimits.Low
	}
	// An unset (zero) limit means the priority has no soft cap.
	return limit, limit > 0
}

func (b *Buffer) reclaimSpace(ctx context.Context) error {
	n, err := b.st.DeleteOldestCompleted(ctx, b.cfg.BatchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = b.st.DeleteOldestExpired(ctx, b.cfg.BatchSize)
	return err
}

// LeaseBatch hands up to limit eligible messages to a single egress worker,
// optionally scoped to one route, and marks them processing.
func (b *Buffer) LeaseBatch(ctx context.Context, limit int, source, destination message.Side) ([]message.Message, error) {
	tx, err := b.st.DB().Begin()
	if err != nil {
		return nil, err
	}
	leased, err := b.st.LeaseBatch(ctx, tx, limit, string(source), string(destination))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return leased, nil
}

// Complete marks id completed and records processing-duration/counters.
func (b *Buffer) Complete(ctx context.Context, m message.Message) error {
	tx, err := b.st.DB().Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := b.st.Complete(ctx, tx, m.ID, now); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	obs.MessagesCompleted.WithLabelValues(string(m.Source), string(m.Destination)).Inc()
	obs.ProcessingDuration.WithLabelValues(string(m.Source), string(m.Destination)).Observe(now.Sub(m.CreatedAt).Seconds())
	return nil
}

// Fail records a processing failure. If the message has retries remaining
// it is requeued to pending (optionally with exponential backoff delay on
// created_at); otherwise it is dead-lettered.
func (b *Buffer) Fail(ctx context.Context, m message.Message, cause error) error {
	tx, err := b.st.DB().Begin()
	if err != nil {
		return err
	}

	if m.RetryCount >= m.MaxRetries {
		if err := b.st.MarkFailed(ctx, tx, m, cause.Error()); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		obs.MessagesFailed.WithLabelValues(string(m.Source), string(m.Destination)).Inc()
		return nil
	}

	var backoff time.Duration
	if b.cfg.RetryBackoffEnabled {
		backoff = b.cfg.RetryBackoffBase * time.Duration(1<<uint(m.RetryCount))
	}
	if err := b.st.IncrementRetryAndRequeue(ctx, tx, m.ID, cause.Error(), backoff); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	obs.MessagesRetried.WithLabelValues(string(m.Source), string(m.Destination)).Inc()
	return nil
}

// ResetProcessing recovers messages left stuck in processing by a previous
// crash, returning them to pending. Called once at startup (I4).
func (b *Buffer) ResetProcessing(ctx context.Context) (int64, error) {
	return b.st.ResetProcessing(ctx)
}

// Sweep expires messages past TTL and trims old terminal rows; intended to
// run on the scheduler's cleanup_interval cadence.
func (b *Buffer) Sweep(ctx context.Context) error {
	n, err := b.st.ExpirePastTTL(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("expire past ttl: %w", err)
	}
	obs.MessagesExpired.Add(float64(n))

	if b.log != nil && n > 0 {
		b.log.Info("swept expired messages", obs.Int64("count", n))
	}

	completedAge := 24 * time.Hour
	expiredAge := 7 * 24 * time.Hour
	_, _, err = b.st.DeleteOldTerminal(ctx, completedAge, expiredAge)
	return err
}

// Stats computes the aggregate view used by the operator surface and /readyz.
func (b *Buffer) Stats(ctx context.Context) (message.Stats, error) {
	var s message.Stats
	byStatus, err := b.st.StatsByStatus(ctx)
	if err != nil {
		return s, err
	}
	s.ByStatus = byStatus
	for _, n := range byStatus {
		s.MessagesAdded += n
	}
	s.MessagesProcessed = byStatus[message.StatusCompleted]
	s.MessagesFailed = byStatus[message.StatusFailed]
	s.MessagesExpired = byStatus[message.StatusExpired]

	byRoute, err := b.st.StatsByRoute(ctx)
	if err != nil {
		return s, err
	}
	s.ByRoute = byRoute

	oldest, err := b.st.OldestPending(ctx)
	if err != nil {
		return s, err
	}
	s.OldestPendingAt = oldest

	dl, err := b.st.DeadLetterCount(ctx)
	if err != nil {
		return s, err
	}
	s.DeadLetterCount = dl

	total := byStatus[message.StatusPending] + byStatus[message.StatusProcessing]
	if b.cfg.MaxSize > 0 {
		s.UtilizationPct = 100 * float64(total) / float64(b.cfg.MaxSize)
	}

	return s, nil
}

// ExportDeadLetters returns up to limit dead-letter records, newest first.
func (b *Buffer) ExportDeadLetters(ctx context.Context, limit int) ([]message.DeadLetter, error) {
	return b.st.DeadLetters(ctx, limit)
}

// PendingPreview returns up to limit pending messages in lease order,
// without leasing them — used by read-only operator surfaces.
func (b *Buffer) PendingPreview(ctx context.Context, limit int) ([]message.Message, error) {
	return b.st.PendingPreview(ctx, limit)
}

var (
	ErrBufferFull           = fmt.Errorf("buffer: at capacity after reclaim")
	ErrPriorityLimitReached = fmt.Errorf("buffer: priority soft limit reached")
)
