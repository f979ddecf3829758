// Package scheduler runs the bridge's periodic jobs — buffer sweeps,
// performance-report snapshots, and anomaly sweeps — on cron expressions
// rather than ad-hoc goroutine tickers, so operators can retune cadence
// without a rebuild.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/obs"
)

// Scheduler wraps a cron.Cron configured with second-level precision,
// matching the sub-minute cleanup_interval the bridge's config allows.
type Scheduler struct {
	c   *cron.Cron
	log *zap.Logger
}

func New(log *zap.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{c: c, log: log}
}

// Every registers fn to run on the given cron spec (seconds-precision,
// e.g. "@every 5m" or "0 */1 * * * *"). A job that returns an error is
// logged but never removed from the schedule.
func (s *Scheduler) Every(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.c.AddFunc(spec, func() {
		if err := fn(context.Background()); err != nil && s.log != nil {
			s.log.Error("scheduled job failed", obs.String("job", name), obs.Err(err))
		}
	})
	return err
}

func (s *Scheduler) Start() { s.c.Start() }

func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
