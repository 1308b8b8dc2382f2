// Package retention prunes aged evidence rows on a nightly schedule.
// Alerts are kept forever; only the evidence pointers expire.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the prune nightly at 03:30, well clear of the
// evening activity peak.
const DefaultSchedule = "30 3 * * *"

// Store is the subset of the workflow store the pruner needs.
type Store interface {
	PruneEvidenceBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes evidence older than the retention period.
type Pruner struct {
	store    Store
	logger   log.Logger
	days     int
	schedule string
	cron     *cron.Cron

	now func() time.Time
}

// New creates a pruner keeping evidence for the given number of days.
// A zero or negative retention period disables pruning.
func New(store Store, logger log.Logger, days int) *Pruner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pruner{
		store:    store,
		logger:   logger,
		days:     days,
		schedule: DefaultSchedule,
		now:      time.Now,
	}
}

// Start schedules the nightly prune.
func (p *Pruner) Start(ctx context.Context) error {
	if p.days <= 0 {
		p.logger.Info(ctx, "evidence pruning disabled")
		return nil
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{p.logger})))
	if _, err := c.AddFunc(p.schedule, func() {
		// The schedule outlives the caller's ctx, so each run gets
		// a fresh background context.
		p.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("retention: schedule %q: %w", p.schedule, err)
	}
	c.Start()
	p.cron = c
	p.logger.Info(ctx, "evidence pruning scheduled", "schedule", p.schedule, "retention_days", p.days)
	return nil
}

// Stop halts the schedule and waits for any running prune to finish.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// RunOnce prunes immediately. The cron entry calls this; tests and
// operators can too.
func (p *Pruner) RunOnce(ctx context.Context) {
	cutoff := p.now().AddDate(0, 0, -p.days)
	n, err := p.store.PruneEvidenceBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error(ctx, err, "evidence prune failed", "cutoff", cutoff)
		return
	}
	if n > 0 {
		p.logger.Info(ctx, "evidence pruned", "rows", n, "cutoff", cutoff)
	}
}

// cronLogger adapts the structured logger to the cron.Logger interface
// so recovered panics land in the application log.
type cronLogger struct {
	l log.Logger
}

func (cl cronLogger) Info(msg string, kv ...any) {
	cl.l.Info(context.Background(), msg, kv...)
}

func (cl cronLogger) Error(err error, msg string, kv ...any) {
	cl.l.Error(context.Background(), err, msg, kv...)
}
