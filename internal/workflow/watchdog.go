package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSweepInterval is how often the watchdog sweeps for overdue
// alerts, unless configured otherwise.
const DefaultSweepInterval = 30 * time.Second

// Sweeper runs one escalation sweep and reports how many alerts it
// escalated.
type Sweeper interface {
	RunEscalationSweep(ctx context.Context) (int, error)
}

// Watchdog periodically escalates overdue pending alerts. It holds no
// state of its own: sweeps are idempotent under CompareAndUpdate, so
// overlapping watchdogs on several nodes escalate each alert once.
type Watchdog struct {
	sweeper  Sweeper
	interval time.Duration
	logger   log.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatchdog creates a watchdog sweeping at the given interval.
func NewWatchdog(sweeper Sweeper, interval time.Duration, logger log.Logger) *Watchdog {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Watchdog{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it more than once is a no-op.
func (w *Watchdog) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.loop()
}

// Stop halts the loop and waits for any in-flight sweep to finish. Safe
// to call multiple times and before Start.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watchdog) loop() {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			// Each sweep gets the interval as its budget so a stuck
			// store cannot pile up overlapping sweeps.
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if _, err := w.sweeper.RunEscalationSweep(ctx); err != nil {
				w.logger.Error(ctx, err, "escalation sweep failed")
			}
			cancel()
		}
	}
}
