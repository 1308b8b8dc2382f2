// Package notify fans alert lifecycle events out to delivery sinks.
package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// Sink delivers one event to a single destination.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	Send(ctx context.Context, ev *workflow.Event) error
}

// Fanout delivers each event to every sink in order. Delivery is best
// effort: a failing sink is logged and counted, never propagated, so one
// broken destination cannot silence the others. The caller runs the fanout
// off the request path, so a slow sink delays only its own event.
type Fanout struct {
	logger   log.Logger
	failures *prometheus.CounterVec
	sinks    []Sink
}

// NewFanout builds a fanout over the given sinks. A nil logger defaults to
// log.Nop(); a nil failures counter is replaced with an unregistered one.
func NewFanout(logger log.Logger, failures *prometheus.CounterVec, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = log.Nop()
	}
	if failures == nil {
		failures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "notify_failures_total"}, []string{"sink"})
	}
	return &Fanout{logger: logger, failures: failures, sinks: sinks}
}

// Send delivers the event to every sink. It always returns nil.
func (f *Fanout) Send(ctx context.Context, ev *workflow.Event) error {
	for _, s := range f.sinks {
		if err := s.Send(ctx, ev); err != nil {
			f.failures.WithLabelValues(s.Name()).Inc()
			f.logger.Warn(ctx, "notification sink failed",
				"sink", s.Name(),
				"kind", string(ev.Kind),
				"alert_id", ev.Alert.ID,
				"error", err)
		}
	}
	return nil
}
