// Package cooldown implements the admission window that collapses
// bursts of detection signals into a single alert.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the admission window applied when none is configured.
const DefaultWindow = 60 * time.Second

// pruneThreshold bounds the key map before stale entries are swept.
const pruneThreshold = 1024

// Gate admits at most one signal per key per window. The empty key is
// the global scope. A key's first signal is always admitted; later ones
// pass only when strictly more than a full window has elapsed since the
// last admission.
type Gate struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time // key -> last admitted

	now func() time.Time
}

// New creates a Gate with the given window.
func New(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Admit reports whether a signal scoped by key may pass. An admission
// records the moment, so everything else inside the window is refused.
func (g *Gate) Admit(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) <= g.window {
		return false, nil
	}
	g.last[key] = now
	if len(g.last) > pruneThreshold {
		g.prune(now)
	}
	return true, nil
}

// prune drops keys whose window has lapsed. Caller holds the lock.
func (g *Gate) prune(now time.Time) {
	for k, t := range g.last {
		if now.Sub(t) > g.window {
			delete(g.last, k)
		}
	}
}
