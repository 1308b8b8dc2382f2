package cooldown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var base = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestGate(window time.Duration) *Gate {
	g := New(window)
	g.now = func() time.Time { return base }
	return g
}

func TestGate_FirstSignalAlwaysAdmitted(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ok, err := g.Admit(context.Background(), "")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !ok {
		t.Error("expected first signal to be admitted")
	}
}

func TestGate_BurstAdmitsExactlyOne(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ctx := context.Background()

	admitted := 0
	for i := range 10 {
		g.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		ok, err := g.Admit(ctx, "")
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if ok {
			admitted++
		}
	}
	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1 for a burst inside the window", admitted)
	}
}

func TestGate_WindowBoundary(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ctx := context.Background()

	if ok, _ := g.Admit(ctx, ""); !ok {
		t.Fatal("first signal refused")
	}

	// Exactly one window later is still inside: the gap must exceed it.
	g.now = func() time.Time { return base.Add(60 * time.Second) }
	if ok, _ := g.Admit(ctx, ""); ok {
		t.Error("signal at exactly the window boundary must be refused")
	}

	g.now = func() time.Time { return base.Add(61 * time.Second) }
	if ok, _ := g.Admit(ctx, ""); !ok {
		t.Error("signal past the window must be admitted")
	}
}

func TestGate_SpacedSignalsAllAdmitted(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ctx := context.Background()

	for i := range 3 {
		g.now = func() time.Time { return base.Add(time.Duration(i) * 61 * time.Second) }
		ok, err := g.Admit(ctx, "")
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !ok {
			t.Errorf("signal %d spaced 61s apart refused", i)
		}
	}
}

func TestGate_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ctx := context.Background()

	if ok, _ := g.Admit(ctx, "cam-1"); !ok {
		t.Fatal("cam-1 first signal refused")
	}
	if ok, _ := g.Admit(ctx, "cam-2"); !ok {
		t.Error("cam-2 must not be suppressed by cam-1's window")
	}
	if ok, _ := g.Admit(ctx, "cam-1"); ok {
		t.Error("cam-1 second signal must be suppressed")
	}
}

func TestGate_ConcurrentBurstAdmitsOne(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ctx := context.Background()

	const n = 50
	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			ok, err := g.Admit(ctx, "")
			if err != nil {
				t.Errorf("Admit: %v", err)
			}
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted.Load())
	}
}

func TestGate_PrunesStaleKeys(t *testing.T) {
	t.Parallel()

	g := newTestGate(60 * time.Second)
	ctx := context.Background()

	for i := range pruneThreshold + 1 {
		g.now = func() time.Time { return base.Add(time.Duration(i) * time.Millisecond) }
		_, _ = g.Admit(ctx, fmt.Sprintf("cam-%d", i))
	}

	// All keys were admitted within the window, so nothing is stale yet.
	g.mu.Lock()
	before := len(g.last)
	g.mu.Unlock()
	if before == 0 {
		t.Fatal("expected keys to be tracked")
	}

	// Far in the future every key is stale; one more admission sweeps
	// them once the map is over threshold.
	g.now = func() time.Time { return base.Add(24 * time.Hour) }
	for i := range pruneThreshold + 1 {
		_, _ = g.Admit(ctx, fmt.Sprintf("fresh-%d", i))
	}
	g.mu.Lock()
	after := len(g.last)
	g.mu.Unlock()
	if after > pruneThreshold+1 {
		t.Errorf("keys after prune = %d, want <= %d", after, pruneThreshold+1)
	}
}
