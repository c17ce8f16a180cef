package sim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAtLeastTargetTicks(t *testing.T) {
	var ticks int32
	loop := NewLoop(100, func(time.Duration) {
		atomic.AddInt32(&ticks, 1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	if !loop.Start(ctx) {
		t.Fatalf("expected first Start to succeed")
	}
	time.Sleep(55 * time.Millisecond)
	cancel()
	loop.Stop()
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(100, func(time.Duration) {})
	if got, want := loop.StepDuration(), 10*time.Millisecond; got != want {
		t.Fatalf("unexpected step duration %v, want %v", got, want)
	}
}

func TestLoopStartIsIdempotent(t *testing.T) {
	loop := NewLoop(100, func(time.Duration) {})
	if !loop.Start(context.Background()) {
		t.Fatalf("first Start must succeed")
	}
	if loop.Start(context.Background()) {
		t.Fatalf("second Start must be a no-op")
	}
	loop.Stop()
}

func TestLoopStopIsIdempotent(t *testing.T) {
	loop := NewLoop(100, func(time.Duration) {})
	loop.Start(context.Background())
	loop.Stop()
	// A second Stop (and a Stop on a never-started loop) must not panic or hang.
	loop.Stop()
	NewLoop(100, nil).Stop()
	if loop.Running() {
		t.Fatalf("loop still reported running after Stop")
	}
}

func TestLoopRestartsAfterParentContextCancel(t *testing.T) {
	loop := NewLoop(100, func(time.Duration) {})
	ctx, cancel := context.WithCancel(context.Background())
	if !loop.Start(ctx) {
		t.Fatalf("first Start must succeed")
	}

	//1.- Cancelling the parent context must wind the loop down on its own.
	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for loop.Running() {
		if time.Now().After(deadline) {
			t.Fatal("loop still reported running after context cancel")
		}
		time.Sleep(time.Millisecond)
	}

	//2.- A wound-down loop accepts a fresh Start without an intervening Stop.
	if !loop.Start(context.Background()) {
		t.Fatalf("expected restart after context cancel to succeed")
	}
	loop.Stop()
}

func TestClockDriftIsMonotonic(t *testing.T) {
	base := time.Unix(1000, 0)
	current := base
	clock := NewClock(func() time.Time { return current })

	_, sim1, _ := clock.Snapshot()
	clock.Advance(50 * time.Millisecond)
	_, sim2, _ := clock.Snapshot()
	if sim2 <= sim1 {
		t.Fatalf("simulated time must advance: %d then %d", sim1, sim2)
	}

	// Wall time racing ahead of simulated time shows up as a positive offset.
	current = base.Add(time.Second)
	server, simulated, offset := clock.Snapshot()
	if offset != server-simulated {
		t.Fatalf("offset must equal server-simulated, got %d", offset)
	}
	if offset <= 0 {
		t.Fatalf("expected positive drift, got %d", offset)
	}
}

func TestTickMonitorAggregation(t *testing.T) {
	monitor := NewTickMonitor()
	monitor.Observe(10 * time.Millisecond)
	monitor.Observe(30 * time.Millisecond)
	monitor.Observe(0) // ignored

	snapshot := monitor.Snapshot()
	if snapshot.Samples != 2 {
		t.Fatalf("expected 2 samples, got %d", snapshot.Samples)
	}
	if snapshot.Average != 20*time.Millisecond {
		t.Fatalf("unexpected average %v", snapshot.Average)
	}
	if snapshot.Max != 30*time.Millisecond || snapshot.Last != 30*time.Millisecond {
		t.Fatalf("unexpected max/last %v/%v", snapshot.Max, snapshot.Last)
	}

	monitor.Reset()
	if got := monitor.Snapshot(); got.Samples != 0 || got.Average != 0 {
		t.Fatalf("reset did not clear statistics: %+v", got)
	}
}
