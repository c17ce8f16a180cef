package sim

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by a fixed timestep.
type StepFunc func(step time.Duration)

// Loop drives a fixed timestep simulation at the configured tick rate. A
// ticker feeds an accumulator so the step function always observes the same
// dt even when the scheduler wobbles.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop configures a loop targeting the provided tick frequency in Hz.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 100
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Loop{step: interval, stepFunc: step}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
// Starting an already-running loop is a no-op and reports false.
func (l *Loop) Start(ctx context.Context) bool {
	if l == nil || l.stepFunc == nil {
		return false
	}
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	derived, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.running = true
	l.mu.Unlock()

	go func() {
		defer func() {
			//2.- Clear the running flag on exit so a cancelled parent context
			// leaves the loop restartable. Skip when Stop or a newer Start
			// already replaced the state.
			l.mu.Lock()
			if l.done == done {
				l.running = false
				l.cancel = nil
				l.done = nil
			}
			l.mu.Unlock()
			close(done)
		}()
		ticker := time.NewTicker(l.step)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-derived.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				for accumulator >= l.step {
					l.stepFunc(l.step)
					accumulator -= l.step
				}
			}
		}
	}()
	return true
}

// Stop cancels the loop and waits for the goroutine to exit. Safe to call
// repeatedly; extra calls are no-ops.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.running = false
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
