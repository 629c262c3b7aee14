// Package timeutil provides the clock used to time runs and pace replays.
package timeutil

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts the time operations the pipeline depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// Wait blocks for d, or until ctx is done in which case it returns
	// ctx.Err().
	Wait(ctx context.Context, d time.Duration) error
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Wait blocks for d or until ctx is done.
func (RealClock) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockClock is a manually controlled clock for tests. Wait never blocks; it
// records the duration and advances the clock by it.
type MockClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the mocked duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Wait records d and advances the clock, unless ctx is already done.
func (c *MockClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return nil
}

// Waits returns a copy of every duration passed to Wait.
func (c *MockClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// Pacer releases frames at the wall-clock offset implied by their index,
// measured from the first frame it sees. Frames that are already late are
// released immediately; lateness is not caught up by skipping.
type Pacer struct {
	clock    Clock
	perFrame float64 // seconds
	start    time.Time
	first    int
	started  bool
}

// NewPacer creates a pacer for the given frame rate, which must be > 0.
func NewPacer(clock Clock, framesPerSecond float64) *Pacer {
	return &Pacer{clock: clock, perFrame: 1 / framesPerSecond}
}

// Wait blocks until frame index is due.
func (p *Pacer) Wait(ctx context.Context, index int) error {
	if !p.started {
		p.start, p.first, p.started = p.clock.Now(), index, true
		return nil
	}
	due := time.Duration(float64(index-p.first) * p.perFrame * float64(time.Second))
	if wait := due - p.clock.Since(p.start); wait > 0 {
		return p.clock.Wait(ctx, wait)
	}
	return nil
}
