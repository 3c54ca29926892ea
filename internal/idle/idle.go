// Package idle watches for the agent going quiet during an active run
// and nudges it with a reminder prompt. It also periodically makes sure
// the chat surface is still open. Both checks run on independent timers
// and only observe engine state; control decisions stay in the engine.
package idle

import (
	"context"
	"sync"
	"time"

	"github.com/worksonmyai/dirigent/internal/debug"
)

// Engine is the slice of the workflow engine the monitor needs.
type Engine interface {
	// Active reports running && !paused.
	Active() bool
	// LastActivity is the time of the last successful send.
	LastActivity() time.Time
	// SendReminder sends the reminder prompt and touches activity.
	SendReminder(ctx context.Context) error
	// EnsureOpen re-opens the chat surface (background-aware).
	EnsureOpen(ctx context.Context) error
}

// Intervals holds the monitor's timing configuration.
type Intervals struct {
	// IdleTimeout is how long without activity counts as idle.
	IdleTimeout time.Duration
	// CheckAgent is the idle-check tick interval.
	CheckAgent time.Duration
	// EnsureChat is the ensure-open tick interval.
	EnsureChat time.Duration
}

// Monitor runs the two timers. Construct with New, then Start; call
// Reconfigure when the governing configuration changes and Close on
// engine shutdown.
type Monitor struct {
	eng Engine

	mu        sync.Mutex
	intervals Intervals
	stop      chan struct{}
	wg        sync.WaitGroup
	started   bool
}

// New creates a monitor; timers do not run until Start.
func New(eng Engine, intervals Intervals) *Monitor {
	return &Monitor{eng: eng, intervals: intervals}
}

// Start launches both timer loops. Calling Start on a started monitor is
// a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.startLocked()
}

func (m *Monitor) startLocked() {
	m.stop = make(chan struct{})
	m.started = true

	m.wg.Add(2)
	go m.idleLoop(m.stop, m.intervals)
	go m.ensureLoop(m.stop, m.intervals)
}

// Reconfigure tears down both timers and recreates them with the new
// intervals. Safe to call whether or not the monitor is running, and
// safe against concurrent Close: a stopped monitor stays stopped. The
// stop channel is cleared before the lock is released so no other
// caller can close it twice.
func (m *Monitor) Reconfigure(intervals Intervals) {
	m.mu.Lock()
	m.intervals = intervals
	if !m.started || m.stop == nil {
		// Not running, or another Reconfigure is mid-restart and will
		// pick up the new intervals when it does.
		m.mu.Unlock()
		return
	}
	close(m.stop)
	m.stop = nil
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	if m.started {
		m.startLocked()
	}
	m.mu.Unlock()
}

// Close stops both timers and waits for them to exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	if m.stop != nil {
		close(m.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// idleLoop fires the idle check every CheckAgent interval. A reminder is
// sent when the run is active and the last activity is older than
// IdleTimeout; SendReminder updates the activity timestamp, so one idle
// period produces one reminder.
func (m *Monitor) idleLoop(stop <-chan struct{}, iv Intervals) {
	defer m.wg.Done()
	ticker := time.NewTicker(iv.CheckAgent)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.eng.Active() {
				continue
			}
			if time.Since(m.eng.LastActivity()) <= iv.IdleTimeout {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := m.eng.SendReminder(ctx); err != nil {
				debug.Logf("idle: reminder failed: %v", err)
			}
			cancel()
		}
	}
}

// ensureLoop re-opens the chat surface every EnsureChat interval while
// the run is active. Failures are best-effort: logged and retried on the
// next tick.
func (m *Monitor) ensureLoop(stop <-chan struct{}, iv Intervals) {
	defer m.wg.Done()
	ticker := time.NewTicker(iv.EnsureChat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.eng.Active() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.eng.EnsureOpen(ctx); err != nil {
				debug.Logf("idle: ensure-open failed: %v", err)
			}
			cancel()
		}
	}
}
