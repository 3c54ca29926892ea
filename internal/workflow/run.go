package workflow

import (
	"sync"
	"time"

	"github.com/worksonmyai/dirigent/internal/protocol"
)

// Run is the single active execution context. It is owned by the
// Machine; the sequencer and the idle monitor only read its flags and
// touch the activity timestamp. There are no package-level singletons:
// one Run lives inside one Machine.
type Run struct {
	mu   sync.Mutex
	cond *sync.Cond

	phase            protocol.Phase
	running          bool
	paused           bool
	iteration        int
	background       bool
	activeModelIndex int
	lastActivity     time.Time

	// pauseNext requests a pause at the next iteration boundary. Set by
	// Continue so a single development iteration can run from a paused
	// state.
	pauseNext bool
}

func newRun() *Run {
	r := &Run{phase: protocol.PhaseIdle, activeModelIndex: -1}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// checkpoint is the cooperative cancellation/pause gate called at the
// start of every step and after every suspend. While paused it blocks on
// the condition variable until resume or stop; a stop observed here (or
// while blocked) returns ErrCancelled.
func (r *Run) checkpoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.paused && r.running {
		r.cond.Wait()
	}
	if !r.running {
		return ErrCancelled
	}
	return nil
}

// sleep waits for d while remaining responsive to pause and stop. The
// wait is chunked so cancellation latency is bounded by the chunk size,
// and time spent paused does not count against d.
func (r *Run) sleep(d time.Duration) error {
	const chunk = 200 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		if err := r.checkpoint(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > chunk {
			remaining = chunk
		}
		time.Sleep(remaining)
	}
}

// Touch moves the activity timestamp forward. Updates are monotonic:
// a reminder send finishing after a scripted send cannot move the
// timestamp backwards.
func (r *Run) Touch(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.lastActivity) {
		r.lastActivity = t
	}
}

// LastActivity returns the time of the last successful send.
func (r *Run) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Phase returns the current phase.
func (r *Run) Phase() protocol.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// IsRunning reports whether a run is active.
func (r *Run) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// IsPaused reports whether the active run is paused.
func (r *Run) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.paused
}

// Active reports whether the run is live and not paused. The idle
// monitor gates its timers on this.
func (r *Run) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && !r.paused && !r.phase.Terminal()
}

// Iteration returns the current development iteration counter.
func (r *Run) Iteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iteration
}

// ActiveModelIndex returns the index into the preferred-model list, or
// -1 when the surface default model is in use.
func (r *Run) ActiveModelIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeModelIndex
}

// Background reports whether transport calls should avoid stealing
// operator focus.
func (r *Run) Background() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.background
}

func (r *Run) setPhase(p protocol.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

func (r *Run) setActiveModelIndex(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeModelIndex = i
}

func (r *Run) bumpIteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iteration++
	return r.iteration
}

// takePauseNext consumes the Continue request flag.
func (r *Run) takePauseNext() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.pauseNext
	r.pauseNext = false
	return v
}
