// Package workflow implements the orchestration engine that drives a
// conversational coding agent through a scripted task: the pausable,
// cancellable state machine, the phase sequencer, and the continuation
// policy. All I/O goes through the transport, git, and prompt-store
// collaborators injected at construction.
package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/worksonmyai/dirigent/internal/config"
	"github.com/worksonmyai/dirigent/internal/debug"
	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/fallback"
	"github.com/worksonmyai/dirigent/internal/prompts"
	"github.com/worksonmyai/dirigent/internal/protocol"
	"github.com/worksonmyai/dirigent/internal/transport"
)

// restartGrace is the delay between stop and start during Restart, so
// the chat surface settles before the fresh run opens it again.
const restartGrace = 500 * time.Millisecond

// Brancher is the git collaborator contract.
type Brancher interface {
	CreateAndCheckoutBranch(slug string) (string, error)
}

// PromptLoader is the prompt store contract.
type PromptLoader interface {
	Load(id string) (string, error)
}

// RenderFunc substitutes template variables into a loaded prompt.
type RenderFunc func(template string, vars map[string]string) string

// Machine owns the WorkflowRun and executes operator commands. One
// Machine exists per process; at most one run is active at a time.
type Machine struct {
	tr       transport.Transport
	git      Brancher // nil disables branch creation regardless of config
	store    PromptLoader
	render   RenderFunc
	selector *fallback.Selector
	pub      *event.Publisher
	decider  Decider
	cfgFn    func() config.Snapshot
	task     string

	run *Run

	// cancel and done belong to the active run; both are guarded by
	// run.mu so operator commands on other goroutines always observe the
	// pair Start installed.
	cancel context.CancelFunc
	done   chan struct{}
}

// Options bundles the collaborators for NewMachine.
type Options struct {
	Transport transport.Transport
	Git       Brancher
	Store     PromptLoader
	Render    RenderFunc
	Publisher *event.Publisher
	Decider   Decider
	Config    func() config.Snapshot
	Task      string
}

// NewMachine creates an engine in the Idle phase.
func NewMachine(opts Options) *Machine {
	pub := opts.Publisher
	if pub == nil {
		pub = event.NewPublisher()
	}
	decider := opts.Decider
	if decider == nil {
		decider = KeywordDecider{}
	}
	render := opts.Render
	if render == nil {
		render = func(t string, _ map[string]string) string { return t }
	}
	return &Machine{
		tr:       opts.Transport,
		git:      opts.Git,
		store:    opts.Store,
		render:   render,
		selector: fallback.New(opts.Transport, pub),
		pub:      pub,
		decider:  decider,
		cfgFn:    opts.Config,
		task:     opts.Task,
		run:      newRun(),
	}
}

// Run returns the execution context for read-only observation.
func (m *Machine) Run() *Run { return m.run }

// Publisher returns the event publisher observers subscribe to.
func (m *Machine) Publisher() *event.Publisher { return m.pub }

// Start begins a run and blocks until it finishes. It returns
// ErrAlreadyRunning if a run is active. Errors inside the run never
// escape the run boundary: they are mapped to the Error phase and
// published, and Start returns nil.
func (m *Machine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.run.mu.Lock()
	if m.run.running {
		m.run.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	m.run.running = true
	m.run.paused = false
	m.run.pauseNext = false
	m.run.iteration = 0
	m.run.activeModelIndex = -1
	m.run.lastActivity = time.Now()
	m.cancel = cancel
	m.done = done
	m.run.mu.Unlock()

	defer cancel()
	defer close(done)

	cfg := m.cfgFn()
	m.run.mu.Lock()
	m.run.background = cfg.BackgroundMode
	m.run.mu.Unlock()

	err := m.runInitialization(ctx, cfg)
	if err == nil {
		err = m.runDevelopment(ctx)
	}

	m.finish(err)
	return nil
}

// finish is the run boundary: the only place errors are classified.
func (m *Machine) finish(err error) {
	m.run.mu.Lock()
	m.run.running = false
	m.run.paused = false
	m.run.cond.Broadcast()
	m.run.mu.Unlock()

	switch {
	case err == nil:
		m.setPhase(protocol.PhaseCompleted, "all iterations finished")
		m.pub.Publish(event.Notice(protocol.PhaseCompleted, "workflow completed"))
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		m.run.mu.Lock()
		m.run.iteration = 0
		m.run.mu.Unlock()
		m.setPhase(protocol.PhaseIdle, "stopped")
	default:
		debug.Logf("workflow: run failed: %v", err)
		m.setPhase(protocol.PhaseError, err.Error())
		m.pub.Publish(event.Notice(protocol.PhaseError, err.Error()))
	}
}

// Pause suspends the run at the next checkpoint. No-op unless running
// and not already paused.
func (m *Machine) Pause() {
	m.run.mu.Lock()
	if !m.run.running || m.run.paused {
		m.run.mu.Unlock()
		return
	}
	m.run.paused = true
	m.run.phase = protocol.PhasePaused
	m.run.mu.Unlock()

	m.pub.Publish(event.Phase(protocol.PhasePaused, ""))
	m.pub.Publish(event.Notice(protocol.PhasePaused, "workflow paused"))
}

// Resume wakes a paused run. No-op unless running and paused. The phase
// returns to Initializing so status reflects "resuming" until the next
// step sets its own phase.
func (m *Machine) Resume() {
	m.run.mu.Lock()
	if !m.run.running || !m.run.paused {
		m.run.mu.Unlock()
		return
	}
	m.run.paused = false
	m.run.phase = protocol.PhaseInitializing
	m.run.cond.Broadcast()
	m.run.mu.Unlock()

	m.pub.Publish(event.Phase(protocol.PhaseInitializing, "resuming"))
}

// Stop aborts the run. No-op when not running. Steps blocked in the
// checkpoint observe the cancellation immediately; a transport call in
// flight finishes first.
func (m *Machine) Stop() {
	m.run.mu.Lock()
	if !m.run.running {
		m.run.mu.Unlock()
		return
	}
	m.run.running = false
	m.run.paused = false
	m.run.iteration = 0
	m.run.cond.Broadcast()
	cancel := m.cancel
	m.run.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Restart stops any active run, waits for it to unwind plus a short
// grace delay, then starts fresh. Blocks like Start.
func (m *Machine) Restart() error {
	m.run.mu.Lock()
	running := m.run.running
	done := m.done
	m.run.mu.Unlock()

	if running {
		m.Stop()
		if done != nil {
			<-done
		}
	}
	time.Sleep(restartGrace)
	return m.Start()
}

// Continue advances one development iteration from a paused run: the
// engine resumes, finishes the current iteration, and pauses again at
// the next iteration boundary. No-op unless running and paused.
func (m *Machine) Continue() {
	m.run.mu.Lock()
	if !m.run.running || !m.run.paused {
		m.run.mu.Unlock()
		return
	}
	m.run.pauseNext = true
	m.run.paused = false
	m.run.phase = protocol.PhaseInitializing
	m.run.cond.Broadcast()
	m.run.mu.Unlock()

	m.pub.Publish(event.Phase(protocol.PhaseInitializing, "continuing one iteration"))
}

// Active reports running && !paused; the idle monitor gates on this.
func (m *Machine) Active() bool { return m.run.Active() }

// LastActivity returns the time of the last successful send.
func (m *Machine) LastActivity() time.Time { return m.run.LastActivity() }

// SendReminder sends the idle-reminder prompt through the transport.
// Invoked by the idle monitor; uses the same send path as scripted
// steps, including the activity touch.
func (m *Machine) SendReminder(ctx context.Context) error {
	text, err := m.store.Load(prompts.IDReminder)
	if err != nil {
		return err
	}
	reply, err := m.tr.Send(ctx, text, m.run.Background())
	if err != nil {
		return err
	}
	m.run.Touch(time.Now())
	m.pub.Publish(event.Send("reminder"))
	if reply.Text != "" {
		m.pub.Publish(event.Reply(reply.Text))
	}
	return nil
}

// EnsureOpen re-opens the chat surface, focusing it only when not in
// background mode.
func (m *Machine) EnsureOpen(ctx context.Context) error {
	return m.tr.Open(ctx, !m.run.Background())
}

func (m *Machine) setPhase(p protocol.Phase, msg string) {
	m.run.setPhase(p)
	m.pub.Publish(event.Phase(p, msg))
}

// taskSlug derives a branch-name fragment from the task text.
func taskSlug(task string) string {
	words := strings.Fields(strings.ToLower(task))
	if len(words) > 4 {
		words = words[:4]
	}
	if len(words) == 0 {
		return "task"
	}
	return strings.Join(words, "-")
}
