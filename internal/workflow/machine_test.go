package workflow

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/worksonmyai/dirigent/internal/config"
	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/prompts"
	"github.com/worksonmyai/dirigent/internal/protocol"
	"github.com/worksonmyai/dirigent/internal/transport"
)

// mapStore is an in-memory PromptLoader for tests.
type mapStore map[string]string

func (m mapStore) Load(id string) (string, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return "", &prompts.LoadError{ID: id, Err: fs.ErrNotExist}
}

func testStore() mapStore {
	return mapStore{
		prompts.IDTask:            "work on {{task}} (iteration {{iteration}})",
		prompts.IDStatusCheck:     "what is the current status?",
		prompts.IDWriteTests:      "write tests for the changes",
		prompts.IDTestStatus:      "do the tests pass?",
		prompts.IDVerifyChecklist: "verify the checklist",
		prompts.IDContinueQuery:   "is the task complete?",
		prompts.IDReminder:        "are you still working?",
		prompts.IDMode:            "operate in {{mode}} mode",
		prompts.IDModelSwitch:     "switching to {{model}}",
		prompts.IDBranch:          "work happens on branch {{branch}}",
	}
}

func testSnapshot() config.Snapshot {
	return config.Snapshot{
		MaxIterations: 1,
		WriteTests:    true,
		AgentMode:     protocol.ModeAgent,
		SettleShort:   time.Millisecond,
		SettleLong:    time.Millisecond,
	}
}

func snapFn(s config.Snapshot) func() config.Snapshot {
	return func() config.Snapshot { return s }
}

// continueDecider always asks for another iteration, so tests can prove
// the ceiling wins.
type continueDecider struct{}

func (continueDecider) ShouldContinue(int, string) bool { return true }

// eventLog records published events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) record(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) byKind(k event.Kind) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// gateTransport blocks the first Send until release is closed, so tests
// can observe a run mid-flight.
type gateTransport struct {
	*transport.ScriptTransport
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateTransport() *gateTransport {
	return &gateTransport{
		ScriptTransport: transport.NewScript(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (g *gateTransport) Send(ctx context.Context, text string, background bool) (transport.Reply, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.ScriptTransport.Send(ctx, text, background)
}

func newTestMachine(tr transport.Transport, snap config.Snapshot, decider Decider) *Machine {
	return NewMachine(Options{
		Transport: tr,
		Store:     testStore(),
		Render:    prompts.Render,
		Decider:   decider,
		Config:    snapFn(snap),
		Task:      "fix the login bug in auth",
	})
}

func TestStartCompletesSinglePass(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	require.NoError(t, m.Start())

	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
	require.False(t, m.Run().IsRunning())
	require.Equal(t, 0, m.Run().Iteration())

	// Initialization sends mode announcement plus the task text, then one
	// full development pass sends all six scripted steps.
	require.Equal(t, 8, tr.SendCount())
	require.Len(t, tr.Opens, 1)
	require.True(t, tr.Opens[0].Focus)
}

func TestStartAlreadyRunning(t *testing.T) {
	tr := newGateTransport()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()
	<-tr.entered

	require.ErrorIs(t, m.Start(), ErrAlreadyRunning)

	close(tr.release)
	require.NoError(t, <-errCh)
	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
}

func TestOperatorCommandsAreNoOpsWhenIdle(t *testing.T) {
	m := newTestMachine(transport.NewScript(), testSnapshot(), StopDecider{})

	m.Pause()
	m.Resume()
	m.Stop()
	m.Continue()

	require.Equal(t, protocol.PhaseIdle, m.Run().Phase())
	require.False(t, m.Run().IsRunning())
	require.False(t, m.Run().IsPaused())
}

func TestPauseResumeRoundTrip(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	var once sync.Once
	m.Publisher().Subscribe(func(e event.Event) {
		if e.Kind == event.KindSend {
			once.Do(m.Pause)
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()

	require.Eventually(t, m.Run().IsPaused, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, protocol.PhasePaused, m.Run().Phase())
	require.False(t, m.Active())

	m.Resume()
	require.NoError(t, <-errCh)
	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
}

func TestStopWhilePausedUnwindsToIdle(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	var once sync.Once
	m.Publisher().Subscribe(func(e event.Event) {
		if e.Kind == event.KindSend {
			once.Do(m.Pause)
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()
	require.Eventually(t, m.Run().IsPaused, 2*time.Second, 5*time.Millisecond)

	m.Stop()

	require.NoError(t, <-errCh)
	require.Equal(t, protocol.PhaseIdle, m.Run().Phase())
	require.Equal(t, 0, m.Run().Iteration())
	require.False(t, m.Run().IsRunning())
}

func TestStopMidRunMapsToIdle(t *testing.T) {
	tr := newGateTransport()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()
	<-tr.entered

	m.Stop()

	require.NoError(t, <-errCh)
	require.Equal(t, protocol.PhaseIdle, m.Run().Phase())
	require.Equal(t, 0, m.Run().Iteration())
}

func TestStopRacesStartCleanly(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	// Stop fires from another goroutine at an arbitrary point of the
	// startup window. Whatever lands first, the run must terminate and the
	// machine must end in a resting phase with its flags consistent.
	for i := 0; i < 100; i++ {
		errCh := make(chan error, 1)
		go func() { errCh <- m.Start() }()
		m.Stop()
		require.NoError(t, <-errCh)
		require.False(t, m.Run().IsRunning())

		p := m.Run().Phase()
		require.True(t, p == protocol.PhaseIdle || p == protocol.PhaseCompleted, "phase %s", p)
	}
}

func TestContinueRunsExactlyOneIteration(t *testing.T) {
	tr := transport.NewScript()
	snap := testSnapshot()
	snap.MaxIterations = 10
	m := newTestMachine(tr, snap, continueDecider{})

	var once sync.Once
	m.Publisher().Subscribe(func(e event.Event) {
		if e.Kind == event.KindSend {
			once.Do(m.Pause)
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start() }()
	require.Eventually(t, m.Run().IsPaused, 2*time.Second, 5*time.Millisecond)

	m.Continue()

	// The run finishes the current iteration and pauses again at the next
	// iteration boundary.
	require.Eventually(t, func() bool {
		return m.Run().IsPaused() && m.Run().Iteration() == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	require.NoError(t, <-errCh)
	require.Equal(t, protocol.PhaseIdle, m.Run().Phase())
}

func TestRestartAfterCompletedRun(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	require.NoError(t, m.Start())
	first := tr.SendCount()

	require.NoError(t, m.Restart())

	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
	require.Equal(t, 2*first, tr.SendCount())
}

func TestBackgroundModeNeverRequestsFocus(t *testing.T) {
	tr := transport.NewScript()
	snap := testSnapshot()
	snap.BackgroundMode = true
	m := newTestMachine(tr, snap, StopDecider{})

	require.NoError(t, m.Start())

	require.Len(t, tr.Opens, 1)
	require.False(t, tr.Opens[0].Focus)
	for _, s := range tr.Sends {
		require.True(t, s.Background, "send %q requested foreground", s.Text)
	}
}

func TestForegroundModeOpensWithFocus(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	require.NoError(t, m.Start())

	require.Len(t, tr.Opens, 1)
	require.True(t, tr.Opens[0].Focus)
	for _, s := range tr.Sends {
		require.False(t, s.Background)
	}
}

func TestSendReminderTouchesActivity(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	var log eventLog
	m.Publisher().Subscribe(log.record)

	before := m.LastActivity()
	require.NoError(t, m.SendReminder(context.Background()))

	last, ok := tr.LastSend()
	require.True(t, ok)
	require.Equal(t, "are you still working?", last.Text)
	require.True(t, m.LastActivity().After(before))

	sends := log.byKind(event.KindSend)
	require.Len(t, sends, 1)
	require.Equal(t, "reminder", sends[0].Text)
}

func TestEnsureOpenHonoursBackground(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	require.NoError(t, m.EnsureOpen(context.Background()))
	require.Len(t, tr.Opens, 1)
	require.True(t, tr.Opens[0].Focus)
}

func TestTaskSlug(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{"Fix the login bug now please", "fix-the-login-bug"},
		{"refactor", "refactor"},
		{"  Add   CI  ", "add-ci"},
		{"", "task"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, taskSlug(tt.task), "task %q", tt.task)
	}
}

func TestPromptLoadFailureEndsInError(t *testing.T) {
	tr := transport.NewScript()
	store := testStore()
	delete(store, prompts.IDStatusCheck)
	m := NewMachine(Options{
		Transport: tr,
		Store:     store,
		Render:    prompts.Render,
		Decider:   StopDecider{},
		Config:    snapFn(testSnapshot()),
		Task:      "anything",
	})

	require.NoError(t, m.Start())
	require.Equal(t, protocol.PhaseError, m.Run().Phase())
}

func TestErrorPhaseMessagePublished(t *testing.T) {
	tr := transport.NewScript()
	tr.SendErrs = []error{&transport.CommError{Op: "send", Err: errors.New("boom")}}
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	var log eventLog
	m.Publisher().Subscribe(log.record)

	require.NoError(t, m.Start())
	require.Equal(t, protocol.PhaseError, m.Run().Phase())

	notices := log.byKind(event.KindNotice)
	require.NotEmpty(t, notices)
	require.Contains(t, notices[len(notices)-1].Text, "boom")
}

func TestRenderedPromptsCarryTaskAndMode(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	require.NoError(t, m.Start())

	var sawMode, sawTask bool
	for _, s := range tr.Sends {
		if s.Text == "operate in agent mode" {
			sawMode = true
		}
		if strings.Contains(s.Text, "fix the login bug in auth") && strings.Contains(s.Text, "iteration 1") {
			sawTask = true
		}
	}
	require.True(t, sawMode, "mode announcement not sent")
	require.True(t, sawTask, "task prompt with substituted variables not sent")
}
