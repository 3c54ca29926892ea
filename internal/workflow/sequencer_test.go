package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/prompts"
	"github.com/worksonmyai/dirigent/internal/protocol"
	"github.com/worksonmyai/dirigent/internal/transport"
)

// fakeBrancher records the slug and returns a fixed branch name.
type fakeBrancher struct {
	slug   string
	branch string
	err    error
	calls  int
}

func (f *fakeBrancher) CreateAndCheckoutBranch(slug string) (string, error) {
	f.calls++
	f.slug = slug
	if f.err != nil {
		return "", f.err
	}
	return f.branch, nil
}

func TestIterationCeilingBeatsDecider(t *testing.T) {
	tr := transport.NewScript()
	snap := testSnapshot()
	snap.MaxIterations = 1
	m := newTestMachine(tr, snap, continueDecider{})

	require.NoError(t, m.Start())

	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
	require.Equal(t, 0, m.Run().Iteration())
	require.Equal(t, 8, tr.SendCount())
}

func TestIterationsRunToCeiling(t *testing.T) {
	tr := transport.NewScript()
	snap := testSnapshot()
	snap.MaxIterations = 3
	m := newTestMachine(tr, snap, continueDecider{})

	require.NoError(t, m.Start())

	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
	require.Equal(t, 2, m.Run().Iteration())
	// 2 initialization sends plus three full development passes.
	require.Equal(t, 2+3*6, tr.SendCount())
}

func TestDeciderStopsBeforeCeiling(t *testing.T) {
	tr := transport.NewScript()
	// The continuation query is the 8th send of the first pass and the
	// 14th of the second; the first reply asks for more work, the second
	// reports completion.
	tr.Replies = make([]transport.Reply, 14)
	for i := range tr.Replies {
		tr.Replies[i] = transport.Accepted("")
	}
	tr.Replies[7] = transport.Accepted("The checklist is not complete yet")
	tr.Replies[13] = transport.Accepted("Everything is done")

	snap := testSnapshot()
	snap.MaxIterations = 5
	m := newTestMachine(tr, snap, KeywordDecider{})

	require.NoError(t, m.Start())

	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
	require.Equal(t, 1, m.Run().Iteration())
	require.Equal(t, 14, tr.SendCount())
}

func TestWriteTestsGateSkipsSteps(t *testing.T) {
	tr := transport.NewScript()
	snap := testSnapshot()
	snap.WriteTests = false
	m := newTestMachine(tr, snap, StopDecider{})

	require.NoError(t, m.Start())

	require.Equal(t, 2+4, tr.SendCount())
	for _, s := range tr.Sends {
		require.NotContains(t, s.Text, "write tests")
		require.NotContains(t, s.Text, "do the tests pass")
	}
}

func TestBranchCreatedDuringInitialization(t *testing.T) {
	tr := transport.NewScript()
	git := &fakeBrancher{branch: "dirigent/fix-the-login-bug-20260825"}
	snap := testSnapshot()
	snap.InitCreateBranch = true
	m := NewMachine(Options{
		Transport: tr,
		Git:       git,
		Store:     testStore(),
		Render:    prompts.Render,
		Decider:   StopDecider{},
		Config:    snapFn(snap),
		Task:      "fix the login bug in auth",
	})

	var log eventLog
	m.Publisher().Subscribe(log.record)

	require.NoError(t, m.Start())

	require.Equal(t, 1, git.calls)
	require.Equal(t, "fix-the-login-bug", git.slug)

	var announced bool
	for _, s := range tr.Sends {
		if strings.Contains(s.Text, git.branch) {
			announced = true
		}
	}
	require.True(t, announced, "branch announcement not sent to the agent")
}

func TestBranchSkippedWithoutRepo(t *testing.T) {
	tr := transport.NewScript()
	snap := testSnapshot()
	snap.InitCreateBranch = true
	// Git is nil: branch creation is disabled regardless of config.
	m := newTestMachine(tr, snap, StopDecider{})

	require.NoError(t, m.Start())
	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
}

func TestBranchFailureEndsInError(t *testing.T) {
	tr := transport.NewScript()
	git := &fakeBrancher{err: errors.New("detached head")}
	snap := testSnapshot()
	snap.InitCreateBranch = true
	m := NewMachine(Options{
		Transport: tr,
		Git:       git,
		Store:     testStore(),
		Render:    prompts.Render,
		Decider:   StopDecider{},
		Config:    snapFn(snap),
		Task:      "anything at all",
	})

	require.NoError(t, m.Start())
	require.Equal(t, protocol.PhaseError, m.Run().Phase())
}

func TestInitialModelSelectionWalksPreferenceList(t *testing.T) {
	tr := transport.NewScript()
	tr.RejectModels = map[string]bool{"model-a": true}
	snap := testSnapshot()
	snap.PreferredModels = []string{"model-a", "model-b", "model-c"}
	m := newTestMachine(tr, snap, StopDecider{})

	require.NoError(t, m.Start())

	require.Equal(t, []string{"model-a", "model-b"}, tr.Selections)
	require.Equal(t, 1, m.Run().ActiveModelIndex())
}

func TestModelFallbackMidRunRetriesFailingStep(t *testing.T) {
	tr := transport.NewScript()
	tr.RejectModels = map[string]bool{"model-a": true}
	// Send order: mode, task literal, then the development task prompt,
	// which fails with a model error on its first attempt.
	tr.SendErrs = []error{nil, nil, &transport.ModelError{Model: "model-b", Err: errors.New("overloaded")}}

	snap := testSnapshot()
	snap.PreferredModels = []string{"model-a", "model-b", "model-c"}
	m := newTestMachine(tr, snap, continueDecider{})

	var log eventLog
	m.Publisher().Subscribe(log.record)

	require.NoError(t, m.Start())

	require.Equal(t, protocol.PhaseCompleted, m.Run().Phase())
	require.Equal(t, 2, m.Run().ActiveModelIndex())
	require.Equal(t, []string{"model-a", "model-b", "model-c"}, tr.Selections)

	// The failing step was retried, not skipped: the switch notification
	// plus the retry add two sends to the single-pass baseline.
	require.Equal(t, 8+2, tr.SendCount())

	warnings := log.byKind(event.KindWarning)
	var sawSwitch bool
	for _, w := range warnings {
		if strings.Contains(w.Text, "model-c") {
			sawSwitch = true
		}
	}
	require.True(t, sawSwitch, "model switch warning not published")
}

func TestModelExhaustionFailsRun(t *testing.T) {
	tr := transport.NewScript()
	tr.SendErrs = []error{&transport.ModelError{Model: "model-a", Err: errors.New("gone")}}
	snap := testSnapshot()
	snap.PreferredModels = []string{"model-a"}
	m := newTestMachine(tr, snap, StopDecider{})

	var log eventLog
	m.Publisher().Subscribe(log.record)

	require.NoError(t, m.Start())
	require.Equal(t, protocol.PhaseError, m.Run().Phase())

	notices := log.byKind(event.KindNotice)
	require.NotEmpty(t, notices)
	require.Contains(t, notices[len(notices)-1].Text, "all preferred models failed")
}

func TestEmptyModelListUsesSurfaceDefault(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	require.NoError(t, m.Start())

	require.Empty(t, tr.Selections)
	require.Equal(t, -1, m.Run().ActiveModelIndex())
}

func TestPhaseSequenceForOnePass(t *testing.T) {
	tr := transport.NewScript()
	m := newTestMachine(tr, testSnapshot(), StopDecider{})

	var log eventLog
	m.Publisher().Subscribe(log.record)

	require.NoError(t, m.Start())

	var phases []protocol.Phase
	for _, e := range log.byKind(event.KindPhase) {
		if len(phases) == 0 || phases[len(phases)-1] != e.Phase {
			phases = append(phases, e.Phase)
		}
	}
	require.Equal(t, []protocol.Phase{
		protocol.PhaseInitializing,
		protocol.PhaseSendingTask,
		protocol.PhaseCheckingStatus,
		protocol.PhaseRequestingTests,
		protocol.PhaseVerifyingChecklist,
		protocol.PhaseContinuingIteration,
		protocol.PhaseCompleted,
	}, phases)
}
