// Package protocol defines the cross-package vocabulary for dirigent:
// workflow phases, agent operating modes, and the default timing values
// shared by the engine and the idle monitor.
package protocol

import "time"

// Phase is a named stage of the workflow state machine.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseInitializing        Phase = "initializing"
	PhaseCreatingBranch      Phase = "creating_branch"
	PhaseSendingTask         Phase = "sending_task"
	PhaseCheckingStatus      Phase = "checking_status"
	PhaseRequestingTests     Phase = "requesting_tests"
	PhaseVerifyingChecklist  Phase = "verifying_checklist"
	PhaseContinuingIteration Phase = "continuing_iteration"
	PhasePaused              Phase = "paused"
	PhaseCompleted           Phase = "completed"
	PhaseError               Phase = "error"
)

func (p Phase) String() string { return string(p) }

// IsValid reports whether p is a recognised phase value.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseInitializing, PhaseCreatingBranch, PhaseSendingTask,
		PhaseCheckingStatus, PhaseRequestingTests, PhaseVerifyingChecklist,
		PhaseContinuingIteration, PhasePaused, PhaseCompleted, PhaseError:
		return true
	default:
		return false
	}
}

// Terminal reports whether p is a resting state that requires a new start
// or restart to leave.
func (p Phase) Terminal() bool {
	return p == PhaseIdle || p == PhaseCompleted || p == PhaseError
}

// AgentMode is the operating mode announced to the agent during
// initialization.
type AgentMode string

const (
	ModeAgent AgentMode = "agent"
	ModeEdit  AgentMode = "edit"
	ModeAsk   AgentMode = "ask"
)

// IsValid reports whether m is a recognised agent mode.
func (m AgentMode) IsValid() bool {
	switch m {
	case ModeAgent, ModeEdit, ModeAsk:
		return true
	default:
		return false
	}
}

// Default timing values. Configuration overrides all of these.
const (
	DefaultIdleTimeout        = 30 * time.Second
	DefaultCheckAgentInterval = 10 * time.Second
	DefaultEnsureChatInterval = 5 * time.Minute
	DefaultMaxIterations      = 3

	// DefaultSettleShort is the post-send wait for prompts that only ask a
	// question. DefaultSettleLong is for prompts expected to trigger code
	// generation.
	DefaultSettleShort = 5 * time.Second
	DefaultSettleLong  = 30 * time.Second
)
