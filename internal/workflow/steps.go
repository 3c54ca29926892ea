package workflow

import (
	"strconv"
	"time"

	"github.com/worksonmyai/dirigent/internal/config"
	"github.com/worksonmyai/dirigent/internal/prompts"
	"github.com/worksonmyai/dirigent/internal/protocol"
)

// settleKind selects the post-send wait for a step. Steps expected to
// trigger code generation settle longer than steps that only ask a
// question.
type settleKind int

const (
	settleShort settleKind = iota
	settleLong
)

// Step describes one scripted transport interaction. Steps are data, not
// code: the same executor runs both macro-phases.
type Step struct {
	// Phase the state machine shows while this step runs.
	Phase protocol.Phase
	// PromptID is looked up in the prompt store. Empty means Literal is
	// sent as-is.
	PromptID string
	Literal  string
	// Gate skips the step when it returns false. Nil means always run.
	Gate func(config.Snapshot) bool
	// Settle selects the post-send wait duration.
	Settle settleKind
	// CaptureReply records the agent's reply text for the continuation
	// decision.
	CaptureReply bool
}

func (s Step) settle(cfg config.Snapshot) time.Duration {
	if s.Settle == settleLong {
		return cfg.SettleLong
	}
	return cfg.SettleShort
}

func gateWriteTests(cfg config.Snapshot) bool { return cfg.WriteTests }

// developmentSteps is the scripted per-iteration sequence. The
// continuation query runs last; its reply feeds the decider.
var developmentSteps = []Step{
	{Phase: protocol.PhaseSendingTask, PromptID: prompts.IDTask, Settle: settleLong},
	{Phase: protocol.PhaseCheckingStatus, PromptID: prompts.IDStatusCheck, Settle: settleShort},
	{Phase: protocol.PhaseRequestingTests, PromptID: prompts.IDWriteTests, Settle: settleLong, Gate: gateWriteTests},
	{Phase: protocol.PhaseRequestingTests, PromptID: prompts.IDTestStatus, Settle: settleShort, Gate: gateWriteTests},
	{Phase: protocol.PhaseVerifyingChecklist, PromptID: prompts.IDVerifyChecklist, Settle: settleShort},
	{Phase: protocol.PhaseVerifyingChecklist, PromptID: prompts.IDContinueQuery, Settle: settleShort, CaptureReply: true},
}

// stepVars builds the template variables available to every step.
func stepVars(task string, iteration int, cfg config.Snapshot) map[string]string {
	return map[string]string{
		"task":      task,
		"iteration": strconv.Itoa(iteration + 1),
		"mode":      string(cfg.AgentMode),
	}
}
