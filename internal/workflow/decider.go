package workflow

import "strings"

// Decider decides whether the development phase should loop after the
// checklist-verification query. The iteration ceiling is enforced by the
// sequencer before the decider is consulted, so implementations only
// interpret the agent's reply. This is a policy seam: there is no
// reliable "task is done" signal from a free-text agent, so the default
// heuristic is deliberately replaceable.
type Decider interface {
	// ShouldContinue returns true when another development iteration is
	// needed. reply is the agent's answer to the continuation query;
	// it may be empty when the surface gave no text back.
	ShouldContinue(iteration int, reply string) bool
}

// incompleteMarkers are phrases that indicate the checklist is not done.
var incompleteMarkers = []string{
	"not complete",
	"not yet complete",
	"incomplete",
	"remaining",
	"still working",
	"in progress",
	"unfinished",
	"todo",
	"to do",
	"blocked",
}

// KeywordDecider continues when the reply contains a phrase indicating
// incompleteness. An empty reply stops: with no signal at all, another
// blind iteration is more likely to churn than to help.
type KeywordDecider struct{}

func (KeywordDecider) ShouldContinue(_ int, reply string) bool {
	if strings.TrimSpace(reply) == "" {
		return false
	}
	lower := strings.ToLower(reply)
	for _, marker := range incompleteMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// StopDecider always terminates after the current iteration. Useful for
// conservative runs and tests.
type StopDecider struct{}

func (StopDecider) ShouldContinue(int, string) bool { return false }
