// Package transport defines the channel used to talk to the
// conversational coding agent: opening the chat surface, sending prompt
// text, selecting a model, and querying idle state. The engine depends
// only on the Transport interface; CLITransport is the subprocess-backed
// implementation.
package transport

import (
	"context"
	"fmt"
)

// Outcome tags a Reply. The agent's answer is never parsed beyond this
// classification plus the raw captured text.
type Outcome int

const (
	// OutcomeUnknown means the surface gave no usable signal. Callers
	// treat it as "sent, no confirmation".
	OutcomeUnknown Outcome = iota
	// OutcomeAccepted means the surface took the message.
	OutcomeAccepted
	// OutcomeRejected means the surface refused the message.
	OutcomeRejected
)

// Reply is the typed result of a transport operation.
type Reply struct {
	Outcome Outcome
	// Reason is set when Outcome is OutcomeRejected.
	Reason string
	// Text is the raw reply text captured from the agent, if any.
	Text string
}

// Accepted creates an accepted reply carrying the captured text.
func Accepted(text string) Reply { return Reply{Outcome: OutcomeAccepted, Text: text} }

// Rejected creates a rejected reply with a reason.
func Rejected(reason string) Reply { return Reply{Outcome: OutcomeRejected, Reason: reason} }

// Unknown creates a reply with no delivery signal.
func Unknown() Reply { return Reply{Outcome: OutcomeUnknown} }

// Transport is the chat surface contract the engine requires.
type Transport interface {
	// Open ensures the chat surface is available. focus requests operator
	// focus; background runs pass false.
	Open(ctx context.Context, focus bool) error

	// Send delivers prompt text to the agent. background suppresses any
	// focus-stealing behaviour of the surface.
	Send(ctx context.Context, text string, background bool) (Reply, error)

	// SelectModel asks the surface to switch to the named model. A
	// *ModelError means the model was refused; other errors are
	// communication failures.
	SelectModel(ctx context.Context, name string) error

	// Idle reports whether the agent has stopped producing activity.
	Idle(ctx context.Context) (bool, error)
}

// CommError is a communication failure between dirigent and the chat
// surface.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// ModelError is a model-specific refusal: the surface works but the
// requested model does not. Recoverable via the fallback selector.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %q unavailable: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
