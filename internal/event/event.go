// Package event defines the typed state-change events published by the
// workflow engine and consumed by passive observers (TUI panel, CLI
// output). Observers never feed back into engine control decisions.
package event

import (
	"sync"

	"github.com/worksonmyai/dirigent/internal/protocol"
)

// Kind identifies the type of event.
type Kind int

const (
	// KindPhase is a phase transition of the workflow state machine.
	KindPhase Kind = iota
	// KindNotice is a one-shot operator notification (paused, completed,
	// error). Observers may surface these intrusively.
	KindNotice
	// KindSend is a prompt handed to the chat transport.
	KindSend
	// KindReply is text captured from the agent's reply.
	KindReply
	// KindWarning is a non-fatal condition the run continued past.
	KindWarning
)

// Event is a single typed event emitted by the engine.
type Event struct {
	Kind  Kind
	Phase protocol.Phase
	Text  string
}

// Handler is a callback that receives typed events. Handlers must not
// block: the publisher invokes them synchronously to preserve ordering.
type Handler func(Event)

// Phase creates a KindPhase event.
func Phase(p protocol.Phase, text string) Event {
	return Event{Kind: KindPhase, Phase: p, Text: text}
}

// Notice creates a KindNotice event.
func Notice(p protocol.Phase, text string) Event {
	return Event{Kind: KindNotice, Phase: p, Text: text}
}

// Send creates a KindSend event.
func Send(text string) Event { return Event{Kind: KindSend, Text: text} }

// Reply creates a KindReply event.
func Reply(text string) Event { return Event{Kind: KindReply, Text: text} }

// Warning creates a KindWarning event.
func Warning(text string) Event { return Event{Kind: KindWarning, Text: text} }

// Publisher fans events out to registered handlers in subscription order.
// Delivery order matches publish order; a nil Publisher drops everything,
// so collaborators can hold one unconditionally.
type Publisher struct {
	mu       sync.Mutex
	handlers []Handler
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Subscribe registers a handler. Handlers cannot be removed; observers
// live as long as the engine.
func (p *Publisher) Subscribe(h Handler) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Publish delivers e to every handler in subscription order.
func (p *Publisher) Publish(e Event) {
	if p == nil {
		return
	}
	p.mu.Lock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}
