// Package fallback chooses an operational model from an ordered
// preference list, retrying down the list when the chat surface refuses
// a candidate.
package fallback

import (
	"context"

	"github.com/worksonmyai/dirigent/internal/debug"
	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/transport"
)

// Selector tries model candidates against the transport in preference
// order.
type Selector struct {
	tr  transport.Transport
	pub *event.Publisher
}

// New creates a selector. pub may be nil.
func New(tr transport.Transport, pub *event.Publisher) *Selector {
	return &Selector{tr: tr, pub: pub}
}

// SelectInitial tries each candidate in order and returns the index of
// the first one the surface accepts. ok is false when the list is empty
// or every candidate was refused; the run then proceeds on the surface's
// default model, which is a warning, not a failure.
func (s *Selector) SelectInitial(ctx context.Context, models []string) (int, bool) {
	for i, name := range models {
		if err := s.tr.SelectModel(ctx, name); err != nil {
			debug.Logf("fallback: model %q refused: %v", name, err)
			s.pub.Publish(event.Warning("model " + name + " unavailable, trying next"))
			continue
		}
		return i, true
	}
	if len(models) > 0 {
		s.pub.Publish(event.Warning("no preferred model available, using surface default"))
	}
	return 0, false
}

// HandleFailure advances past current after a mid-run model failure.
// It returns the index of the next candidate the surface accepts, or
// ok=false when the list is exhausted — which the engine treats as a
// fatal run error, unlike the initial selection.
func (s *Selector) HandleFailure(ctx context.Context, current int, models []string) (int, bool) {
	for i := current + 1; i < len(models); i++ {
		if err := s.tr.SelectModel(ctx, models[i]); err != nil {
			debug.Logf("fallback: model %q refused: %v", models[i], err)
			s.pub.Publish(event.Warning("model " + models[i] + " unavailable, trying next"))
			continue
		}
		return i, true
	}
	return 0, false
}
