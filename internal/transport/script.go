package transport

import (
	"context"
	"sync"
)

// SendRecord captures one Send call made against a ScriptTransport.
type SendRecord struct {
	Text       string
	Background bool
}

// OpenRecord captures one Open call made against a ScriptTransport.
type OpenRecord struct {
	Focus bool
}

// ScriptTransport is an in-memory Transport for tests and dry runs. It
// returns scripted replies in order and records every call.
type ScriptTransport struct {
	mu sync.Mutex

	// Replies are returned by Send in order; when exhausted, Send returns
	// Accepted("") with no error.
	Replies []Reply
	// SendErrs are paired positionally with Replies; nil entries mean no
	// error.
	SendErrs []error
	// RejectModels maps model names SelectModel should refuse.
	RejectModels map[string]bool
	// OpenErr, IdleValue configure the remaining operations.
	OpenErr   error
	IdleValue bool

	Sends      []SendRecord
	Opens      []OpenRecord
	Selections []string
	replyIdx   int
}

// NewScript creates an empty ScriptTransport that accepts everything.
func NewScript() *ScriptTransport {
	return &ScriptTransport{IdleValue: true}
}

func (s *ScriptTransport) Open(_ context.Context, focus bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opens = append(s.Opens, OpenRecord{Focus: focus})
	return s.OpenErr
}

func (s *ScriptTransport) Send(_ context.Context, text string, background bool) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sends = append(s.Sends, SendRecord{Text: text, Background: background})

	i := s.replyIdx
	s.replyIdx++
	var err error
	if i < len(s.SendErrs) {
		err = s.SendErrs[i]
	}
	if i < len(s.Replies) {
		return s.Replies[i], err
	}
	return Accepted(""), err
}

func (s *ScriptTransport) SelectModel(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Selections = append(s.Selections, name)
	if s.RejectModels[name] {
		return &ModelError{Model: name}
	}
	return nil
}

func (s *ScriptTransport) Idle(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IdleValue, nil
}

// SendCount returns how many Send calls were made.
func (s *ScriptTransport) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sends)
}

// LastSend returns the most recent Send call, if any.
func (s *ScriptTransport) LastSend() (SendRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Sends) == 0 {
		return SendRecord{}, false
	}
	return s.Sends[len(s.Sends)-1], true
}
