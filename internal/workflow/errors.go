package workflow

import "errors"

// ErrCancelled is raised by the checkpoint when a stop is observed. It
// unwinds to the run boundary, where it maps to the Idle phase rather
// than Error: a stop is an operator action, never a failure.
var ErrCancelled = errors.New("workflow cancelled")

// ErrAlreadyRunning is returned by Start when a run is active. At most
// one run exists per engine.
var ErrAlreadyRunning = errors.New("workflow already running")
