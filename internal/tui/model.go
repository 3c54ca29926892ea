package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/protocol"
	"github.com/worksonmyai/dirigent/internal/workflow"
)

// Model is the bubbletea model for the status panel. It is a passive
// observer of engine state: every mutation arrives as an EventMsg, and
// key presses map one-to-one to operator commands on the machine.
type Model struct {
	machine *workflow.Machine
	task    string

	phase    protocol.Phase
	message  string
	events   []event.Event
	notice   string
	finished bool

	logViewport viewport.Model
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	width       int
	height      int
	ready       bool
}

// NewModel creates a panel bound to the machine it controls.
func NewModel(machine *workflow.Machine, task string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		machine: machine,
		task:    task,
		phase:   protocol.PhaseIdle,
		spinner: s,
	}
}

// EventMsg carries a typed engine event into the bubbletea loop.
type EventMsg struct {
	Event event.Event
}

// RunDoneMsg signals the engine run has returned.
type RunDoneMsg struct {
	Err error
}

type rendererReadyMsg struct {
	renderer *glamour.TermRenderer
}
