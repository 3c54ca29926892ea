// Package tui implements the terminal status panel. It observes engine
// events and maps key presses to operator commands; it never makes
// control decisions itself.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/workflow"
)

// Run starts the engine in a goroutine and runs the status panel until
// the operator quits. Engine events are forwarded into the bubbletea
// loop via Program.Send, which is safe from any goroutine.
func Run(machine *workflow.Machine, task string) error {
	model := NewModel(machine, task)
	program := tea.NewProgram(model, tea.WithAltScreen())

	machine.Publisher().Subscribe(func(e event.Event) {
		program.Send(EventMsg{Event: e})
	})

	go func() {
		program.Send(RunDoneMsg{Err: machine.Start()})
	}()

	_, err := program.Run()
	return err
}
