package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/worksonmyai/dirigent/internal/debug"
	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/protocol"
)

func createRendererCmd(width int) tea.Cmd {
	return func() tea.Msg {
		viewportWidth := max(width-6, 40)
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(viewportWidth),
		)
		if err != nil {
			debug.Logf("tui: failed to create glamour renderer: %v", err)
		}
		return rendererReadyMsg{renderer: renderer}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.WindowSize())
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg.String() {
	case "q", "ctrl+c":
		if m.machine.Run().IsRunning() {
			m.machine.Stop()
		}
		return m, tea.Quit

	case "p":
		if m.machine.Run().IsPaused() {
			m.machine.Resume()
		} else if m.machine.Run().IsRunning() {
			m.machine.Pause()
		}

	case "s":
		m.machine.Stop()

	case "c":
		m.machine.Continue()

	case "r":
		if !m.machine.Run().IsRunning() {
			m.finished = false
			cmds = append(cmds, func() tea.Msg {
				return RunDoneMsg{Err: m.machine.Restart()}
			})
		}

	case "up", "k", "down", "j", "pgup", "ctrl+u", "pgdown", "ctrl+d":
		var cmd tea.Cmd
		m.logViewport, cmd = m.logViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		viewportWidth := max(m.width-4, 40)
		logHeight := max(m.height-8, 5)

		if !m.ready {
			m.logViewport = viewport.New(viewportWidth, logHeight)
			m.logViewport.SetContent(m.renderEvents())
			m.ready = true
			cmds = append(cmds, createRendererCmd(m.width))
		} else {
			m.logViewport.Width = viewportWidth
			m.logViewport.Height = logHeight
			m.logViewport.SetContent(m.renderEvents())
		}

	case rendererReadyMsg:
		m.renderer = msg.renderer
		if m.ready {
			m.logViewport.SetContent(m.renderEvents())
		}

	case EventMsg:
		m.applyEvent(msg.Event)
		if m.ready {
			atBottom := m.logViewport.AtBottom()
			m.logViewport.SetContent(m.renderEvents())
			if atBottom {
				m.logViewport.GotoBottom()
			}
		}

	case RunDoneMsg:
		m.finished = true
		if msg.Err != nil {
			m.notice = msg.Err.Error()
		}

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) applyEvent(e event.Event) {
	switch e.Kind {
	case event.KindPhase:
		m.phase = e.Phase
		m.message = e.Text
	case event.KindNotice:
		m.notice = e.Text
		if e.Phase == protocol.PhaseCompleted || e.Phase == protocol.PhaseError {
			m.finished = true
		}
	}
	m.events = append(m.events, e)
}
