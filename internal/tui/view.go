package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/worksonmyai/dirigent/internal/event"
	"github.com/worksonmyai/dirigent/internal/protocol"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	phaseStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	pausedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	doneStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	sendStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	noticeStyle   = lipgloss.NewStyle().Bold(true)
	helpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	helpDescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("dirigent"))
	b.WriteString("  ")
	b.WriteString(m.renderPhase())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(truncate(m.task, max(m.width-4, 20))))
	b.WriteString("\n\n")

	b.WriteString(m.logViewport.View())
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderPhase() string {
	label := m.phase.String()
	if m.message != "" {
		label += " · " + m.message
	}

	switch m.phase {
	case protocol.PhasePaused:
		return pausedStyle.Render("⏸ " + label)
	case protocol.PhaseError:
		return errorStyle.Render("✗ " + label)
	case protocol.PhaseCompleted:
		return doneStyle.Render("✓ " + label)
	case protocol.PhaseIdle:
		return dimStyle.Render(label)
	default:
		return m.spinner.View() + phaseStyle.Render(label)
	}
}

func (m Model) renderEvents() string {
	var b strings.Builder
	for _, e := range m.events {
		switch e.Kind {
		case event.KindPhase:
			b.WriteString(dimStyle.Render("▸ " + e.Phase.String()))
			if e.Text != "" {
				b.WriteString(dimStyle.Render(" " + e.Text))
			}
			b.WriteString("\n")
		case event.KindSend:
			b.WriteString(sendStyle.Render("→ " + e.Text))
			b.WriteString("\n")
		case event.KindReply:
			b.WriteString(m.renderMarkdown(e.Text))
			b.WriteString("\n")
		case event.KindWarning:
			b.WriteString(warnStyle.Render("! " + e.Text))
			b.WriteString("\n")
		case event.KindNotice:
			b.WriteString(noticeStyle.Render(e.Text))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	rendered, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func (m Model) renderHelp() string {
	keys := []struct{ key, desc string }{
		{"p", "pause/resume"},
		{"c", "continue one iteration"},
		{"s", "stop"},
		{"r", "restart"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s",
			helpKeyStyle.Render(k.key), helpDescStyle.Render(k.desc)))
	}
	return strings.Join(parts, dimStyle.Render("  ·  "))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
