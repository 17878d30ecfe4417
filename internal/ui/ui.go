package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/downlinkdev/downlink/internal/state"
)

// MaxWidth is the maximum width for styled output.
const MaxWidth = 80

// Colors.
var (
	Green  = lipgloss.Color("2")
	Red    = lipgloss.Color("1")
	Yellow = lipgloss.Color("3")
	Subtle = lipgloss.Color("8")
)

var sectionStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Subtle).
	Padding(0, 1).
	MarginBottom(1)

var titleStyle = lipgloss.NewStyle().Bold(true)

// Dot returns a colored ● for the interface status. Blocked is the
// protected state and renders green.
func Dot(s state.Status) string {
	switch s {
	case state.StatusBlocked:
		return lipgloss.NewStyle().Foreground(Green).Render("●")
	case state.StatusActive:
		return lipgloss.NewStyle().Foreground(Yellow).Render("●")
	default:
		return lipgloss.NewStyle().Foreground(Subtle).Render("●")
	}
}

// Label is the human-readable form of a status.
func Label(s state.Status) string {
	switch s {
	case state.StatusBlocked:
		return "blocked"
	case state.StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// OnOff renders a boolean as a colored "on" or "off".
func OnOff(v bool) string {
	if v {
		return lipgloss.NewStyle().Foreground(Green).Render("on")
	}
	return lipgloss.NewStyle().Foreground(Subtle).Render("off")
}

// Section renders content inside a bordered box with a bold title.
func Section(title, content string, width int) string {
	if width > MaxWidth {
		width = MaxWidth
	}
	contentWidth := max(width-4, 40)
	return sectionStyle.Width(contentWidth).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

// StatusBlock renders the status section for one interface.
func StatusBlock(iface string, st state.State, helper string, width int) string {
	lines := []string{
		Row("Interface", iface, "", "", width),
		Row("Monitoring", OnOff(st.MonitoringEnabled), "", "", width),
		Row("State", Dot(st.LastKnownState)+" "+Label(st.LastKnownState), "", "", width),
	}
	if helper != "" {
		lines = append(lines, Row("Helper", helper, "", "", width))
	}
	return Section("downlink", strings.Join(lines, "\n"), width)
}

// StepOK returns a green checkmark step line.
func StepOK(msg string) string {
	return lipgloss.NewStyle().Foreground(Green).Render("✔") + " " + msg
}

// StepRun returns a yellow circle step line (in progress).
func StepRun(msg string) string {
	return lipgloss.NewStyle().Foreground(Yellow).Render("○") + " " + msg
}

// StepInfo returns a subtle-colored info step line.
func StepInfo(msg string) string {
	return lipgloss.NewStyle().Foreground(Subtle).Render("●") + " " + msg
}

// StepFail returns a red cross step line.
func StepFail(msg string) string {
	return lipgloss.NewStyle().Foreground(Red).Render("✘") + " " + msg
}

// Warn returns a yellow warning message (caller writes to stderr).
func Warn(msg string) string {
	return lipgloss.NewStyle().Foreground(Yellow).Render("⚠") + " " + msg
}

// Error returns a red error message (caller writes to stderr).
func Error(msg string) string {
	return lipgloss.NewStyle().Foreground(Red).Render("✘") + " " + msg
}

// Row renders a two-column key-value row, with optional second pair.
func Row(k1, v1, k2, v2 string, width int) string {
	left := fmt.Sprintf("%-12s %s", k1+":", v1)
	if k2 == "" {
		return left
	}
	right := fmt.Sprintf("%s %s", k2+":", v2)
	gap := max(width/2-lipgloss.Width(left), 2)
	return left + strings.Repeat(" ", gap) + right
}
