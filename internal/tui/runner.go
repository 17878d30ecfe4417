package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/downlinkdev/downlink/internal/ui"
)

// Phase groups related steps under a visual header.
type Phase struct {
	Title string
	Steps []Step
}

// Step defines one unit of work in a phased runner.
type Step struct {
	Title    string
	Run      func(ctx context.Context, send func(StepEvent)) error
	NonFatal bool // if true, error renders as warning and execution continues
}

// Simple wraps a step that does not report progress.
func Simple(title string, run func() error) Step {
	return Step{
		Title: title,
		Run:   func(context.Context, func(StepEvent)) error { return run() },
	}
}

// StepEvent lets a running step report progress updates.
type StepEvent struct {
	Message string
}

type status int

const (
	statusPending status = iota
	statusRunning
	statusDone
	statusFailed
	statusWarned
)

type flatStep struct {
	Step
	phaseIdx int
	status   status
	message  string // last StepEvent message (shown while running)
	errMsg   string // error or warning detail
}

type stepEventMsg struct{ message string }
type stepDoneMsg struct{}
type stepFailMsg struct{ err error }

type runner struct {
	title   string
	phases  []string
	steps   []flatStep
	current int
	spinner spinner.Model
	err     error
	done    bool
	program *tea.Program
	ctx     context.Context
	cancel  context.CancelFunc
}

func newRunner(ctx context.Context, title string, phases []Phase) *runner {
	m := &runner{title: title}
	for _, p := range phases {
		if len(p.Steps) == 0 {
			continue
		}
		m.phases = append(m.phases, p.Title)
		for _, s := range p.Steps {
			m.steps = append(m.steps, flatStep{Step: s, phaseIdx: len(m.phases) - 1})
		}
	}
	m.spinner = spinner.New()
	m.spinner.Spinner = spinner.Dot
	m.spinner.Style = lipgloss.NewStyle().Foreground(ui.Yellow)
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m
}

func (m *runner) Init() tea.Cmd {
	if len(m.steps) == 0 {
		m.done = true
		return tea.Quit
	}
	m.steps[0].status = statusRunning
	return tea.Batch(m.spinner.Tick, m.runCurrentStep())
}

func (m *runner) runCurrentStep() tea.Cmd {
	step := m.steps[m.current].Step
	return func() tea.Msg {
		defer func() {
			if r := recover(); r != nil {
				m.program.Send(stepFailMsg{err: fmt.Errorf("panic: %v", r)})
			}
		}()
		send := func(evt StepEvent) {
			if m.program != nil {
				m.program.Send(stepEventMsg{message: evt.Message})
			}
		}
		if err := step.Run(m.ctx, send); err != nil {
			return stepFailMsg{err: err}
		}
		return stepDoneMsg{}
	}
}

// advance moves to the next step, or quits after the last one.
func (m *runner) advance() (tea.Model, tea.Cmd) {
	m.current++
	if m.current >= len(m.steps) {
		m.done = true
		return m, tea.Quit
	}
	m.steps[m.current].status = statusRunning
	return m, m.runCurrentStep()
}

func (m *runner) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			m.err = context.Canceled
			return m, tea.Quit
		}

	case stepEventMsg:
		if m.current < len(m.steps) {
			m.steps[m.current].message = msg.message
		}
		return m, nil

	case stepDoneMsg:
		m.steps[m.current].status = statusDone
		return m.advance()

	case stepFailMsg:
		step := &m.steps[m.current]
		step.errMsg = msg.err.Error()
		if step.NonFatal {
			step.status = statusWarned
			return m.advance()
		}
		step.status = statusFailed
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

var (
	titleStyle       = lipgloss.NewStyle().Bold(true)
	counterStyle     = lipgloss.NewStyle().Foreground(ui.Subtle)
	phaseHeaderStyle = lipgloss.NewStyle().Bold(true)
	pendingStyle     = lipgloss.NewStyle().Foreground(ui.Subtle)
	errorStyle       = lipgloss.NewStyle().Foreground(ui.Red)
	warnStyle        = lipgloss.NewStyle().Foreground(ui.Yellow)
)

func (m *runner) View() string {
	var b strings.Builder

	completed := 0
	for _, s := range m.steps {
		if s.status == statusDone || s.status == statusWarned {
			completed++
		}
	}
	counter := counterStyle.Render(fmt.Sprintf(" [%d/%d]", completed, len(m.steps)))
	b.WriteString(titleStyle.Render(m.title) + counter + "\n")

	lastPhase := -1
	for _, step := range m.steps {
		if step.phaseIdx != lastPhase {
			lastPhase = step.phaseIdx
			b.WriteString("\n" + phaseHeaderStyle.Render(m.phases[step.phaseIdx]) + "\n")
		}

		msg := step.Title
		if step.message != "" {
			msg = step.message
		}
		switch step.status {
		case statusDone:
			b.WriteString("  " + ui.StepOK(msg) + "\n")
		case statusWarned:
			b.WriteString("  " + ui.Warn(step.Title) + "\n")
			b.WriteString("    " + warnStyle.Render("Warning: "+step.errMsg) + "\n")
		case statusRunning:
			b.WriteString("  " + m.spinner.View() + " " + msg + "\n")
		case statusFailed:
			b.WriteString("  " + ui.StepFail(step.Title) + "\n")
			b.WriteString("    " + errorStyle.Render("Error: "+step.errMsg) + "\n")
		case statusPending:
			b.WriteString("  " + pendingStyle.Render("○ "+step.Title) + "\n")
		}
	}

	return b.String()
}

// RunPhases executes phases sequentially, rendering progress.
// Returns the first error from a step that is not NonFatal.
// Falls back to plain output if stdout is not a TTY.
func RunPhases(ctx context.Context, title string, phases []Phase) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return runPhasesPlain(ctx, os.Stdout, title, phases)
	}

	m := newRunner(ctx, title, phases)
	defer m.cancel()
	if len(m.steps) == 0 {
		return nil
	}

	p := tea.NewProgram(m)
	m.program = p
	result, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI: %w", err)
	}
	if r, ok := result.(*runner); ok && r.err != nil {
		return r.err
	}
	return nil
}

// runPhasesPlain runs phases without animation (non-TTY fallback).
func runPhasesPlain(ctx context.Context, w io.Writer, title string, phases []Phase) error {
	fmt.Fprintln(w, title)
	for _, phase := range phases {
		if len(phase.Steps) == 0 {
			continue
		}
		fmt.Fprintln(w, ui.StepInfo(phase.Title))
		for _, step := range phase.Steps {
			msg := step.Title
			send := func(evt StepEvent) {
				msg = evt.Message
				fmt.Fprintln(w, "  "+ui.StepRun(msg))
			}
			if err := step.Run(ctx, send); err != nil {
				if step.NonFatal {
					fmt.Fprintln(w, "  "+ui.Warn(msg+": "+err.Error()))
					continue
				}
				fmt.Fprintln(w, "  "+ui.StepFail(msg))
				return err
			}
			fmt.Fprintln(w, "  "+ui.StepOK(msg))
		}
	}
	return nil
}
