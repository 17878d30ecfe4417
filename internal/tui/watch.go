package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/downlinkdev/downlink/internal/state"
	"github.com/downlinkdev/downlink/internal/ui"
)

// Subscriber delivers state changes until the returned cancel is called.
type Subscriber interface {
	Get() state.State
	Subscribe(fn func(state.State)) (cancel func())
}

// WatchConfig configures Watch.
type WatchConfig struct {
	Interface string
	State     Subscriber
	// Helper reports helper reachability for display. Optional.
	Helper func() string
}

type stateMsg state.State

type watchModel struct {
	cfg     WatchConfig
	st      state.State
	helper  string
	updated time.Time
	width   int
}

var hintStyle = lipgloss.NewStyle().Foreground(ui.Subtle)

func (m *watchModel) Init() tea.Cmd { return nil }

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case stateMsg:
		m.st = state.State(msg)
		m.updated = time.Now()
		if m.cfg.Helper != nil {
			m.helper = m.cfg.Helper()
		}
	}
	return m, nil
}

func (m *watchModel) View() string {
	width := m.width
	if width == 0 {
		width = ui.MaxWidth
	}
	hint := "q to quit"
	if !m.updated.IsZero() {
		hint = "updated " + m.updated.Format(time.TimeOnly) + " · " + hint
	}
	return ui.StatusBlock(m.cfg.Interface, m.st, m.helper, width) + "\n" + hintStyle.Render(hint) + "\n"
}

// Watch renders the shared state and redraws on every change until the
// user quits or ctx is cancelled. Without a TTY it prints one line per
// change instead.
func Watch(ctx context.Context, cfg WatchConfig) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(ctx, os.Stdout, cfg)
	}

	m := &watchModel{cfg: cfg, st: cfg.State.Get()}
	if cfg.Helper != nil {
		m.helper = cfg.Helper()
	}
	p := tea.NewProgram(m, tea.WithContext(ctx))
	cancel := cfg.State.Subscribe(func(st state.State) { p.Send(stateMsg(st)) })
	defer cancel()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI: %w", err)
	}
	return nil
}

func watchPlain(ctx context.Context, w io.Writer, cfg WatchConfig) error {
	fmt.Fprintln(w, plainLine(cfg.Interface, cfg.State.Get()))

	updates := make(chan state.State, 16)
	cancel := cfg.State.Subscribe(func(st state.State) {
		select {
		case updates <- st:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-updates:
			fmt.Fprintln(w, plainLine(cfg.Interface, st))
		}
	}
}

func plainLine(iface string, st state.State) string {
	mon := "off"
	if st.MonitoringEnabled {
		mon = "on"
	}
	return fmt.Sprintf("%s interface=%s monitoring=%s state=%s",
		time.Now().Format(time.RFC3339), iface, mon, ui.Label(st.LastKnownState))
}
