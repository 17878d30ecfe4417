package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/downlinkdev/downlink/internal/control"
	"github.com/downlinkdev/downlink/internal/tui"
	"github.com/downlinkdev/downlink/internal/ui"
)

// refreshTimeout bounds the helper round trip made by status.
const refreshTimeout = 3 * time.Second

// StatusCmd shows the shared monitoring state.
type StatusCmd struct {
	Watch   bool `short:"w" help:"Keep running and redraw on every change."`
	Offline bool `help:"Do not ask the helper; show the recorded state only."`
}

func (c *StatusCmd) Run(globals *CLI) error {
	s, err := newSession(globals)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	helperLine := ""
	if !c.Offline {
		helperLine = s.refresh(ctx)
	}

	if c.Watch {
		return tui.Watch(ctx, tui.WatchConfig{
			Interface: s.cfg.Interface,
			State:     s.store,
			Helper:    s.helperReachability,
		})
	}

	fmt.Print(ui.StatusBlock(s.cfg.Interface, s.ctrl.Status(), helperLine, ui.MaxWidth))
	fmt.Println()
	if err := s.store.Err(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Warn(control.Describe(err)))
	}
	return nil
}

// refresh reconciles the shared state with the helper and returns the
// helper line for display.
func (s *session) refresh(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if _, err := s.ctrl.Refresh(ctx); err != nil {
		s.log.Debug("refresh failed", "err", err)
		return control.Describe(err)
	}
	return "reachable"
}

func (s *session) helperReachability() string {
	if s.client.IsReachable() {
		return "reachable"
	}
	return "unreachable"
}
