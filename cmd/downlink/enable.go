package main

import (
	"errors"
	"fmt"

	"github.com/downlinkdev/downlink/internal/control"
	"github.com/downlinkdev/downlink/internal/ui"
)

// EnableCmd registers the monitor through the helper.
type EnableCmd struct{}

func (c *EnableCmd) Run(globals *CLI) error {
	s, err := newSession(globals)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := s.ctrl.Enable(ctx); err != nil {
		s.log.Debug("enable failed", "err", err)
		return errors.New(control.Describe(err))
	}
	fmt.Println(ui.StepOK(fmt.Sprintf("Monitoring enabled, %s is held down", s.cfg.Interface)))
	return nil
}

// DisableCmd unregisters the monitor through the helper.
type DisableCmd struct{}

func (c *DisableCmd) Run(globals *CLI) error {
	s, err := newSession(globals)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := s.ctrl.Disable(ctx); err != nil {
		s.log.Debug("disable failed", "err", err)
		return errors.New(control.Describe(err))
	}
	fmt.Println(ui.StepOK(fmt.Sprintf("Monitoring disabled, %s may come up", s.cfg.Interface)))
	return nil
}
