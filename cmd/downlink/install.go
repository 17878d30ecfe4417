package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/downlinkdev/downlink/internal/helper"
	"github.com/downlinkdev/downlink/internal/tui"
)

// InstallCmd places the helper and monitor and registers the helper.
type InstallCmd struct {
	HelperBin  string `name:"helper-bin" help:"downlink-helper binary to install (default: next to this executable)." type:"existingfile"`
	MonitorBin string `name:"monitor-bin" help:"downlink-monitor binary to install (default: next to this executable)." type:"existingfile"`
	Yes        bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *InstallCmd) Run() error {
	if err := requireRoot("install"); err != nil {
		return err
	}
	in, err := c.installer()
	if err != nil {
		return err
	}
	if !c.Yes {
		ok, err := confirm("Install downlink?",
			"Copies downlink-helper and downlink-monitor into place and starts the helper.")
		if err != nil || !ok {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	return tui.RunPhases(ctx, "Installing downlink", []tui.Phase{
		{Title: "Privileged setup", Steps: phaseSteps(in.InstallSteps())},
	})
}

func (c *InstallCmd) installer() (*helper.Installer, error) {
	helperBin, monitorBin := c.HelperBin, c.MonitorBin
	var err error
	if helperBin == "" {
		if helperBin, err = siblingBinary("downlink-helper"); err != nil {
			return nil, err
		}
	}
	if monitorBin == "" {
		if monitorBin, err = siblingBinary("downlink-monitor"); err != nil {
			return nil, err
		}
	}
	for _, p := range []string{helperBin, monitorBin} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("binary not found: %w", err)
		}
	}
	return &helper.Installer{HelperSource: helperBin, MonitorSource: monitorBin}, nil
}

// UninstallCmd stops and removes everything InstallCmd placed.
type UninstallCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation."`
}

func (c *UninstallCmd) Run() error {
	if err := requireRoot("uninstall"); err != nil {
		return err
	}
	if !helper.IsInstalled() {
		fmt.Println("downlink is not installed.")
		return nil
	}
	if !c.Yes {
		ok, err := confirm("Uninstall downlink?",
			"Stops enforcement and removes the helper and monitor.")
		if err != nil || !ok {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	in := &helper.Installer{}
	return tui.RunPhases(ctx, "Removing downlink", []tui.Phase{
		{Title: "Privileged cleanup", Steps: phaseSteps(in.UninstallSteps())},
	})
}

// phaseSteps adapts installer steps to the step runner.
func phaseSteps(steps []helper.Step) []tui.Step {
	out := make([]tui.Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, tui.Simple(s.Title, s.Run))
	}
	return out
}

func requireRoot(cmd string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("%s must run as root: sudo downlink %s", cmd, cmd)
	}
	return nil
}

// confirm asks a yes/no question. Without a terminal it proceeds, so
// scripted installs need not pass --yes.
func confirm(title, description string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true, nil
	}
	ok := true
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
