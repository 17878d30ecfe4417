package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/downlinkdev/downlink/internal/config"
	"github.com/downlinkdev/downlink/internal/ui"
)

// InitConfigCmd writes the default configuration to --config or the user path.
type InitConfigCmd struct {
	Force bool `help:"Overwrite an existing config file."`
}

func (c *InitConfigCmd) Run(globals *CLI) error {
	path, err := configPath(globals)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	if err := writeDefaultConfig(path, c.Force); err != nil {
		return err
	}
	fmt.Println(ui.StepOK("Wrote " + path))
	return nil
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}
	}
	if err := config.Default().Save(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
