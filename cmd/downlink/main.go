package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/downlinkdev/downlink/internal/channel"
	"github.com/downlinkdev/downlink/internal/config"
	"github.com/downlinkdev/downlink/internal/control"
	"github.com/downlinkdev/downlink/internal/helper"
	"github.com/downlinkdev/downlink/internal/logging"
	"github.com/downlinkdev/downlink/internal/state"
	"github.com/downlinkdev/downlink/internal/ui"
)

// CLI is the top-level Kong struct.
type CLI struct {
	Config   string `short:"c" help:"Config file (default ~/.config/downlink/config.toml)." type:"path"`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	Attempts int    `default:"4" help:"Helper connection attempts for enable and disable."`

	Enable     EnableCmd     `cmd:"" help:"Keep the interface down."`
	Disable    DisableCmd    `cmd:"" help:"Stop enforcing and let the interface come up."`
	Status     StatusCmd     `cmd:"" help:"Show monitoring state."`
	Install    InstallCmd    `cmd:"" help:"Install the helper and monitor (requires root)."`
	Uninstall  UninstallCmd  `cmd:"" help:"Remove the helper and monitor (requires root)."`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write a default config file."`
	Version    VersionCmd    `cmd:"" help:"Print version."`
}

func main() {
	var cli CLI
	k, err := kong.New(&cli,
		kong.Name("downlink"),
		kong.Description("Keep a network interface administratively down."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			NoExpandSubcommands: true,
			Compact:             true,
		}),
	)
	if err != nil {
		panic(err)
	}

	args := os.Args[1:]
	// No args or bare "help" prints usage and exits 0.
	if len(args) == 0 || (len(args) == 1 && args[0] == "help") {
		_, _ = k.Parse([]string{"--help"})
		os.Exit(0)
	}

	ctx, err := k.Parse(args)
	k.FatalIfErrorf(err)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error(err.Error()))
		os.Exit(1)
	}
}

// configPath returns --config, or the user config path when the flag is unset.
func configPath(globals *CLI) (string, error) {
	if globals.Config != "" {
		return globals.Config, nil
	}
	return config.UserPath()
}

// loadConfig reads --config, or the user config when the flag is unset.
func loadConfig(globals *CLI) (config.Config, error) {
	path, err := configPath(globals)
	if err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger returns the diagnostics logger. User-facing output goes through
// ui, so the CLI only logs errors unless --log-level asks for more.
func newLogger(globals *CLI) *log.Logger {
	level := "error"
	if globals.LogLevel != "" {
		level = globals.LogLevel
	}
	return logging.New("downlink", logging.Config{Level: level})
}

// openState opens the shared state store for cfg. Failure to initialise
// storage yields a Store that serves defaults and refuses writes.
func openState(cfg config.Config) *state.Store {
	if cfg.StateDir == "" {
		return state.Default()
	}
	st, err := state.Open(cfg.StateDir)
	if err != nil {
		return state.Unavailable(err)
	}
	return st
}

// session bundles what the helper-facing commands share.
type session struct {
	cfg    config.Config
	log    *log.Logger
	client *helper.Client
	ch     *channel.Channel
	store  *state.Store
	ctrl   *control.Controller
}

func newSession(globals *CLI) (*session, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}
	l := newLogger(globals)
	client := helper.NewClient(cfg.SocketPath)
	ch := channel.New(channel.Config{
		Dial: channel.HelperDialer(client),
		Log:  l,
		OnStateChange: func(ev channel.Event) {
			l.Debug("helper channel", "state", ev.State, "failures", ev.Failures, "err", ev.Err)
		},
	})
	store := openState(cfg)
	return &session{
		cfg:    cfg,
		log:    l,
		client: client,
		ch:     ch,
		store:  store,
		ctrl: control.New(control.Config{
			Channel:  ch,
			State:    store,
			Attempts: globals.Attempts,
		}),
	}, nil
}

func (s *session) Close() {
	_ = s.ch.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// siblingBinary returns name next to the running executable.
func siblingBinary(name string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), name), nil
}
