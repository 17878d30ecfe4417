package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/downlinkdev/downlink/internal/config"
	"github.com/downlinkdev/downlink/internal/iface"
	"github.com/downlinkdev/downlink/internal/logging"
	"github.com/downlinkdev/downlink/internal/metrics"
	"github.com/downlinkdev/downlink/internal/monitor"
	"github.com/downlinkdev/downlink/internal/version"
)

// EnforceCmd runs the enforcement loop.
type EnforceCmd struct {
	Config    string `short:"c" default:"/etc/downlink/config.toml" help:"Config file." type:"path"`
	Interface string `short:"i" help:"Override the monitored interface."`
	LogLevel  string `name:"log-level" help:"Override log_level from the config file."`
}

func (c *EnforceCmd) Run() error {
	if os.Geteuid() != 0 {
		return errors.New("must run as root")
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Interface != "" {
		cfg.Interface = c.Interface
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	l := logging.New("downlink-monitor", logging.Config{Level: cfg.LogLevel})
	l.Info("starting", "version", version.Version)

	src, err := monitor.NewSource()
	if err != nil {
		return fmt.Errorf("open kernel event source: %w", err)
	}
	defer func() { _ = src.Close() }()

	reg := metrics.New()
	if path := cfg.Monitor.MetricsTextfile; path != "" {
		// Publish zeroes so the series exist before the first intervention.
		if err := reg.WriteTextfile(path); err != nil {
			l.Warn("write metrics textfile", "path", path, "err", err)
		}
	}

	enf := monitor.New(monitor.Config{
		Name:      cfg.Interface,
		Index:     monitor.ResolveIndex(cfg.Interface),
		Source:    src,
		Interface: iface.New(),
		Log:       l,
		Metrics:   reg,
		Textfile:  cfg.Monitor.MetricsTextfile,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := enf.Run(ctx); err != nil {
		l.Error("stopping", "err", err, "interventions", enf.Interventions())
		return err
	}
	l.Info("stopped", "interventions", enf.Interventions())
	return nil
}

// VersionCmd prints version info.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(version.String("downlink-monitor"))
	return nil
}

var cli struct {
	Enforce EnforceCmd `cmd:"" default:"withargs" help:"Keep the interface down (default)."`
	Version VersionCmd `cmd:"" help:"Print version."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("downlink-monitor"),
		kong.Description("downlink enforcement daemon, runs as root"),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
