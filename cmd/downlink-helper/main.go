package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/downlinkdev/downlink/internal/config"
	"github.com/downlinkdev/downlink/internal/helper"
	"github.com/downlinkdev/downlink/internal/logging"
	"github.com/downlinkdev/downlink/internal/metrics"
	"github.com/downlinkdev/downlink/internal/version"
)

// ServeCmd runs the privilege broker.
type ServeCmd struct {
	Config   string `short:"c" default:"/etc/downlink/config.toml" help:"Config file." type:"path"`
	LogLevel string `name:"log-level" help:"Override log_level from the config file."`
}

func (c *ServeCmd) Run() error {
	if os.Geteuid() != 0 {
		return errors.New("must run as root")
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	l := logging.New("downlink-helper", logging.Config{Level: cfg.LogLevel})
	l.Info("starting", "version", version.Version)

	reg := metrics.New()
	srv := helper.NewServer(helper.ServerConfig{
		SocketPath:  cfg.SocketPath,
		Daemon:      helper.NewSupervisor(),
		AllowedUIDs: cfg.Helper.AllowedUIDs,
		Log:         l,
		Metrics:     reg,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var httpSrv *http.Server
	if addr := cfg.Helper.MetricsAddr; addr != "" {
		httpSrv, err = serveMetrics(addr, reg, l)
		if err != nil {
			srv.Stop()
			return err
		}
	}

	<-ctx.Done()
	l.Info("shutting down")
	if httpSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		done()
	}
	srv.Stop()
	return nil
}

// serveMetrics exposes reg on addr at /metrics.
func serveMetrics(addr string, reg *metrics.Registry, l *log.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server", "err", err)
		}
	}()
	l.Info("serving metrics", "addr", ln.Addr().String())
	return hs, nil
}

// VersionCmd prints version info.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(version.String("downlink-helper"))
	return nil
}

var cli struct {
	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the privilege broker (default)."`
	Version VersionCmd `cmd:"" help:"Print version."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("downlink-helper"),
		kong.Description("downlink privilege broker, runs as root"),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
