// Package monitor enforces that one network interface stays
// administratively down.
//
// The Enforcer blocks on a kernel event Source, drains each burst of
// messages and acts once per burst: if the last message about the monitored
// interface reports it up, the interface is brought down again.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/charmbracelet/log"

	"github.com/downlinkdev/downlink/internal/fault"
	"github.com/downlinkdev/downlink/internal/metrics"
)

// Interface is the subset of iface.Controller the enforcer needs.
type Interface interface {
	IsUp(name string) (bool, error)
	BringDown(name string) error
}

// Config configures an Enforcer.
type Config struct {
	// Name is the monitored interface.
	Name string
	// Index is used to match messages that carry no name. Zero disables
	// index matching.
	Index int

	Source    Source
	Interface Interface
	Log       *log.Logger
	Metrics   *metrics.Registry // optional
	// Textfile, when set, receives the metrics after every intervention.
	Textfile string
	// OnIntervention is called after the interface was forced down.
	OnIntervention func()
}

// Enforcer is the daemon's event loop.
type Enforcer struct {
	cfg           Config
	index         int
	interventions uint64
}

// New returns an Enforcer for cfg.
func New(cfg Config) *Enforcer {
	return &Enforcer{cfg: cfg, index: cfg.Index}
}

// ResolveIndex looks up the kernel index of name. It returns 0 when the
// interface does not exist yet.
func ResolveIndex(name string) int {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0
	}
	return ifi.Index
}

// Interventions returns how many times the interface was forced down.
func (e *Enforcer) Interventions() uint64 { return e.interventions }

// Run enforces until ctx is cancelled (returns nil) or the event source
// fails (returns the transport error).
func (e *Enforcer) Run(ctx context.Context) error {
	l := e.cfg.Log
	l.Info("monitoring", "interface", e.cfg.Name, "index", e.index)

	up, err := e.cfg.Interface.IsUp(e.cfg.Name)
	switch {
	case errors.Is(err, fault.ErrNotFound):
		l.Warn("interface not present yet", "interface", e.cfg.Name)
	case err != nil:
		l.Error("initial state", "err", err)
	case up:
		e.bringDown("startup")
	}

	for {
		batch, err := e.cfg.Source.Next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("event source: %w", err)
		}
		e.handle(batch)
	}
}

func (e *Enforcer) handle(batch Batch) {
	if m := e.cfg.Metrics; m != nil {
		m.Batches.Inc()
	}
	ev, ok := e.latest(batch)
	if !ok {
		return
	}
	e.cfg.Log.Debug("interface event", "interface", e.cfg.Name, "flags", ev.Flags, "batch", len(batch))
	if ev.Flags.Up() {
		e.bringDown("event")
	}
}

// latest returns the last relevant event in batch.
func (e *Enforcer) latest(batch Batch) (Event, bool) {
	var (
		last  Event
		found bool
	)
	for _, ev := range batch {
		rel := e.relevant(ev)
		if m := e.cfg.Metrics; m != nil {
			m.Events.WithLabelValues(fmt.Sprint(rel)).Inc()
		}
		if rel {
			last, found = ev, true
		}
	}
	if found && last.Index != 0 && e.index != last.Index {
		// The interface was (re)created; follow its new index.
		e.index = last.Index
	}
	return last, found
}

func (e *Enforcer) relevant(ev Event) bool {
	if ev.Kind != KindLink {
		return false
	}
	if ev.Name != "" {
		return ev.Name == e.cfg.Name
	}
	return e.index != 0 && ev.Index == e.index
}

func (e *Enforcer) bringDown(reason string) {
	if err := e.cfg.Interface.BringDown(e.cfg.Name); err != nil {
		e.cfg.Log.Error("bring down", "interface", e.cfg.Name, "reason", reason, "err", err)
		return
	}
	e.interventions++
	e.cfg.Log.Info("forced down", "interface", e.cfg.Name, "reason", reason, "total", e.interventions)

	if m := e.cfg.Metrics; m != nil {
		m.Interventions.Inc()
		if e.cfg.Textfile != "" {
			if err := m.WriteTextfile(e.cfg.Textfile); err != nil {
				e.cfg.Log.Warn("write metrics textfile", "path", e.cfg.Textfile, "err", err)
			}
		}
	}
	if e.cfg.OnIntervention != nil {
		e.cfg.OnIntervention()
	}
}
