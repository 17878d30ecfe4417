// Package control implements the front-end operations: enabling and
// disabling enforcement through the helper and keeping the shared state in
// step with the result.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/downlinkdev/downlink/internal/channel"
	"github.com/downlinkdev/downlink/internal/clock"
	"github.com/downlinkdev/downlink/internal/fault"
	"github.com/downlinkdev/downlink/internal/helper"
	"github.com/downlinkdev/downlink/internal/state"
)

// DefaultAttempts is the channel attempt budget for Enable and Disable.
const DefaultAttempts = 4

// Caller is the subset of channel.Channel the controller needs.
type Caller interface {
	Call(ctx context.Context, method string) (helper.Response, error)
	RetryAt() time.Time
}

// Store is the subset of state.Store the controller needs.
type Store interface {
	Get() state.State
	Set(state.State) error
}

// Config configures a Controller.
type Config struct {
	Channel Caller
	State   Store
	Clock   clock.Clock // defaults to clock.Real()
	// Attempts bounds how many times a call is tried when the channel is
	// invalidated. Defaults to DefaultAttempts.
	Attempts int
}

// Controller orchestrates enable, disable and status.
type Controller struct {
	cfg Config
}

// New returns a Controller.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	return &Controller{cfg: cfg}
}

// Enable registers the monitor. On success monitoring is recorded as
// enabled and the interface as blocked; on failure the shared state is left
// unchanged.
func (c *Controller) Enable(ctx context.Context) error {
	if _, err := c.call(ctx, helper.MethodLoadDaemon); err != nil {
		return err
	}
	return c.set(state.State{MonitoringEnabled: true, LastKnownState: state.StatusBlocked})
}

// Disable unregisters the monitor. On success monitoring is recorded as
// disabled and the interface as active.
func (c *Controller) Disable(ctx context.Context) error {
	if _, err := c.call(ctx, helper.MethodUnloadDaemon); err != nil {
		return err
	}
	return c.set(state.State{MonitoringEnabled: false, LastKnownState: state.StatusActive})
}

// Refresh asks the helper whether the monitor is registered and reconciles
// the shared state with the answer. It makes a single attempt.
func (c *Controller) Refresh(ctx context.Context) (state.State, error) {
	cur := c.cfg.State.Get()
	resp, err := c.attempt(ctx, helper.MethodIsDaemonLoaded)
	if err != nil {
		return cur, err
	}
	want := state.State{MonitoringEnabled: false, LastKnownState: state.StatusActive}
	if resp.Loaded {
		want = state.State{MonitoringEnabled: true, LastKnownState: state.StatusBlocked}
	}
	if want == cur {
		return cur, nil
	}
	if err := c.set(want); err != nil {
		return cur, err
	}
	return want, nil
}

// Status returns the shared state without contacting the helper.
func (c *Controller) Status() state.State {
	return c.cfg.State.Get()
}

func (c *Controller) set(st state.State) error {
	if err := c.cfg.State.Set(st); err != nil {
		return fmt.Errorf("record state: %w", err)
	}
	return nil
}

// call tries method up to Attempts times, waiting for the channel's retry
// deadline between attempts that failed with ChannelInvalidated.
func (c *Controller) call(ctx context.Context, method string) (helper.Response, error) {
	var err error
	for n := 1; n <= c.cfg.Attempts; n++ {
		var resp helper.Response
		resp, err = c.attempt(ctx, method)
		if err == nil || !fault.Retryable(err) || n == c.cfg.Attempts {
			return resp, err
		}
		if werr := c.waitRetry(ctx); werr != nil {
			return helper.Response{}, werr
		}
	}
	return helper.Response{}, err
}

func (c *Controller) attempt(ctx context.Context, method string) (helper.Response, error) {
	resp, err := c.cfg.Channel.Call(ctx, method)
	if err != nil {
		return resp, err
	}
	if err := resp.Err(method); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Controller) waitRetry(ctx context.Context) error {
	d := c.cfg.Channel.RetryAt().Sub(c.cfg.Clock.Now())
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	t := c.cfg.Clock.AfterFunc(d, func() { close(done) })
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Describe maps an error to the one-line status shown to the user.
func Describe(err error) string {
	if err == nil {
		return "OK"
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.PermissionDenied:
			return "Permission denied: run `sudo downlink install` to authorize the helper"
		case fault.NotFound:
			return "Not found: the monitored interface or the monitor registration is missing"
		case fault.SubprocessFailure:
			msg := fmt.Sprintf("Service manager failed (exit %d)", fe.ExitCode)
			if out := strings.TrimSpace(fe.Output); out != "" {
				line, _, _ := strings.Cut(out, "\n")
				msg += ": " + line
			}
			return msg
		case fault.ChannelInvalidated:
			return "Helper unavailable: is downlink-helper installed and running?"
		case fault.ProtocolMismatch:
			return "Helper version mismatch: reinstall with `sudo downlink install`"
		case fault.IOFailure:
			return "I/O error: " + err.Error()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timed out waiting for the helper"
	}
	var ue *state.UnavailableError
	if errors.As(err, &ue) {
		return "State storage unavailable: " + ue.Err.Error()
	}
	return "Error: " + err.Error()
}

// Compile-time check that channel.Channel and state.Store fit.
var (
	_ Caller = (*channel.Channel)(nil)
	_ Store  = (*state.Store)(nil)
)
