// Package channel keeps the front-end's connection to the helper alive.
//
// A transport failure invalidates the connection, bumps a consecutive
// failure counter and schedules a reconnect Delay(failures) later on the
// injected clock. Calls made before that deadline fail fast; nothing ever
// spins. A successful call or handshake resets the counter.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/downlinkdev/downlink/internal/clock"
	"github.com/downlinkdev/downlink/internal/fault"
	"github.com/downlinkdev/downlink/internal/helper"
)

// dialTimeout bounds a background reconnect attempt.
const dialTimeout = 5 * time.Second

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateInvalidated means the last attempt failed and a retry is
	// scheduled.
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateInvalidated:
		return "invalidated"
	default:
		return "disconnected"
	}
}

// Event is emitted through OnStateChange on every transition.
type Event struct {
	State    State
	At       time.Time
	Failures int
	// RetryAt is set when State is StateInvalidated.
	RetryAt time.Time
	Err     error
}

// Conn is one live helper connection.
type Conn interface {
	Call(ctx context.Context, method string) (helper.Response, error)
	Close() error
}

// DialFunc opens a Conn.
type DialFunc func(ctx context.Context) (Conn, error)

// HelperDialer returns a DialFunc for c.
func HelperDialer(c *helper.Client) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		return c.Dial(ctx)
	}
}

// Config configures a Channel.
type Config struct {
	Dial          DialFunc
	Clock         clock.Clock // defaults to clock.Real()
	Log           *log.Logger // optional
	OnStateChange func(Event) // optional; called without locks held
}

// Channel is the reconnecting control channel.
type Channel struct {
	cfg Config

	mu       sync.Mutex
	conn     Conn
	state    State
	failures int
	retryAt  time.Time
	timer    clock.Timer
	dialing  chan struct{} // non-nil while a dial is in flight
	closed   bool
}

// New returns a disconnected Channel. Nothing is dialed until the first Call.
func New(cfg Config) *Channel {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Channel{cfg: cfg}
}

var errClosed = errors.New("channel closed")

// Call sends method to the helper, connecting first if needed. Transport
// failures are returned as fault.ChannelInvalidated; a failed operation on
// the helper side is returned inside the Response.
func (c *Channel) Call(ctx context.Context, method string) (helper.Response, error) {
	conn, err := c.connect(ctx, method)
	if err != nil {
		return helper.Response{}, err
	}
	resp, err := conn.Call(ctx, method)
	if err != nil {
		if ctx.Err() != nil {
			// The stream may hold a late reply; drop it without counting a failure.
			c.drop(conn)
			return helper.Response{}, ctx.Err()
		}
		return helper.Response{}, c.fail(conn, method, err)
	}
	c.succeed()
	return resp, nil
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures returns the consecutive failure count.
func (c *Channel) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// RetryAt returns when the next attempt is allowed. Zero when not backing
// off.
func (c *Channel) RetryAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryAt
}

// Close drops the connection and abandons any scheduled reconnect.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// connect returns the live connection, dialing if allowed. At most one dial
// is in flight; concurrent callers wait for it.
func (c *Channel) connect(ctx context.Context, op string) (Conn, error) {
	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return nil, fault.New(fault.ChannelInvalidated, op, errClosed)
		}
		if c.conn != nil {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		if now := c.cfg.Clock.Now(); now.Before(c.retryAt) {
			wait := c.retryAt.Sub(now)
			c.mu.Unlock()
			return nil, fault.New(fault.ChannelInvalidated, op,
				fmt.Errorf("helper unavailable, retrying in %s", wait.Round(time.Millisecond)))
		}
		if c.dialing == nil {
			break
		}
		dialing := c.dialing
		c.mu.Unlock()
		select {
		case <-dialing:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}
	done := make(chan struct{})
	c.dialing = done
	ev := c.setState(StateConnecting)
	c.mu.Unlock()
	c.emit(ev)

	conn, err := c.dial(ctx)

	c.mu.Lock()
	c.dialing = nil
	close(done)
	if err != nil {
		if fault.KindOf(err) == fault.ProtocolMismatch {
			ev := c.setState(StateDisconnected)
			ev.Err = err
			c.mu.Unlock()
			c.emit(ev)
			return nil, err
		}
		c.mu.Unlock()
		return nil, c.fail(nil, op, err)
	}
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, fault.New(fault.ChannelInvalidated, op, errClosed)
	}
	c.conn = conn
	c.failures = 0
	c.retryAt = time.Time{}
	ev = c.setState(StateConnected)
	c.mu.Unlock()
	c.emit(ev)
	return conn, nil
}

// dial opens a connection and checks the helper's protocol version.
func (c *Channel) dial(ctx context.Context) (Conn, error) {
	conn, err := c.cfg.Dial(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Call(ctx, helper.MethodGetProtocolVersion)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if resp.Version != helper.ProtocolVersion {
		_ = conn.Close()
		return nil, fault.New(fault.ProtocolMismatch, helper.MethodGetProtocolVersion,
			fmt.Errorf("helper speaks protocol %d, want %d", resp.Version, helper.ProtocolVersion))
	}
	return conn, nil
}

// fail invalidates conn (if it is still current), counts the failure and
// schedules a reconnect.
func (c *Channel) fail(conn Conn, op string, cause error) error {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		// Someone else already handled this connection's failure.
		c.mu.Unlock()
		_ = conn.Close()
		return fault.New(fault.ChannelInvalidated, op, cause)
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.failures++
	delay := Delay(c.failures)
	c.retryAt = c.cfg.Clock.Now().Add(delay)
	if c.timer != nil {
		c.timer.Stop()
	}
	if !c.closed {
		c.timer = c.cfg.Clock.AfterFunc(delay, c.reconnect)
	}
	ev := c.setState(StateInvalidated)
	ev.RetryAt = c.retryAt
	ev.Err = cause
	c.mu.Unlock()

	if l := c.cfg.Log; l != nil {
		l.Warn("helper channel invalidated", "op", op, "failures", ev.Failures, "retry_in", delay, "err", cause)
	}
	c.emit(ev)
	return fault.New(fault.ChannelInvalidated, op, cause)
}

// drop discards conn without counting a failure.
func (c *Channel) drop(conn Conn) {
	c.mu.Lock()
	var ev *Event
	if c.conn == conn {
		c.conn = nil
		e := c.setState(StateDisconnected)
		ev = &e
	}
	c.mu.Unlock()
	_ = conn.Close()
	if ev != nil {
		c.emit(*ev)
	}
}

func (c *Channel) succeed() {
	c.mu.Lock()
	c.failures = 0
	c.retryAt = time.Time{}
	c.mu.Unlock()
}

// reconnect runs on the clock when a scheduled retry is due.
func (c *Channel) reconnect() {
	c.mu.Lock()
	c.timer = nil
	if c.closed || c.conn != nil || c.dialing != nil {
		c.mu.Unlock()
		return
	}
	ev := c.setState(StateDisconnected)
	c.mu.Unlock()
	c.emit(ev)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := c.connect(ctx, "reconnect"); err != nil {
		if l := c.cfg.Log; l != nil {
			l.Debug("reconnect failed", "err", err)
		}
		return
	}
	if l := c.cfg.Log; l != nil {
		l.Info("helper channel reconnected")
	}
}

// setState must be called with mu held.
func (c *Channel) setState(s State) Event {
	c.state = s
	return Event{State: s, At: c.cfg.Clock.Now(), Failures: c.failures}
}

func (c *Channel) emit(ev Event) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(ev)
	}
}
