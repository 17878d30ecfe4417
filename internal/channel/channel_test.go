package channel

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downlinkdev/downlink/internal/clock"
	"github.com/downlinkdev/downlink/internal/fault"
	"github.com/downlinkdev/downlink/internal/helper"
	"github.com/downlinkdev/downlink/internal/logging"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeDaemon struct {
	mu     sync.Mutex
	loaded bool
}

func (d *fakeDaemon) LoadDaemon() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = true
	return nil
}

func (d *fakeDaemon) UnloadDaemon() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = false
	return nil
}

func (d *fakeDaemon) IsDaemonLoaded() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded, nil
}

func startHelper(t *testing.T, sock string, d helper.Daemon) *helper.Server {
	t.Helper()
	srv := helper.NewServer(helper.ServerConfig{SocketPath: sock, Daemon: d, Log: logging.Discard()})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func TestBrokerKilledMidSession(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "helper.sock")
	d := &fakeDaemon{}
	srv := startHelper(t, sock, d)

	clk := clock.Fake(epoch)
	ch := New(Config{Dial: HelperDialer(&helper.Client{SocketPath: sock}), Clock: clk})
	t.Cleanup(func() { _ = ch.Close() })
	ctx := context.Background()

	resp, err := ch.Call(ctx, helper.MethodLoadDaemon)
	require.NoError(t, err)
	require.True(t, resp.OK)
	assert.Equal(t, StateConnected, ch.State())

	srv.Stop()

	_, err = ch.Call(ctx, helper.MethodIsDaemonLoaded)
	require.ErrorIs(t, err, fault.ErrChannelInvalidated)
	assert.Equal(t, 1, ch.Failures())
	assert.Equal(t, epoch.Add(time.Second), ch.RetryAt())
	assert.Equal(t, StateInvalidated, ch.State())
	assert.Equal(t, 1, clk.Pending())

	// Before the deadline calls fail fast without dialing.
	_, err = ch.Call(ctx, helper.MethodIsDaemonLoaded)
	require.ErrorIs(t, err, fault.ErrChannelInvalidated)
	assert.Equal(t, 1, ch.Failures())

	startHelper(t, sock, d)

	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, StateInvalidated, ch.State())
	clk.Advance(time.Millisecond)
	assert.Equal(t, StateConnected, ch.State())
	assert.Zero(t, ch.Failures())

	resp, err = ch.Call(ctx, helper.MethodIsDaemonLoaded)
	require.NoError(t, err)
	assert.True(t, resp.Loaded)
}

func TestBackoffGrowsWhileHelperAbsent(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "helper.sock")
	clk := clock.Fake(epoch)
	var events []Event
	ch := New(Config{
		Dial:          HelperDialer(&helper.Client{SocketPath: sock}),
		Clock:         clk,
		OnStateChange: func(ev Event) { events = append(events, ev) },
	})
	t.Cleanup(func() { _ = ch.Close() })

	_, err := ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	require.ErrorIs(t, err, fault.ErrChannelInvalidated)

	for failures := 1; failures <= 4; failures++ {
		require.Equal(t, failures, ch.Failures())
		wait := ch.RetryAt().Sub(clk.Now())
		require.Equal(t, Delay(failures), wait)
		clk.Advance(wait)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StateInvalidated, last.State)
	assert.Equal(t, 5, last.Failures)
	assert.Error(t, last.Err)
}

type fakeConn struct {
	version int
	err     error
	closed  atomic.Bool
}

func (c *fakeConn) Call(_ context.Context, method string) (helper.Response, error) {
	if c.err != nil {
		return helper.Response{}, c.err
	}
	if method == helper.MethodGetProtocolVersion {
		return helper.Response{OK: true, Version: c.version}, nil
	}
	return helper.Response{OK: true}, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestProtocolMismatchNotRetried(t *testing.T) {
	clk := clock.Fake(epoch)
	conn := &fakeConn{version: helper.ProtocolVersion + 1}
	ch := New(Config{
		Dial:  func(context.Context) (Conn, error) { return conn, nil },
		Clock: clk,
	})

	_, err := ch.Call(context.Background(), helper.MethodLoadDaemon)
	require.ErrorIs(t, err, fault.ErrProtocolMismatch)
	assert.False(t, fault.Retryable(err))
	assert.Zero(t, clk.Pending(), "no retry is scheduled")
	assert.Zero(t, ch.Failures())
	assert.True(t, conn.closed.Load())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestSingleDialInFlight(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	ch := New(Config{
		Dial: func(context.Context) (Conn, error) {
			dials.Add(1)
			<-release
			return &fakeConn{version: helper.ProtocolVersion}, nil
		},
		Clock: clock.Fake(epoch),
	})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return dials.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), dials.Load())
}

func TestSuccessResetsFailures(t *testing.T) {
	clk := clock.Fake(epoch)
	fail := true
	ch := New(Config{
		Dial: func(context.Context) (Conn, error) {
			if fail {
				return nil, errors.New("connection refused")
			}
			return &fakeConn{version: helper.ProtocolVersion}, nil
		},
		Clock: clk,
	})

	_, err := ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	require.Error(t, err)
	clk.Advance(Delay(1))
	require.Equal(t, 2, ch.Failures())

	fail = false
	clk.Advance(Delay(2))
	assert.Zero(t, ch.Failures())
	assert.True(t, ch.RetryAt().IsZero())

	_, err = ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	assert.NoError(t, err)
}

func TestCloseAbandonsRetry(t *testing.T) {
	clk := clock.Fake(epoch)
	ch := New(Config{
		Dial:  func(context.Context) (Conn, error) { return nil, errors.New("refused") },
		Clock: clk,
	})
	_, _ = ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	require.Equal(t, 1, clk.Pending())

	require.NoError(t, ch.Close())
	assert.Zero(t, clk.Pending())

	_, err := ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	assert.ErrorIs(t, err, fault.ErrChannelInvalidated)
}

func TestTransportErrorOnEstablishedConn(t *testing.T) {
	clk := clock.Fake(epoch)
	conn := &fakeConn{version: helper.ProtocolVersion}
	ch := New(Config{
		Dial:  func(context.Context) (Conn, error) { return conn, nil },
		Clock: clk,
	})
	_, err := ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	require.NoError(t, err)

	conn.err = errors.New("broken pipe")
	_, err = ch.Call(context.Background(), helper.MethodIsDaemonLoaded)
	require.ErrorIs(t, err, fault.ErrChannelInvalidated)
	assert.True(t, conn.closed.Load())
	assert.Equal(t, 1, ch.Failures())
}
