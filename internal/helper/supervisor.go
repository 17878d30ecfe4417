package helper

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/downlinkdev/downlink/internal/fault"
)

// Daemon is the set of privileged operations the broker exposes.
type Daemon interface {
	LoadDaemon() error
	UnloadDaemon() error
	IsDaemonLoaded() (bool, error)
}

// Supervisor registers the monitor with the system service manager by
// running fixed command lines. The argv fields are only replaced in tests.
type Supervisor struct {
	LoadArgv   []string
	UnloadArgv []string
	StatusArgv []string
	// Timeout bounds each subprocess. A started command is never cancelled
	// by its caller.
	Timeout time.Duration
}

// NewSupervisor returns the Supervisor for this platform.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		LoadArgv:   loadArgv(),
		UnloadArgv: unloadArgv(),
		StatusArgv: statusArgv(),
		Timeout:    30 * time.Second,
	}
}

// LoadDaemon registers and starts the monitor.
func (s *Supervisor) LoadDaemon() error {
	return s.run(MethodLoadDaemon, s.LoadArgv)
}

// UnloadDaemon stops and unregisters the monitor.
func (s *Supervisor) UnloadDaemon() error {
	return s.run(MethodUnloadDaemon, s.UnloadArgv)
}

// IsDaemonLoaded reports whether the monitor is registered. A nonzero exit
// from the status command means "not loaded"; only a failure to run the
// command is an error.
func (s *Supervisor) IsDaemonLoaded() (bool, error) {
	err := s.run(MethodIsDaemonLoaded, s.StatusArgv)
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Kind == fault.SubprocessFailure && fe.ExitCode > 0 {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// run executes argv and classifies the outcome. A nonzero exit yields a
// SubprocessFailure with the exit code and combined output; failure to
// start yields the same kind with exit code -1.
func (s *Supervisor) run(op string, argv []string) error {
	if len(argv) == 0 {
		return fault.Subprocess(op, -1, "", errors.New("no command configured"))
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() >= 0 {
		return fault.Subprocess(op, ee.ExitCode(), string(out), nil)
	}
	return fault.Subprocess(op, -1, string(out), err)
}
