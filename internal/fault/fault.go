// Package fault is the error taxonomy shared by the monitor, the helper and
// the front-end.
//
// Every error that crosses a component boundary is a *Error carrying a Kind.
// Only ChannelInvalidated is retried locally; every other kind is returned
// to the caller.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	// PermissionDenied means elevation is missing or was revoked.
	PermissionDenied
	// NotFound means the interface or the daemon registration is absent.
	NotFound
	// IOFailure is a transport or control-call error.
	IOFailure
	// SubprocessFailure is a supervisor command that exited nonzero. The
	// Error carries ExitCode and Output.
	SubprocessFailure
	// ChannelInvalidated means the helper connection was severed.
	ChannelInvalidated
	// ProtocolMismatch means the helper speaks a different protocol version.
	ProtocolMismatch
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	PermissionDenied:   "permission_denied",
	NotFound:           "not_found",
	IOFailure:          "io_failure",
	SubprocessFailure:  "subprocess_failure",
	ChannelInvalidated: "channel_invalidated",
	ProtocolMismatch:   "protocol_mismatch",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to Unknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return Unknown
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "load_daemon" or "get flags awdl0".
	Op string
	// ExitCode and Output are set for SubprocessFailure. ExitCode is -1 when
	// the subprocess could not be started.
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Kind == SubprocessFailure {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, fault.ErrNotFound) works
// for any *Error of kind NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied   = &Error{Kind: PermissionDenied}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrIOFailure          = &Error{Kind: IOFailure}
	ErrSubprocessFailure  = &Error{Kind: SubprocessFailure}
	ErrChannelInvalidated = &Error{Kind: ChannelInvalidated}
	ErrProtocolMismatch   = &Error{Kind: ProtocolMismatch}
)

// New returns an error of kind k for op wrapping err.
func New(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Subprocess returns a SubprocessFailure carrying the exit code and output.
func Subprocess(op string, exitCode int, output string, err error) *Error {
	return &Error{Kind: SubprocessFailure, Op: op, ExitCode: exitCode, Output: output, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Retryable reports whether the control channel may retry after err.
func Retryable(err error) bool {
	return KindOf(err) == ChannelInvalidated
}
