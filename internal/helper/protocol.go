// Package helper is the privilege broker: a root daemon that runs a fixed set
// of service manager commands on behalf of the unprivileged front-end, its
// client, and the one-time installer that registers it.
package helper

import (
	"errors"

	"github.com/downlinkdev/downlink/internal/fault"
)

// The fixed broker surface. There is no generic exec capability.
const (
	MethodGetProtocolVersion = "get_protocol_version"
	MethodLoadDaemon         = "load_daemon"
	MethodUnloadDaemon       = "unload_daemon"
	MethodIsDaemonLoaded     = "is_daemon_loaded"
)

// ProtocolVersion is bumped on any incompatible change to Request/Response.
const ProtocolVersion = 1

// SocketPath is where the helper daemon listens.
const SocketPath = "/var/run/downlink/helper.sock"

// Request is sent from the front-end to the helper. A connection carries
// any number of requests; Seq is echoed in the matching Response.
type Request struct {
	Method string `cbor:"method"`
	Seq    uint64 `cbor:"seq,omitempty"`
}

// Response is sent back from the helper daemon.
type Response struct {
	Seq     uint64     `cbor:"seq,omitempty"`
	OK      bool       `cbor:"ok"`
	Error   *WireError `cbor:"error,omitempty"`
	Version int        `cbor:"version,omitempty"`
	Loaded  bool       `cbor:"loaded,omitempty"`
}

// WireError is a fault.Error flattened for the socket.
type WireError struct {
	Kind     string `cbor:"kind"`
	Message  string `cbor:"message,omitempty"`
	ExitCode int    `cbor:"exit_code,omitempty"`
	Output   string `cbor:"output,omitempty"`
}

// Err returns the error carried by r, or nil when r is a success.
func (r Response) Err(op string) error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return fault.New(fault.Unknown, op, errors.New("helper returned failure without detail"))
	}
	e := &fault.Error{
		Kind:     fault.ParseKind(r.Error.Kind),
		Op:       op,
		ExitCode: r.Error.ExitCode,
		Output:   r.Error.Output,
	}
	if r.Error.Message != "" {
		e.Err = errors.New(r.Error.Message)
	}
	return e
}

func errorResponse(err error) Response {
	we := &WireError{Kind: fault.KindOf(err).String()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		we.ExitCode = fe.ExitCode
		we.Output = fe.Output
		if fe.Err != nil {
			we.Message = fe.Err.Error()
		}
	} else {
		we.Message = err.Error()
	}
	return Response{OK: false, Error: we}
}
