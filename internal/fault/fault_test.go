package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("enable: %w", New(NotFound, "get flags awdl0", io.EOF))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, io.EOF, "wrapped cause should stay reachable")
	assert.Equal(t, NotFound, KindOf(err))
}

func TestSubprocessMessage(t *testing.T) {
	err := Subprocess("load_daemon", 5, "Unit not found.\n", nil)
	assert.Equal(t, "load_daemon: subprocess_failure (exit 5): Unit not found.", err.Error())

	var fe *Error
	require.True(t, errors.As(error(err), &fe))
	assert.Equal(t, 5, fe.ExitCode)
}

func TestKindRoundTrip(t *testing.T) {
	for k := range kindNames {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, Unknown, ParseKind("bogus"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(ChannelInvalidated, "call", io.ErrUnexpectedEOF)))
	assert.False(t, Retryable(New(ProtocolMismatch, "handshake", nil)))
	assert.False(t, Retryable(Subprocess("load_daemon", 1, "x", nil)))
	assert.False(t, Retryable(errors.New("plain")))
}
