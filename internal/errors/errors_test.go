package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapsCause(t *testing.T) {
	err := Fatal(ErrTransport, "send", "Error sending file", io.ErrUnexpectedEOF)

	assert.Equal(t, "Error sending file: unexpected EOF", err.Error())
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, FATAL, err.Level)
	assert.Equal(t, "send", err.Source)
}

func TestIsTypeWalksChain(t *testing.T) {
	inner := Fatal(ErrCrypto, "receive", "could not decrypt chunk", nil)
	outer := Fatal(ErrTransport, "receive", "Error receiving file", inner)
	wrapped := fmt.Errorf("session: %w", outer)

	assert.True(t, IsType(wrapped, ErrTransport))
	assert.True(t, IsType(wrapped, ErrCrypto))
	assert.False(t, IsType(wrapped, ErrCompatibility))
	assert.False(t, IsType(io.EOF, ErrTransport))

	typ, ok := TypeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrTransport, typ)
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "compatibility", ErrCompatibility.String())
	assert.Equal(t, "unknown(42)", ErrorType(42).String())
}
