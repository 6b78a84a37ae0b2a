package consent

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmAnswers(t *testing.T) {
	in := strings.NewReader("y\nn\nYES\nmaybe\nY")
	var out bytes.Buffer
	cs := NewConsentService(in, &out, nil)

	for _, want := range []bool{true, false, true, false, true} {
		got, err := cs.Confirm(context.Background(), "Does the PIN 123456 match?")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Contains(t, out.String(), "Does the PIN 123456 match? (y/n): ")

	_, err := cs.Confirm(context.Background(), "again?")
	assert.ErrorIs(t, err, io.EOF)
}

func TestConfirmHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	cs := NewConsentService(r, io.Discard, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := cs.Confirm(ctx, "still there?")
	assert.False(t, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
