// Package wire holds the integer framing shared by the handshake and the
// transfer protocol: every integer is an 8-byte big-endian unsigned value.
package wire

import (
	"encoding/binary"
	"io"
	"time"
)

// Port is the fixed TCP port the host listens on and the client dials.
const Port = 3290

func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteBool writes 1 for true and 0 for false.
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteUint64(w, 1)
	}
	return WriteUint64(w, 0)
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ErrTimeout is returned by ReadUint64Timeout when nothing arrived in time.
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string   { return "timed out waiting for peer" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ReadUint64Timeout reads one integer but gives up after d. Streams with read
// deadlines get one; others are read on a goroutine that finishes once the
// stream is closed.
func ReadUint64Timeout(r io.Reader, d time.Duration) (uint64, error) {
	if rd, ok := r.(readDeadliner); ok {
		if err := rd.SetReadDeadline(time.Now().Add(d)); err == nil {
			defer rd.SetReadDeadline(time.Time{})
			v, err := ReadUint64(r)
			if isTimeout(err) {
				return 0, ErrTimeout
			}
			return v, err
		}
	}

	type result struct {
		v   uint64
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := ReadUint64(r)
		ch <- result{v, err}
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.v, res.err
	case <-timer.C:
		return 0, ErrTimeout
	}
}

func isTimeout(err error) bool {
	t, ok := err.(interface{ Timeout() bool })
	return ok && t.Timeout()
}
