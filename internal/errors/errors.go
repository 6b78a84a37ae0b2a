package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

type ErrorType int

const (
	// ErrConfiguration covers user choices that cannot work, such as both
	// ends selecting the same mode or a missing password.
	ErrConfiguration ErrorType = iota
	// ErrCompatibility is an incompatible protocol version on the peer.
	ErrCompatibility
	// ErrTransport is any connect, accept, read or write failure.
	ErrTransport
	// ErrCrypto is an AEAD failure on a received chunk.
	ErrCrypto
	// ErrNegotiation is a Bluetooth credential negotiation failure.
	ErrNegotiation
	// ErrTimeout is a bounded wait that expired.
	ErrTimeout
	// ErrFilesystem is a local file or directory failure.
	ErrFilesystem
)

func (t ErrorType) String() string {
	switch t {
	case ErrConfiguration:
		return "configuration"
	case ErrCompatibility:
		return "compatibility"
	case ErrTransport:
		return "transport"
	case ErrCrypto:
		return "crypto"
	case ErrNegotiation:
		return "negotiation"
	case ErrTimeout:
		return "timeout"
	case ErrFilesystem:
		return "filesystem"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

type ErrorLevel int

const (
	INFO ErrorLevel = iota
	WARNING
	ERROR
	FATAL
)

type AppError struct {
	Type    ErrorType
	Level   ErrorLevel
	Message string
	Time    time.Time
	// Source names the phase that failed, e.g. "handshake" or "send".
	Source string
	Err    error
}

func (c *AppError) Error() string {
	if c.Err == nil {
		return c.Message
	}
	return fmt.Sprintf("%s: %v", c.Message, c.Err)
}

func (c *AppError) Unwrap() error {
	return c.Err
}

func NewError(errtype ErrorType, level ErrorLevel, source string, msg string, uerror error) *AppError {
	return &AppError{
		Type:    errtype,
		Level:   level,
		Message: msg,
		Time:    time.Now(),
		Source:  source,
		Err:     uerror,
	}
}

// Fatal is NewError at FATAL level, which is what every session-ending
// failure uses.
func Fatal(errtype ErrorType, source string, msg string, uerror error) *AppError {
	return NewError(errtype, FATAL, source, msg, uerror)
}

// IsType reports whether any AppError in err's chain has type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Err
	}
	return false
}

// TypeOf returns the type of the outermost AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type, true
	}
	return 0, false
}
