package client

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	ErrSessionFull     = errors.New("session is full")
	ErrJoinRejected    = errors.New("join rejected")
	ErrRemoteLeft      = errors.New("the other participant left")
	ErrSignalingClosed = errors.New("signaling connection closed")
	ErrNotConnected    = errors.New("no peer connection yet")
	ErrUnknownCommand  = errors.New("unknown command")
)

// DeviceDeniedError disables one capture kind; the rest of the session
// carries on.
type DeviceDeniedError struct {
	Kind webrtc.RTPCodecType
	Err  error
}

func (e *DeviceDeniedError) Error() string {
	return fmt.Sprintf("%s device denied: %v", e.Kind, e.Err)
}

func (e *DeviceDeniedError) Unwrap() error { return e.Err }

// Error ties a failure to the peer operation that hit it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}
