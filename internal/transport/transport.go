package transport

import (
	"errors"
	"fmt"
)

// Port is a byte-stream transport to one device. Read uses short-timeout
// poll semantics: it returns (0, nil) when no bytes arrived within the
// poll window, so a reader loop can observe shutdown between polls.
// Implementations must tolerate one concurrent reader and one concurrent
// writer; callers serialize writes above this layer.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// ErrClosed reports I/O on a closed port.
var ErrClosed = errors.New("transport: port closed")

// ConnectError is fatal to a session: the port cannot be opened or has
// gone away underneath it.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
