package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStartMarker = errors.New("protocol: invalid start marker")
	ErrInvalidEndMarker   = errors.New("protocol: invalid end marker")
	ErrChecksumMismatch   = errors.New("protocol: checksum mismatch")
	ErrInvalidLength      = errors.New("protocol: invalid length")
	ErrPayloadTooLarge    = errors.New("protocol: payload too large")
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrUnknownCommand     = errors.New("protocol: unknown command")
)

// SafetyError rejects a command whose parameters violate device-safe
// bounds. Raised at encode time, before any bytes reach the transport.
type SafetyError struct {
	Channel int
	Field   string
	Reason  string
}

func (e *SafetyError) Error() string {
	if e.Channel >= 0 {
		return fmt.Sprintf("protocol: unsafe %s on channel %d: %s", e.Field, e.Channel, e.Reason)
	}
	return fmt.Sprintf("protocol: unsafe %s: %s", e.Field, e.Reason)
}

// DecodeError marks an acknowledgment payload that does not match the
// schema expected for its command identifier.
type DecodeError struct {
	Cmd    Cmd
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %s", e.Cmd, e.Reason)
}
