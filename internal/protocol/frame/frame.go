package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/stimworks/stimlink/internal/protocol"
)

// Frame is one complete checksummed unit of the wire protocol:
//
//	[SOF][length:2 LE][cmd][packet_number][payload...][crc8][EOF]
//
// length counts cmd, packet_number and payload. crc8 covers the same span.
type Frame struct {
	Cmd          protocol.Cmd
	PacketNumber uint8
	Payload      []byte
}

var (
	// ErrIncomplete means the buffered bytes do not yet hold a full frame.
	ErrIncomplete = errors.New("frame: incomplete")
)

// Error reports one discarded frame. The decoder resynchronizes past it,
// so a frame.Error is never fatal to the stream.
type Error struct {
	Cause   error
	Skipped int
}

func (e *Error) Error() string {
	return fmt.Sprintf("frame: discarded %d bytes: %v", e.Skipped, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Encode serializes f into wire bytes.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > protocol.MaxPayloadSize {
		return nil, protocol.ErrPayloadTooLarge
	}

	length := uint16(2 + len(f.Payload))
	buf := make([]byte, 0, int(length)+protocol.FrameOverhead)
	buf = append(buf, protocol.StartOfFrame)
	buf = binary.LittleEndian.AppendUint16(buf, length)
	buf = append(buf, byte(f.Cmd), f.PacketNumber)
	buf = append(buf, f.Payload...)
	buf = append(buf, protocol.Checksum(buf[3:]))
	buf = append(buf, protocol.EndOfFrame)
	return buf, nil
}

// Decoder turns an arbitrarily chunked byte stream back into frames.
// Feed bytes with Feed, then drain completed frames with Next. State is
// kept across calls, so partial trailing data survives until the rest of
// its frame arrives. A corrupted frame is reported once as *Error and the
// decoder rescans for the next start marker instead of aborting.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends raw bytes from the transport.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of undecoded bytes held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next returns the next complete frame. It returns ErrIncomplete when more
// bytes are needed, or *Error after discarding a malformed frame; in the
// latter case the caller should log and call Next again.
func (d *Decoder) Next() (Frame, error) {
	// Scan to the next start marker, dropping garbage between frames.
	skipped := d.seekStart()

	if len(d.buf) < 3 {
		if skipped > 0 {
			return Frame{}, &Error{Cause: protocol.ErrInvalidStartMarker, Skipped: skipped}
		}
		return Frame{}, ErrIncomplete
	}

	length := binary.LittleEndian.Uint16(d.buf[1:3])
	if length < 2 || int(length)-2 > protocol.MaxPayloadSize {
		skipped += d.resync()
		return Frame{}, &Error{Cause: protocol.ErrInvalidLength, Skipped: skipped}
	}

	total := int(length) + protocol.FrameOverhead
	if len(d.buf) < total {
		if skipped > 0 {
			return Frame{}, &Error{Cause: protocol.ErrInvalidStartMarker, Skipped: skipped}
		}
		return Frame{}, ErrIncomplete
	}

	if d.buf[total-1] != protocol.EndOfFrame {
		skipped += d.resync()
		return Frame{}, &Error{Cause: protocol.ErrInvalidEndMarker, Skipped: skipped}
	}

	body := d.buf[3 : 3+int(length)]
	if protocol.Checksum(body) != d.buf[total-2] {
		skipped += d.resync()
		return Frame{}, &Error{Cause: protocol.ErrChecksumMismatch, Skipped: skipped}
	}

	f := Frame{
		Cmd:          protocol.Cmd(body[0]),
		PacketNumber: body[1],
	}
	if len(body) > 2 {
		f.Payload = make([]byte, len(body)-2)
		copy(f.Payload, body[2:])
	}

	// Garbage preceding a valid frame was already dropped by seekStart;
	// once a good frame follows it is not worth a separate error.
	d.buf = d.buf[total:]
	return f, nil
}

// seekStart drops bytes preceding the first start marker and returns how
// many were dropped.
func (d *Decoder) seekStart() int {
	for i, b := range d.buf {
		if b == protocol.StartOfFrame {
			d.buf = d.buf[i:]
			return i
		}
	}
	n := len(d.buf)
	d.buf = d.buf[:0]
	return n
}

// resync skips the current (bad) start marker so the next scan can find a
// later frame boundary. Returns the number of bytes dropped.
func (d *Decoder) resync() int {
	if len(d.buf) == 0 {
		return 0
	}
	d.buf = d.buf[1:]
	return 1 + d.seekStart()
}
