package session

import (
	"errors"

	"github.com/stimworks/stimlink/internal/protocol"
)

// ErrPacketWindowFull means every packet number is awaiting an ack. With
// a modulus of 256 this is not reached in normal operation.
var ErrPacketWindowFull = errors.New("session: packet number window full")

// PacketNumberGenerator issues strictly increasing correlation numbers,
// wrapping to 0 after protocol.MaxPacketNumber-1. Pure, no I/O; the
// caller provides the pending check so a number still awaiting its
// acknowledgment is never reissued.
type PacketNumberGenerator struct {
	next uint8
}

// Next returns the next free packet number. inUse may be nil.
func (g *PacketNumberGenerator) Next(inUse func(uint8) bool) (uint8, error) {
	for i := 0; i < protocol.MaxPacketNumber; i++ {
		n := g.next
		g.next++
		if inUse == nil || !inUse(n) {
			return n, nil
		}
	}
	return 0, ErrPacketWindowFull
}
