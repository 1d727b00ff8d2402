// Package session owns the device link lifecycle: it issues packet
// numbers, writes command frames, and runs the single reader that
// decodes incoming frames and correlates acknowledgments back to the
// commands that caused them.
//
// Ownership boundary: session owns the transport.Port handed to Open
// and closes it. Callers own command construction (protocol/command)
// and everything above the ack stream (midlevel, cmd/stimctl).
package session
