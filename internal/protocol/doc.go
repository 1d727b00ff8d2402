// Package protocol owns the wire contract for the stimulation device:
// command identifiers, device limits, checksum, and domain validity.
//
// Ownership boundary:
// - frame-level constants and CRC
// - command/acknowledgment data types
// - safety validation before serialization
//
// Subpackages:
// - frame: byte-stream framer/deframer with resynchronization
// - command: per-command encoders and acknowledgment decoders
package protocol
