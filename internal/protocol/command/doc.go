// Package command owns per-command payload schemas: request encoders for
// the client side and acknowledgment parsers for the responses, plus the
// inverse direction used by the device simulator.
//
// Every parser validates the payload length against the fixed or
// variable-length schema of its command identifier and fails with
// *protocol.DecodeError on mismatch. Request constructors run the safety
// validation, so an out-of-bounds amplitude or channel index is rejected
// before serialization.
package command
