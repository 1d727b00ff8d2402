package command

import (
	"encoding/binary"
	"fmt"

	"github.com/stimworks/stimlink/internal/protocol"
)

// Request is an encoded client->device command, ready for framing. Build
// one with the New* constructors; they run the safety validation so that
// an unsafe command never produces wire bytes.
type Request struct {
	Cmd     protocol.Cmd
	Payload []byte
}

// NewGetExtendedVersion builds the version query. Empty payload.
func NewGetExtendedVersion() Request {
	return Request{Cmd: protocol.CmdGetExtendedVersion}
}

// NewMlInit builds the mid-level init command.
//
// Payload: [flags:1], bit 0 = stop all channels on error.
func NewMlInit(m protocol.MlInit) Request {
	var flags byte
	if m.StopAllOnError {
		flags |= 0x01
	}
	return Request{Cmd: protocol.CmdMlInit, Payload: []byte{flags}}
}

// NewMlUpdate builds the mid-level update command.
//
// Payload: [enable_mask:1] then, for each enabled channel in ascending
// order: [period:2 LE][point_count:1] followed by point_count pairs of
// [time:2 LE][current:2 LE signed].
func NewMlUpdate(u protocol.MlUpdate) (Request, error) {
	if err := protocol.ValidateMlUpdate(u); err != nil {
		return Request{}, err
	}

	var mask byte
	size := 1
	for ch := 0; ch < protocol.NumberOfChannels; ch++ {
		if !u.EnableChannel[ch] {
			continue
		}
		mask |= 1 << uint(ch)
		size += 3 + 4*len(u.ChannelConfig[ch].Points)
	}

	payload := make([]byte, 0, size)
	payload = append(payload, mask)
	for ch := 0; ch < protocol.NumberOfChannels; ch++ {
		if !u.EnableChannel[ch] {
			continue
		}
		cfg := u.ChannelConfig[ch]
		payload = binary.LittleEndian.AppendUint16(payload, cfg.Period)
		payload = append(payload, byte(len(cfg.Points)))
		for _, pt := range cfg.Points {
			payload = binary.LittleEndian.AppendUint16(payload, pt.Time)
			payload = binary.LittleEndian.AppendUint16(payload, uint16(pt.Current))
		}
	}
	return Request{Cmd: protocol.CmdMlUpdate, Payload: payload}, nil
}

// NewMlStop builds the mid-level stop command. Empty payload.
func NewMlStop() Request {
	return Request{Cmd: protocol.CmdMlStop}
}

// NewMlGetCurrentData builds the runtime status request.
//
// Payload: [data_selection:1].
func NewMlGetCurrentData(m protocol.MlGetCurrentData) Request {
	return Request{Cmd: protocol.CmdMlGetCurrentData, Payload: []byte{byte(m.Selection)}}
}

// ParseMlInit decodes a mid-level init request payload. Used by the
// device side (simulator) and for round-trip verification.
func ParseMlInit(payload []byte) (protocol.MlInit, error) {
	if len(payload) != 1 {
		return protocol.MlInit{}, lengthError(protocol.CmdMlInit, len(payload), "1")
	}
	return protocol.MlInit{StopAllOnError: payload[0]&0x01 != 0}, nil
}

// ParseMlUpdate decodes a mid-level update request payload.
func ParseMlUpdate(payload []byte) (protocol.MlUpdate, error) {
	var u protocol.MlUpdate
	if len(payload) < 1 {
		return u, lengthError(protocol.CmdMlUpdate, len(payload), ">=1")
	}
	mask := payload[0]
	rest := payload[1:]
	for ch := 0; ch < protocol.NumberOfChannels; ch++ {
		if mask&(1<<uint(ch)) == 0 {
			continue
		}
		if len(rest) < 3 {
			return protocol.MlUpdate{}, truncatedError(protocol.CmdMlUpdate, ch)
		}
		cfg := protocol.ChannelConfig{
			Period: binary.LittleEndian.Uint16(rest[0:2]),
		}
		count := int(rest[2])
		rest = rest[3:]
		if count == 0 || count > protocol.MaxPoints {
			return protocol.MlUpdate{}, &protocol.DecodeError{
				Cmd:    protocol.CmdMlUpdate,
				Reason: fmt.Sprintf("channel %d point count %d out of range", ch, count),
			}
		}
		if len(rest) < 4*count {
			return protocol.MlUpdate{}, truncatedError(protocol.CmdMlUpdate, ch)
		}
		cfg.Points = make([]protocol.PointConfig, count)
		for i := 0; i < count; i++ {
			cfg.Points[i] = protocol.PointConfig{
				Time:    binary.LittleEndian.Uint16(rest[0:2]),
				Current: int16(binary.LittleEndian.Uint16(rest[2:4])),
			}
			rest = rest[4:]
		}
		u.EnableChannel[ch] = true
		u.ChannelConfig[ch] = cfg
	}
	if len(rest) != 0 {
		return protocol.MlUpdate{}, &protocol.DecodeError{
			Cmd:    protocol.CmdMlUpdate,
			Reason: fmt.Sprintf("%d trailing bytes", len(rest)),
		}
	}
	return u, nil
}

// ParseMlGetCurrentData decodes a runtime status request payload.
func ParseMlGetCurrentData(payload []byte) (protocol.MlGetCurrentData, error) {
	if len(payload) != 1 {
		return protocol.MlGetCurrentData{}, lengthError(protocol.CmdMlGetCurrentData, len(payload), "1")
	}
	return protocol.MlGetCurrentData{Selection: protocol.DataSelection(payload[0])}, nil
}

func lengthError(cmd protocol.Cmd, got int, want string) error {
	return &protocol.DecodeError{
		Cmd:    cmd,
		Reason: fmt.Sprintf("payload length %d, want %s", got, want),
	}
}

func truncatedError(cmd protocol.Cmd, channel int) error {
	return &protocol.DecodeError{
		Cmd:    cmd,
		Reason: fmt.Sprintf("truncated channel %d block", channel),
	}
}
