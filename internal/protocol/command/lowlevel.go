package command

import (
	"encoding/binary"
	"fmt"

	"github.com/stimworks/stimlink/internal/protocol"
)

// Low-level commands drive single custom pulses instead of a repeating
// waveform. The device fires exactly one pulse per Ll_Channel_Config;
// pacing and repetition are the caller's job.

// NewLlInit builds the low-level init command.
//
// Payload: [high_voltage_level:1] in volts. Zero selects the device
// default supply level.
func NewLlInit(m protocol.LlInit) Request {
	level := m.HighVoltageLevel
	if level == 0 {
		level = protocol.HighVoltageDefault
	}
	return Request{Cmd: protocol.CmdLlInit, Payload: []byte{level}}
}

// NewLlChannelConfig builds a single-pulse command.
//
// Payload: [flags:1, bit 0 = enable stimulation][connector:1][channel:1]
// [point_count:1] followed by point_count pairs of
// [time:2 LE][current:2 LE signed].
func NewLlChannelConfig(m protocol.LlChannelConfig) (Request, error) {
	if err := protocol.ValidateLlChannelConfig(m); err != nil {
		return Request{}, err
	}
	var flags byte
	if m.EnableStimulation {
		flags |= 0x01
	}
	payload := make([]byte, 0, 4+4*len(m.Points))
	payload = append(payload, flags, byte(m.Connector), m.Channel, byte(len(m.Points)))
	for _, pt := range m.Points {
		payload = binary.LittleEndian.AppendUint16(payload, pt.Time)
		payload = binary.LittleEndian.AppendUint16(payload, uint16(pt.Current))
	}
	return Request{Cmd: protocol.CmdLlChannelConfig, Payload: payload}, nil
}

// NewLlStop builds the low-level stop command. Empty payload.
func NewLlStop() Request {
	return Request{Cmd: protocol.CmdLlStop}
}

// ParseLlInit decodes a low-level init request payload.
func ParseLlInit(payload []byte) (protocol.LlInit, error) {
	if len(payload) != 1 {
		return protocol.LlInit{}, lengthError(protocol.CmdLlInit, len(payload), "1")
	}
	return protocol.LlInit{HighVoltageLevel: payload[0]}, nil
}

// ParseLlChannelConfig decodes a single-pulse request payload.
func ParseLlChannelConfig(payload []byte) (protocol.LlChannelConfig, error) {
	if len(payload) < 4 {
		return protocol.LlChannelConfig{}, lengthError(protocol.CmdLlChannelConfig, len(payload), ">=4")
	}
	m := protocol.LlChannelConfig{
		EnableStimulation: payload[0]&0x01 != 0,
		Connector:         protocol.Connector(payload[1]),
		Channel:           payload[2],
	}
	count := int(payload[3])
	if count == 0 || count > protocol.MaxPoints {
		return protocol.LlChannelConfig{}, &protocol.DecodeError{
			Cmd:    protocol.CmdLlChannelConfig,
			Reason: fmt.Sprintf("point count %d out of range", count),
		}
	}
	if len(payload) != 4+4*count {
		return protocol.LlChannelConfig{}, lengthError(protocol.CmdLlChannelConfig, len(payload), fmt.Sprint(4+4*count))
	}
	m.Points = make([]protocol.PointConfig, count)
	for i := 0; i < count; i++ {
		off := 4 + 4*i
		m.Points[i] = protocol.PointConfig{
			Time:    binary.LittleEndian.Uint16(payload[off:]),
			Current: int16(binary.LittleEndian.Uint16(payload[off+2:])),
		}
	}
	return m, nil
}

// EncodeLlInitAck serializes the low-level init ack body (device side).
func EncodeLlInitAck(a protocol.LlInitAck) []byte {
	return []byte{byte(a.Result)}
}

// ParseLlInitAck decodes the low-level init ack body.
func ParseLlInitAck(payload []byte) (protocol.LlInitAck, error) {
	if len(payload) != 1 {
		return protocol.LlInitAck{}, lengthError(protocol.CmdLlInitAck, len(payload), "1")
	}
	return protocol.LlInitAck{Result: protocol.Result(payload[0])}, nil
}

// EncodeLlChannelConfigAck serializes the pulse ack body (device side).
func EncodeLlChannelConfigAck(a protocol.LlChannelConfigAck) []byte {
	return []byte{byte(a.Result)}
}

// ParseLlChannelConfigAck decodes the pulse ack body.
func ParseLlChannelConfigAck(payload []byte) (protocol.LlChannelConfigAck, error) {
	if len(payload) != 1 {
		return protocol.LlChannelConfigAck{}, lengthError(protocol.CmdLlChannelConfigAck, len(payload), "1")
	}
	return protocol.LlChannelConfigAck{Result: protocol.Result(payload[0])}, nil
}

// EncodeLlStopAck serializes the low-level stop ack body (device side).
func EncodeLlStopAck(a protocol.LlStopAck) []byte {
	return []byte{byte(a.Result)}
}

// ParseLlStopAck decodes the low-level stop ack body.
func ParseLlStopAck(payload []byte) (protocol.LlStopAck, error) {
	if len(payload) != 1 {
		return protocol.LlStopAck{}, lengthError(protocol.CmdLlStopAck, len(payload), "1")
	}
	return protocol.LlStopAck{Result: protocol.Result(payload[0])}, nil
}
