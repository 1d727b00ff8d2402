package command

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/frame"
)

// Ack is one decoded acknowledgment: command tag, originating packet
// number, and the command-specific body. Created by Decode on a verified
// frame; consumed exactly once by the session dispatch.
type Ack struct {
	Cmd          protocol.Cmd
	PacketNumber uint8

	// Data holds the typed body: one of the protocol ack structs
	// (ExtendedVersionAck, the Ml*Ack family or the Ll*Ack family).
	Data any
}

// Decode parses a received frame into a typed acknowledgment.
func Decode(f frame.Frame) (Ack, error) {
	ack := Ack{Cmd: f.Cmd, PacketNumber: f.PacketNumber}
	var err error
	switch f.Cmd {
	case protocol.CmdGetExtendedVersionAck:
		ack.Data, err = ParseExtendedVersionAck(f.Payload)
	case protocol.CmdLlInitAck:
		ack.Data, err = ParseLlInitAck(f.Payload)
	case protocol.CmdLlChannelConfigAck:
		ack.Data, err = ParseLlChannelConfigAck(f.Payload)
	case protocol.CmdLlStopAck:
		ack.Data, err = ParseLlStopAck(f.Payload)
	case protocol.CmdMlInitAck:
		ack.Data, err = ParseMlInitAck(f.Payload)
	case protocol.CmdMlUpdateAck:
		ack.Data, err = ParseMlUpdateAck(f.Payload)
	case protocol.CmdMlStopAck:
		ack.Data, err = ParseMlStopAck(f.Payload)
	case protocol.CmdMlGetCurrentDataAck:
		ack.Data, err = ParseMlGetCurrentDataAck(f.Payload)
	default:
		return Ack{}, fmt.Errorf("%w: %d", protocol.ErrUnknownCommand, uint8(f.Cmd))
	}
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// Extended version ack payload:
// [result:1][fw:3][proto:3][fw_hash:4 LE][device_id:10 NUL-padded]
const extendedVersionAckSize = 1 + 3 + 3 + 4 + protocol.DeviceIDLength

// EncodeExtendedVersionAck serializes the version ack body (device side).
func EncodeExtendedVersionAck(a protocol.ExtendedVersionAck) ([]byte, error) {
	if len(a.DeviceID) > protocol.DeviceIDLength {
		return nil, &protocol.DecodeError{
			Cmd:    protocol.CmdGetExtendedVersionAck,
			Reason: fmt.Sprintf("device id %q longer than %d", a.DeviceID, protocol.DeviceIDLength),
		}
	}
	payload := make([]byte, 0, extendedVersionAckSize)
	payload = append(payload, byte(a.Result))
	payload = append(payload, a.Firmware.Major, a.Firmware.Minor, a.Firmware.Patch)
	payload = append(payload, a.Protocol.Major, a.Protocol.Minor, a.Protocol.Patch)
	payload = binary.LittleEndian.AppendUint32(payload, a.FwHash)
	id := make([]byte, protocol.DeviceIDLength)
	copy(id, a.DeviceID)
	payload = append(payload, id...)
	return payload, nil
}

// ParseExtendedVersionAck decodes the version ack body.
func ParseExtendedVersionAck(payload []byte) (protocol.ExtendedVersionAck, error) {
	if len(payload) != extendedVersionAckSize {
		return protocol.ExtendedVersionAck{},
			lengthError(protocol.CmdGetExtendedVersionAck, len(payload), fmt.Sprint(extendedVersionAckSize))
	}
	id := payload[11 : 11+protocol.DeviceIDLength]
	if i := bytes.IndexByte(id, 0); i >= 0 {
		id = id[:i]
	}
	return protocol.ExtendedVersionAck{
		Result:   protocol.Result(payload[0]),
		Firmware: protocol.Version{Major: payload[1], Minor: payload[2], Patch: payload[3]},
		Protocol: protocol.Version{Major: payload[4], Minor: payload[5], Patch: payload[6]},
		FwHash:   binary.LittleEndian.Uint32(payload[7:11]),
		DeviceID: string(id),
	}, nil
}

// EncodeMlInitAck serializes the init ack body (device side).
//
// Payload: [result:1][watchdog_interval_ms:2 LE]
func EncodeMlInitAck(a protocol.MlInitAck) []byte {
	payload := make([]byte, 0, 3)
	payload = append(payload, byte(a.Result))
	payload = binary.LittleEndian.AppendUint16(payload, a.WatchdogIntervalMS)
	return payload
}

// ParseMlInitAck decodes the init ack body.
func ParseMlInitAck(payload []byte) (protocol.MlInitAck, error) {
	if len(payload) != 3 {
		return protocol.MlInitAck{}, lengthError(protocol.CmdMlInitAck, len(payload), "3")
	}
	return protocol.MlInitAck{
		Result:             protocol.Result(payload[0]),
		WatchdogIntervalMS: binary.LittleEndian.Uint16(payload[1:3]),
	}, nil
}

// EncodeMlUpdateAck serializes the update ack body (device side).
func EncodeMlUpdateAck(a protocol.MlUpdateAck) []byte {
	return []byte{byte(a.Result)}
}

// ParseMlUpdateAck decodes the update ack body.
func ParseMlUpdateAck(payload []byte) (protocol.MlUpdateAck, error) {
	if len(payload) != 1 {
		return protocol.MlUpdateAck{}, lengthError(protocol.CmdMlUpdateAck, len(payload), "1")
	}
	return protocol.MlUpdateAck{Result: protocol.Result(payload[0])}, nil
}

// EncodeMlStopAck serializes the stop ack body (device side).
func EncodeMlStopAck(a protocol.MlStopAck) []byte {
	return []byte{byte(a.Result)}
}

// ParseMlStopAck decodes the stop ack body.
func ParseMlStopAck(payload []byte) (protocol.MlStopAck, error) {
	if len(payload) != 1 {
		return protocol.MlStopAck{}, lengthError(protocol.CmdMlStopAck, len(payload), "1")
	}
	return protocol.MlStopAck{Result: protocol.Result(payload[0])}, nil
}

// Current data ack payload:
// [result:1][data_selection:1][channel_state:8]
// followed by [sensor:2 LE] x8 when the selection includes sensors.
const (
	currentDataAckBaseSize   = 2 + protocol.NumberOfChannels
	currentDataAckSensorSize = currentDataAckBaseSize + 2*protocol.NumberOfChannels
)

// EncodeMlGetCurrentDataAck serializes the current data ack body
// (device side).
func EncodeMlGetCurrentDataAck(a protocol.MlGetCurrentDataAck) ([]byte, error) {
	size := currentDataAckBaseSize
	if a.Selection == protocol.DataChannelsAndSensors {
		size = currentDataAckSensorSize
		if len(a.Sensors) != protocol.NumberOfChannels {
			return nil, &protocol.DecodeError{
				Cmd:    protocol.CmdMlGetCurrentDataAck,
				Reason: fmt.Sprintf("sensor count %d, want %d", len(a.Sensors), protocol.NumberOfChannels),
			}
		}
	}
	payload := make([]byte, 0, size)
	payload = append(payload, byte(a.Result), byte(a.Selection))
	for _, st := range a.Channels {
		payload = append(payload, byte(st))
	}
	if a.Selection == protocol.DataChannelsAndSensors {
		for _, s := range a.Sensors {
			payload = binary.LittleEndian.AppendUint16(payload, s)
		}
	}
	return payload, nil
}

// ParseMlGetCurrentDataAck decodes the current data ack body.
func ParseMlGetCurrentDataAck(payload []byte) (protocol.MlGetCurrentDataAck, error) {
	if len(payload) < currentDataAckBaseSize {
		return protocol.MlGetCurrentDataAck{},
			lengthError(protocol.CmdMlGetCurrentDataAck, len(payload), fmt.Sprint(currentDataAckBaseSize))
	}
	a := protocol.MlGetCurrentDataAck{
		Result:    protocol.Result(payload[0]),
		Selection: protocol.DataSelection(payload[1]),
	}
	for ch := 0; ch < protocol.NumberOfChannels; ch++ {
		a.Channels[ch] = protocol.ChannelState(payload[2+ch])
	}
	switch a.Selection {
	case protocol.DataChannels:
		if len(payload) != currentDataAckBaseSize {
			return protocol.MlGetCurrentDataAck{},
				lengthError(protocol.CmdMlGetCurrentDataAck, len(payload), fmt.Sprint(currentDataAckBaseSize))
		}
	case protocol.DataChannelsAndSensors:
		if len(payload) != currentDataAckSensorSize {
			return protocol.MlGetCurrentDataAck{},
				lengthError(protocol.CmdMlGetCurrentDataAck, len(payload), fmt.Sprint(currentDataAckSensorSize))
		}
		a.Sensors = make([]uint16, protocol.NumberOfChannels)
		for ch := 0; ch < protocol.NumberOfChannels; ch++ {
			a.Sensors[ch] = binary.LittleEndian.Uint16(payload[currentDataAckBaseSize+2*ch:])
		}
	default:
		return protocol.MlGetCurrentDataAck{}, &protocol.DecodeError{
			Cmd:    protocol.CmdMlGetCurrentDataAck,
			Reason: fmt.Sprintf("unknown data selection %d", payload[1]),
		}
	}
	return a, nil
}
