package protocol

import "fmt"

// PointConfig is one point of a channel's stimulation waveform.
type PointConfig struct {
	// Time is the point duration in microseconds. Must be positive.
	Time uint16

	// Current is the amplitude in mA, negative for the return phase.
	// Bounded by ±MaxCurrent.
	Current int16
}

// ChannelConfig is the per-channel waveform driven by Ml_Update.
type ChannelConfig struct {
	// Period is the stimulation period in milliseconds.
	Period uint16

	// Points is the ordered waveform, 1..MaxPoints entries.
	Points []PointConfig
}

// ChannelState is the per-channel runtime status reported by the device.
type ChannelState uint8

const (
	ChannelOk ChannelState = 0

	// ChannelTimeout means the device watchdog expired and output halted.
	ChannelTimeout ChannelState = 1

	ChannelElectrodeError ChannelState = 2
	ChannelCurrentError   ChannelState = 3
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOk:
		return "ok"
	case ChannelTimeout:
		return "watchdog timeout"
	case ChannelElectrodeError:
		return "electrode error"
	case ChannelCurrentError:
		return "current error"
	default:
		return "unknown state"
	}
}

// Version is a firmware or protocol semantic version triple.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ExtendedVersionAck answers Get_Extended_Version.
type ExtendedVersionAck struct {
	Result   Result
	Firmware Version
	Protocol Version
	FwHash   uint32
	DeviceID string
}

// LlInit configures the low-level stimulation engine.
type LlInit struct {
	// HighVoltageLevel is the stimulation supply level in volts. Zero
	// means HighVoltageDefault.
	HighVoltageLevel uint8
}

// LlInitAck answers Ll_Init.
type LlInitAck struct {
	Result Result
}

// LlChannelConfig fires a single custom pulse. Unlike the mid-level
// engine the device does not repeat it; the caller owns the timing.
type LlChannelConfig struct {
	// EnableStimulation gates current output. A disabled config still
	// runs the measurement cycle on the selected output.
	EnableStimulation bool

	// Channel addresses one output on the connector,
	// 0..LlChannelsPerConnector-1.
	Channel uint8

	Connector Connector

	// Points is the pulse shape, 1..MaxPoints entries.
	Points []PointConfig
}

// LlChannelConfigAck answers Ll_Channel_Config.
type LlChannelConfigAck struct {
	Result Result
}

// LlStopAck answers Ll_Stop.
type LlStopAck struct {
	Result Result
}

// MlInit configures the mid-level stimulation engine.
type MlInit struct {
	// StopAllOnError halts every channel when one reports an error.
	StopAllOnError bool
}

// MlInitAck answers Ml_Init. WatchdogIntervalMS is the device-enforced
// update deadline: miss it and the device autonomously halts output.
type MlInitAck struct {
	Result             Result
	WatchdogIntervalMS uint16
}

// MlUpdate carries the waveforms for the enabled channels.
type MlUpdate struct {
	EnableChannel [NumberOfChannels]bool
	ChannelConfig [NumberOfChannels]ChannelConfig
}

// MlUpdateAck answers Ml_Update.
type MlUpdateAck struct {
	Result Result
}

// MlStopAck answers Ml_Stop.
type MlStopAck struct {
	Result Result
}

// MlGetCurrentData requests runtime status from the device.
type MlGetCurrentData struct {
	Selection DataSelection
}

// MlGetCurrentDataAck answers Ml_Get_Current_Data.
type MlGetCurrentDataAck struct {
	Result    Result
	Selection DataSelection
	Channels  [NumberOfChannels]ChannelState

	// Sensors holds per-channel sensor words (electrode impedance, device
	// units) when Selection is DataChannelsAndSensors, nil otherwise.
	Sensors []uint16
}
