package protocol

// All wire constants in this file mirror the device vendor's published
// ScienceMode protocol description. Do not change them without the
// matching firmware document in hand.

// Frame markers and sizes.
const (
	// StartOfFrame marks the first byte of every frame (0xF0).
	StartOfFrame = 0xF0

	// EndOfFrame marks the last byte of every frame (0x0F).
	EndOfFrame = 0x0F

	// FrameOverhead is SOF(1) + length(2) + crc(1) + EOF(1).
	FrameOverhead = 5

	// MinFrameSize is the smallest valid frame:
	// SOF + length(2) + cmd(1) + packet_number(1) + crc(1) + EOF.
	MinFrameSize = 7

	// MaxPayloadSize bounds the payload of a single frame.
	MaxPayloadSize = 1200
)

// Cmd identifies a command or acknowledgment type on the wire.
type Cmd uint8

// Command identifiers. Requests are even, their acknowledgments odd.
const (
	CmdLlInit             Cmd = 0
	CmdLlInitAck          Cmd = 1
	CmdLlChannelConfig    Cmd = 2
	CmdLlChannelConfigAck Cmd = 3
	CmdLlStop             Cmd = 4
	CmdLlStopAck          Cmd = 5

	CmdMlInit              Cmd = 30
	CmdMlInitAck           Cmd = 31
	CmdMlUpdate            Cmd = 32
	CmdMlUpdateAck         Cmd = 33
	CmdMlStop              Cmd = 34
	CmdMlStopAck           Cmd = 35
	CmdMlGetCurrentData    Cmd = 36
	CmdMlGetCurrentDataAck Cmd = 37

	CmdGetExtendedVersion    Cmd = 58
	CmdGetExtendedVersionAck Cmd = 59
)

// Ack returns the acknowledgment command identifier for a request.
func (c Cmd) Ack() Cmd {
	return c + 1
}

// IsAck reports whether c identifies an acknowledgment.
func (c Cmd) IsAck() bool {
	return c%2 == 1
}

// String returns the vendor name of the command.
func (c Cmd) String() string {
	switch c {
	case CmdLlInit:
		return "Ll_Init"
	case CmdLlInitAck:
		return "Ll_Init_Ack"
	case CmdLlChannelConfig:
		return "Ll_Channel_Config"
	case CmdLlChannelConfigAck:
		return "Ll_Channel_Config_Ack"
	case CmdLlStop:
		return "Ll_Stop"
	case CmdLlStopAck:
		return "Ll_Stop_Ack"
	case CmdMlInit:
		return "Ml_Init"
	case CmdMlInitAck:
		return "Ml_Init_Ack"
	case CmdMlUpdate:
		return "Ml_Update"
	case CmdMlUpdateAck:
		return "Ml_Update_Ack"
	case CmdMlStop:
		return "Ml_Stop"
	case CmdMlStopAck:
		return "Ml_Stop_Ack"
	case CmdMlGetCurrentData:
		return "Ml_Get_Current_Data"
	case CmdMlGetCurrentDataAck:
		return "Ml_Get_Current_Data_Ack"
	case CmdGetExtendedVersion:
		return "Get_Extended_Version"
	case CmdGetExtendedVersionAck:
		return "Get_Extended_Version_Ack"
	default:
		return "Unknown"
	}
}

// Device limits.
const (
	// NumberOfChannels is the stimulation channel count (indices 0..7).
	NumberOfChannels = 8

	// MaxPoints is the maximum stimulation points per channel config.
	MaxPoints = 16

	// MaxCurrent is the safe amplitude bound in mA (symmetric: ±MaxCurrent).
	MaxCurrent = 150

	// MaxPacketNumber is the modulus of the packet number counter.
	MaxPacketNumber = 256

	// DeviceIDLength is the fixed device id field width in version acks.
	DeviceIDLength = 10

	// LlChannelsPerConnector is the channel count on one output connector
	// in low-level mode (color coded red, blue, black, white).
	LlChannelsPerConnector = 4

	// HighVoltageDefault is the device default stimulation supply level
	// passed in Ll_Init, in volts.
	HighVoltageDefault = 150
)

// Connector selects the output connector a low-level pulse drives.
type Connector uint8

const (
	ConnectorYellow Connector = 0
	ConnectorGreen  Connector = 1
)

func (c Connector) String() string {
	switch c {
	case ConnectorYellow:
		return "yellow"
	case ConnectorGreen:
		return "green"
	default:
		return "unknown connector"
	}
}

// Result is the device-side status byte carried in acknowledgments.
type Result uint8

const (
	ResultSuccessful        Result = 0
	ResultTransferError     Result = 1
	ResultParameterError    Result = 2
	ResultProtocolError     Result = 3
	ResultTimeoutError      Result = 4
	ResultNotInitialized    Result = 7
	ResultElectrodeError    Result = 10
	ResultInvalidCmdError   Result = 11
	ResultPulseTimeoutError Result = 16
)

func (r Result) String() string {
	switch r {
	case ResultSuccessful:
		return "successful"
	case ResultTransferError:
		return "transfer error"
	case ResultParameterError:
		return "parameter error"
	case ResultProtocolError:
		return "protocol error"
	case ResultTimeoutError:
		return "timeout"
	case ResultNotInitialized:
		return "not initialized"
	case ResultElectrodeError:
		return "electrode error"
	case ResultInvalidCmdError:
		return "invalid command"
	case ResultPulseTimeoutError:
		return "pulse timeout"
	default:
		return "unknown result"
	}
}

// DataSelection chooses which blocks a Ml_Get_Current_Data ack carries.
type DataSelection uint8

const (
	// DataChannels requests the per-channel state array only.
	DataChannels DataSelection = 0

	// DataChannelsAndSensors additionally requests per-channel sensor words.
	DataChannelsAndSensors DataSelection = 1
)
