// Package simul emulates the device end of the link for tests and
// offline runs of stimctl. It speaks the same frame and command wire
// format as a real device over one end of a transport.Pipe.
package simul

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/command"
	"github.com/stimworks/stimlink/internal/protocol/frame"
	"github.com/stimworks/stimlink/internal/transport"
)

// Config shapes the simulated device's identity and responses.
type Config struct {
	Firmware           protocol.Version
	Protocol           protocol.Version
	FwHash             uint32
	DeviceID           string
	WatchdogIntervalMS uint16

	// ChannelStates is reported by every current data ack.
	ChannelStates [protocol.NumberOfChannels]protocol.ChannelState

	// Sensors is reported when a current data request selects sensor
	// data. Length must be NumberOfChannels when set.
	Sensors []uint16

	// Results overrides the ack result for specific commands. Commands
	// not listed answer ResultSuccessful, subject to lifecycle checks.
	Results map[protocol.Cmd]protocol.Result
}

// DefaultConfig returns a healthy simulated device.
func DefaultConfig() Config {
	return Config{
		Firmware:           protocol.Version{Major: 2, Minor: 4, Patch: 1},
		Protocol:           protocol.Version{Major: 3, Minor: 2, Patch: 0},
		FwHash:             0x5A17C0DE,
		DeviceID:           "SIM000001",
		WatchdogIntervalMS: 2000,
	}
}

// Device consumes command frames from its port and answers each with
// the matching acknowledgment, tracking the mid level lifecycle the way
// the hardware does.
type Device struct {
	cfg  Config
	port transport.Port

	mu           sync.Mutex
	initialized  bool
	updates      int
	lastUpdate   protocol.MlUpdate
	lastUpdateAt time.Time

	llInitialized bool
	pulses        int
	lastPulse     protocol.LlChannelConfig

	loopDone chan struct{}
}

// Start runs a simulated device on port until the port closes. The
// device owns port and closes it on Stop.
func Start(port transport.Port, cfg Config) *Device {
	if cfg.DeviceID == "" {
		cfg.DeviceID = DefaultConfig().DeviceID
	}
	d := &Device{
		cfg:      cfg,
		port:     port,
		loopDone: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Stop closes the device's port and waits for its loop to exit.
func (d *Device) Stop() {
	d.port.Close()
	<-d.loopDone
}

// UpdateCount returns how many Ml_Update commands were accepted,
// watchdog refreshes included.
func (d *Device) UpdateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates
}

// LastUpdate returns the most recently accepted waveform.
func (d *Device) LastUpdate() (protocol.MlUpdate, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUpdate, d.updates > 0
}

// Initialized reports whether Ml_Init has been accepted.
func (d *Device) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// LlInitialized reports whether Ll_Init has been accepted.
func (d *Device) LlInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.llInitialized
}

// PulseCount returns how many Ll_Channel_Config pulses were accepted.
func (d *Device) PulseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulses
}

// LastPulse returns the most recently fired pulse.
func (d *Device) LastPulse() (protocol.LlChannelConfig, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPulse, d.pulses > 0
}

func (d *Device) loop() {
	defer close(d.loopDone)
	dec := frame.NewDecoder()
	buf := make([]byte, 512)
	for {
		n, err := d.port.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				f, derr := dec.Next()
				if derr != nil {
					if !errors.Is(derr, frame.ErrIncomplete) {
						log.Warn().Err(derr).Msg("simulated device discarded frame")
						continue
					}
					break
				}
				d.handle(f)
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *Device) handle(f frame.Frame) {
	switch f.Cmd {
	case protocol.CmdGetExtendedVersion:
		d.reply(f, protocol.CmdGetExtendedVersionAck, d.versionPayload())
	case protocol.CmdMlInit:
		d.handleInit(f)
	case protocol.CmdMlUpdate:
		d.handleUpdate(f)
	case protocol.CmdMlStop:
		d.handleStop(f)
	case protocol.CmdMlGetCurrentData:
		d.handleGetCurrentData(f)
	case protocol.CmdLlInit:
		d.handleLlInit(f)
	case protocol.CmdLlChannelConfig:
		d.handleLlChannelConfig(f)
	case protocol.CmdLlStop:
		d.handleLlStop(f)
	default:
		log.Warn().Stringer("cmd", f.Cmd).Msg("simulated device ignoring command")
	}
}

func (d *Device) versionPayload() []byte {
	b, err := command.EncodeExtendedVersionAck(protocol.ExtendedVersionAck{
		Result:   d.result(protocol.CmdGetExtendedVersion),
		Firmware: d.cfg.Firmware,
		Protocol: d.cfg.Protocol,
		FwHash:   d.cfg.FwHash,
		DeviceID: d.cfg.DeviceID,
	})
	if err != nil {
		log.Error().Err(err).Msg("simulated device version encode failed")
		return nil
	}
	return b
}

func (d *Device) handleInit(f frame.Frame) {
	if _, err := command.ParseMlInit(f.Payload); err != nil {
		log.Warn().Err(err).Msg("simulated device rejected init payload")
		return
	}
	res := d.result(protocol.CmdMlInit)
	if res == protocol.ResultSuccessful {
		d.mu.Lock()
		d.initialized = true
		d.updates = 0
		d.mu.Unlock()
	}
	d.reply(f, protocol.CmdMlInitAck, command.EncodeMlInitAck(protocol.MlInitAck{
		Result:             res,
		WatchdogIntervalMS: d.cfg.WatchdogIntervalMS,
	}))
}

func (d *Device) handleUpdate(f frame.Frame) {
	u, err := command.ParseMlUpdate(f.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("simulated device rejected update payload")
		return
	}
	res := d.result(protocol.CmdMlUpdate)
	d.mu.Lock()
	if !d.initialized {
		res = protocol.ResultNotInitialized
	} else if res == protocol.ResultSuccessful {
		d.lastUpdate = u
		d.lastUpdateAt = time.Now()
		d.updates++
	}
	d.mu.Unlock()
	d.reply(f, protocol.CmdMlUpdateAck, command.EncodeMlUpdateAck(protocol.MlUpdateAck{Result: res}))
}

func (d *Device) handleStop(f frame.Frame) {
	res := d.result(protocol.CmdMlStop)
	if res == protocol.ResultSuccessful {
		d.mu.Lock()
		d.initialized = false
		d.mu.Unlock()
	}
	d.reply(f, protocol.CmdMlStopAck, command.EncodeMlStopAck(protocol.MlStopAck{Result: res}))
}

func (d *Device) handleGetCurrentData(f frame.Frame) {
	req, err := command.ParseMlGetCurrentData(f.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("simulated device rejected current data payload")
		return
	}
	ack := protocol.MlGetCurrentDataAck{
		Result:    d.result(protocol.CmdMlGetCurrentData),
		Selection: req.Selection,
		Channels:  d.channelStates(),
	}
	if req.Selection == protocol.DataChannelsAndSensors {
		ack.Sensors = d.cfg.Sensors
		if ack.Sensors == nil {
			ack.Sensors = make([]uint16, protocol.NumberOfChannels)
		}
	}
	payload, err := command.EncodeMlGetCurrentDataAck(ack)
	if err != nil {
		log.Error().Err(err).Msg("simulated device current data encode failed")
		return
	}
	d.reply(f, protocol.CmdMlGetCurrentDataAck, payload)
}

// channelStates reports the scripted states, overlaid with watchdog
// timeouts: a streaming channel that has not seen an Ml_Update within
// the watchdog interval reads back as halted, like real hardware.
func (d *Device) channelStates() [protocol.NumberOfChannels]protocol.ChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	states := d.cfg.ChannelStates
	if d.updates == 0 || d.cfg.WatchdogIntervalMS == 0 {
		return states
	}
	deadline := time.Duration(d.cfg.WatchdogIntervalMS) * time.Millisecond
	if time.Since(d.lastUpdateAt) <= deadline {
		return states
	}
	for ch := 0; ch < protocol.NumberOfChannels; ch++ {
		if d.lastUpdate.EnableChannel[ch] && states[ch] == protocol.ChannelOk {
			states[ch] = protocol.ChannelTimeout
		}
	}
	return states
}

func (d *Device) handleLlInit(f frame.Frame) {
	if _, err := command.ParseLlInit(f.Payload); err != nil {
		log.Warn().Err(err).Msg("simulated device rejected low level init payload")
		return
	}
	res := d.result(protocol.CmdLlInit)
	if res == protocol.ResultSuccessful {
		d.mu.Lock()
		d.llInitialized = true
		d.pulses = 0
		d.mu.Unlock()
	}
	d.reply(f, protocol.CmdLlInitAck, command.EncodeLlInitAck(protocol.LlInitAck{Result: res}))
}

func (d *Device) handleLlChannelConfig(f frame.Frame) {
	cfg, err := command.ParseLlChannelConfig(f.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("simulated device rejected pulse payload")
		return
	}
	res := d.result(protocol.CmdLlChannelConfig)
	d.mu.Lock()
	if !d.llInitialized {
		res = protocol.ResultNotInitialized
	} else if res == protocol.ResultSuccessful {
		d.lastPulse = cfg
		d.pulses++
	}
	d.mu.Unlock()
	d.reply(f, protocol.CmdLlChannelConfigAck,
		command.EncodeLlChannelConfigAck(protocol.LlChannelConfigAck{Result: res}))
}

func (d *Device) handleLlStop(f frame.Frame) {
	res := d.result(protocol.CmdLlStop)
	if res == protocol.ResultSuccessful {
		d.mu.Lock()
		d.llInitialized = false
		d.mu.Unlock()
	}
	d.reply(f, protocol.CmdLlStopAck, command.EncodeLlStopAck(protocol.LlStopAck{Result: res}))
}

func (d *Device) result(cmd protocol.Cmd) protocol.Result {
	if r, ok := d.cfg.Results[cmd]; ok {
		return r
	}
	return protocol.ResultSuccessful
}

// reply echoes the request's packet number so the session can correlate.
func (d *Device) reply(req frame.Frame, cmd protocol.Cmd, payload []byte) {
	buf, err := frame.Encode(frame.Frame{
		Cmd:          cmd,
		PacketNumber: req.PacketNumber,
		Payload:      payload,
	})
	if err != nil {
		log.Error().Stringer("cmd", cmd).Err(err).Msg("simulated device encode failed")
		return
	}
	if _, err := d.port.Write(buf); err != nil {
		log.Warn().Stringer("cmd", cmd).Err(err).Msg("simulated device write failed")
	}
}
