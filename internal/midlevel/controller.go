package midlevel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stimworks/stimlink/internal/observability"
	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/command"
)

// State tracks where the controller is in the stimulation lifecycle.
type State int

const (
	StateIdle State = iota
	StateInitialized
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialized:
		return "initialized"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAckTimeout means the device did not acknowledge a command within
// the configured window.
var ErrAckTimeout = errors.New("midlevel: acknowledgment timeout")

// StateError reports an operation attempted in the wrong lifecycle state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("midlevel: %s not allowed in state %s", e.Op, e.State)
}

// RejectedError reports a command the device acknowledged with a
// non-successful result.
type RejectedError struct {
	Cmd    protocol.Cmd
	Result protocol.Result
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("midlevel: %s rejected by device: %s", e.Cmd, e.Result)
}

// ChannelFault is passed to the OnChannelFault callback when a current
// data poll reports a channel in a non-ok state.
type ChannelFault struct {
	Channel int
	State   protocol.ChannelState
}

// Config tunes the controller's timing.
type Config struct {
	// AckTimeout bounds how long each command waits for its
	// acknowledgment before failing.
	AckTimeout time.Duration

	// WatchdogFactor scales the device-reported watchdog interval to
	// get the refresh cadence. Must be below 1 so a refresh lands
	// before the device times out.
	WatchdogFactor float64

	// FallbackWatchdog is used when the device reports an interval
	// of zero.
	FallbackWatchdog time.Duration

	// OnChannelFault, when set, is invoked for every channel a current
	// data poll reports as not ok.
	OnChannelFault func(ChannelFault)
}

// DefaultConfig returns controller defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeout:       2 * time.Second,
		WatchdogFactor:   0.5,
		FallbackWatchdog: 2 * time.Second,
	}
}

// Sender is the slice of the session the controller drives. Satisfied
// by *session.Session.
type Sender interface {
	Send(req command.Request) (uint8, error)
	Poll(ctx context.Context) (command.Ack, error)
}

// Controller drives the stimulation lifecycle over a device session:
// initialize, stream point updates, keep the device watchdog fed, and
// stop. Not safe for concurrent use; one controller per session.
type Controller struct {
	cfg      Config
	sess     Sender
	portName string

	mu         sync.Mutex
	state      State
	watchdog   time.Duration
	lastUpdate *protocol.MlUpdate

	refreshStop chan struct{}
	refreshDone chan struct{}
}

// New wraps an open session. The controller starts in StateIdle; call
// Init before anything else.
func New(sess Sender, portName string, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.WatchdogFactor <= 0 || cfg.WatchdogFactor >= 1 {
		cfg.WatchdogFactor = def.WatchdogFactor
	}
	if cfg.FallbackWatchdog <= 0 {
		cfg.FallbackWatchdog = def.FallbackWatchdog
	}
	return &Controller{
		cfg:      cfg,
		sess:     sess,
		portName: portName,
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WatchdogInterval returns the device-reported watchdog interval, valid
// after Init.
func (c *Controller) WatchdogInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchdog
}

// Init sends Ml_Init and waits for its acknowledgment. On success the
// device-reported watchdog interval is recorded and the controller
// moves to StateInitialized.
func (c *Controller) Init(ctx context.Context, init protocol.MlInit) error {
	if st := c.State(); st != StateIdle && st != StateStopped {
		return &StateError{Op: "init", State: st}
	}
	ack, err := c.roundTrip(ctx, command.NewMlInit(init))
	if err != nil {
		return err
	}
	data, ok := ack.Data.(protocol.MlInitAck)
	if !ok {
		return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return &RejectedError{Cmd: protocol.CmdMlInit, Result: data.Result}
	}

	wd := time.Duration(data.WatchdogIntervalMS) * time.Millisecond
	if wd == 0 {
		wd = c.cfg.FallbackWatchdog
	}
	c.mu.Lock()
	c.state = StateInitialized
	c.watchdog = wd
	c.lastUpdate = nil
	c.mu.Unlock()
	log.Info().Str("port", c.portName).Dur("watchdog", wd).Msg("mid level initialized")
	return nil
}

// Update validates and sends one Ml_Update and waits for its
// acknowledgment. The first successful update moves the controller to
// StateStreaming and starts the watchdog refresh loop; later updates
// replace the waveform the refresh loop resends.
func (c *Controller) Update(ctx context.Context, u protocol.MlUpdate) error {
	st := c.State()
	if st != StateInitialized && st != StateStreaming {
		return &StateError{Op: "update", State: st}
	}
	req, err := command.NewMlUpdate(u)
	if err != nil {
		return err
	}
	ack, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	data, ok := ack.Data.(protocol.MlUpdateAck)
	if !ok {
		return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return &RejectedError{Cmd: protocol.CmdMlUpdate, Result: data.Result}
	}

	c.mu.Lock()
	c.lastUpdate = &u
	starting := c.state == StateInitialized
	c.state = StateStreaming
	wd := c.watchdog
	c.mu.Unlock()
	if starting {
		c.startRefresh(wd)
		log.Info().Str("port", c.portName).Msg("streaming started")
	}
	return nil
}

// GetCurrentData polls the device for channel state (and sensor words
// when selected). Channel faults are reported through OnChannelFault.
func (c *Controller) GetCurrentData(ctx context.Context, sel protocol.DataSelection) (protocol.MlGetCurrentDataAck, error) {
	st := c.State()
	if st != StateInitialized && st != StateStreaming {
		return protocol.MlGetCurrentDataAck{}, &StateError{Op: "get current data", State: st}
	}
	ack, err := c.roundTrip(ctx, command.NewMlGetCurrentData(protocol.MlGetCurrentData{Selection: sel}))
	if err != nil {
		return protocol.MlGetCurrentDataAck{}, err
	}
	data, ok := ack.Data.(protocol.MlGetCurrentDataAck)
	if !ok {
		return protocol.MlGetCurrentDataAck{}, &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return data, &RejectedError{Cmd: protocol.CmdMlGetCurrentData, Result: data.Result}
	}
	for ch, cs := range data.Channels {
		if cs == protocol.ChannelOk {
			continue
		}
		log.Warn().Str("port", c.portName).Int("channel", ch).
			Stringer("state", cs).Msg("channel fault")
		if c.cfg.OnChannelFault != nil {
			c.cfg.OnChannelFault(ChannelFault{Channel: ch, State: cs})
		}
	}
	return data, nil
}

// Stop halts stimulation: the refresh loop is stopped first so no
// update races the stop command, then Ml_Stop is sent and acknowledged.
func (c *Controller) Stop(ctx context.Context) error {
	st := c.State()
	if st != StateInitialized && st != StateStreaming {
		return &StateError{Op: "stop", State: st}
	}
	c.stopRefresh()

	ack, err := c.roundTrip(ctx, command.NewMlStop())
	if err != nil {
		return err
	}
	data, ok := ack.Data.(protocol.MlStopAck)
	if !ok {
		return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return &RejectedError{Cmd: protocol.CmdMlStop, Result: data.Result}
	}

	c.mu.Lock()
	c.state = StateStopped
	c.lastUpdate = nil
	c.mu.Unlock()
	log.Info().Str("port", c.portName).Msg("stimulation stopped")
	return nil
}

// Close stops the refresh loop without talking to the device. Use Stop
// for an orderly shutdown; Close is for teardown after errors.
func (c *Controller) Close() {
	c.stopRefresh()
	c.mu.Lock()
	c.state = StateStopped
	c.lastUpdate = nil
	c.mu.Unlock()
}

// roundTrip sends one command and waits for the ack carrying its packet
// number. Acks for other in-flight commands, such as watchdog
// refreshes, are consumed and skipped.
func (c *Controller) roundTrip(ctx context.Context, req command.Request) (command.Ack, error) {
	pn, err := c.sess.Send(req)
	if err != nil {
		return command.Ack{}, err
	}
	deadline, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout)
	defer cancel()
	for {
		ack, err := c.sess.Poll(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return command.Ack{}, fmt.Errorf("%w: %s packet %d", ErrAckTimeout, req.Cmd, pn)
			}
			return command.Ack{}, err
		}
		if ack.PacketNumber == pn {
			return ack, nil
		}
		log.Debug().Str("port", c.portName).Stringer("cmd", ack.Cmd).
			Uint8("packet_number", ack.PacketNumber).Msg("skipping unrelated acknowledgment")
	}
}

func (c *Controller) startRefresh(watchdog time.Duration) {
	interval := time.Duration(float64(watchdog) * c.cfg.WatchdogFactor)
	if interval <= 0 {
		interval = time.Duration(float64(c.cfg.FallbackWatchdog) * c.cfg.WatchdogFactor)
	}
	c.refreshStop = make(chan struct{})
	c.refreshDone = make(chan struct{})
	go c.refreshLoop(interval)
}

func (c *Controller) stopRefresh() {
	if c.refreshStop == nil {
		return
	}
	close(c.refreshStop)
	<-c.refreshDone
	c.refreshStop = nil
	c.refreshDone = nil
}

// refreshLoop resends the last accepted update inside every watchdog
// window so the device never times out between caller updates. The
// resend is fire and forget; its ack is skipped by roundTrip.
func (c *Controller) refreshLoop(interval time.Duration) {
	defer close(c.refreshDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.refreshStop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		var u *protocol.MlUpdate
		if c.state == StateStreaming && c.lastUpdate != nil {
			cp := *c.lastUpdate
			u = &cp
		}
		c.mu.Unlock()
		if u == nil {
			continue
		}

		req, err := command.NewMlUpdate(*u)
		if err != nil {
			log.Error().Str("port", c.portName).Err(err).Msg("watchdog refresh encode failed")
			continue
		}
		if _, err := c.sess.Send(req); err != nil {
			log.Error().Str("port", c.portName).Err(err).Msg("watchdog refresh send failed")
			continue
		}
		observability.RecordWatchdogRefresh(c.portName)
		log.Debug().Str("port", c.portName).Msg("watchdog refresh sent")
	}
}
