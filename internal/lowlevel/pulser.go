// Package lowlevel drives the device's low-level stimulation mode:
// single custom pulses instead of a repeating waveform. The caller owns
// pulse timing; there is no device-side period or watchdog refresh.
package lowlevel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/command"
)

// ErrAckTimeout means the device did not acknowledge a command within
// the configured window.
var ErrAckTimeout = errors.New("lowlevel: acknowledgment timeout")

// ErrNotInitialized means Pulse or Stop was called before Init.
var ErrNotInitialized = errors.New("lowlevel: not initialized")

// RejectedError reports a command the device acknowledged with a
// non-successful result.
type RejectedError struct {
	Cmd    protocol.Cmd
	Result protocol.Result
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("lowlevel: %s rejected by device: %s", e.Cmd, e.Result)
}

// Config tunes the pulser's timing.
type Config struct {
	// AckTimeout bounds how long each command waits for its
	// acknowledgment before failing.
	AckTimeout time.Duration
}

// DefaultConfig returns pulser defaults.
func DefaultConfig() Config {
	return Config{AckTimeout: 2 * time.Second}
}

// Sender is the slice of the session the pulser drives. Satisfied by
// *session.Session.
type Sender interface {
	Send(req command.Request) (uint8, error)
	Poll(ctx context.Context) (command.Ack, error)
}

// Pulser fires individual pulses over a device session. Not safe for
// concurrent use; one pulser per session.
type Pulser struct {
	cfg      Config
	sess     Sender
	portName string

	mu          sync.Mutex
	initialized bool
}

// New wraps an open session. Call Init before firing pulses.
func New(sess Sender, portName string, cfg Config) *Pulser {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	return &Pulser{cfg: cfg, sess: sess, portName: portName}
}

// Initialized reports whether Init has been acknowledged.
func (p *Pulser) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Init sends Ll_Init and waits for its acknowledgment.
func (p *Pulser) Init(ctx context.Context, init protocol.LlInit) error {
	ack, err := p.roundTrip(ctx, command.NewLlInit(init))
	if err != nil {
		return err
	}
	data, ok := ack.Data.(protocol.LlInitAck)
	if !ok {
		return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return &RejectedError{Cmd: protocol.CmdLlInit, Result: data.Result}
	}
	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	log.Info().Str("port", p.portName).Msg("low level mode initialized")
	return nil
}

// Pulse validates and fires one pulse, waiting for its acknowledgment.
// The safety bounds are checked before any bytes reach the wire.
func (p *Pulser) Pulse(ctx context.Context, cfg protocol.LlChannelConfig) error {
	if !p.Initialized() {
		return ErrNotInitialized
	}
	req, err := command.NewLlChannelConfig(cfg)
	if err != nil {
		return err
	}
	ack, err := p.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	data, ok := ack.Data.(protocol.LlChannelConfigAck)
	if !ok {
		return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return &RejectedError{Cmd: protocol.CmdLlChannelConfig, Result: data.Result}
	}
	return nil
}

// Stop leaves low-level mode.
func (p *Pulser) Stop(ctx context.Context) error {
	if !p.Initialized() {
		return ErrNotInitialized
	}
	ack, err := p.roundTrip(ctx, command.NewLlStop())
	if err != nil {
		return err
	}
	data, ok := ack.Data.(protocol.LlStopAck)
	if !ok {
		return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
	}
	if data.Result != protocol.ResultSuccessful {
		return &RejectedError{Cmd: protocol.CmdLlStop, Result: data.Result}
	}
	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()
	log.Info().Str("port", p.portName).Msg("low level mode stopped")
	return nil
}

// roundTrip sends one command and waits for the ack carrying its packet
// number, skipping acks for other in-flight commands.
func (p *Pulser) roundTrip(ctx context.Context, req command.Request) (command.Ack, error) {
	pn, err := p.sess.Send(req)
	if err != nil {
		return command.Ack{}, err
	}
	deadline, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
	defer cancel()
	for {
		ack, err := p.sess.Poll(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return command.Ack{}, fmt.Errorf("%w: %s packet %d", ErrAckTimeout, req.Cmd, pn)
			}
			return command.Ack{}, err
		}
		if ack.PacketNumber == pn {
			return ack, nil
		}
		log.Debug().Str("port", p.portName).Stringer("cmd", ack.Cmd).
			Uint8("packet_number", ack.PacketNumber).Msg("skipping unrelated acknowledgment")
	}
}
