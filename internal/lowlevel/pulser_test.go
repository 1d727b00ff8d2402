package lowlevel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/session"
	"github.com/stimworks/stimlink/internal/simul"
	"github.com/stimworks/stimlink/internal/testutil/testlog"
	"github.com/stimworks/stimlink/internal/transport"
)

func startPulser(t *testing.T, devCfg simul.Config) (*Pulser, *simul.Device) {
	t.Helper()
	host, devPort := transport.Pipe()
	dev := simul.Start(devPort, devCfg)
	cfg := session.DefaultConfig()
	cfg.PortName = "sim0"
	sess := session.Open(host, cfg)
	t.Cleanup(func() {
		sess.Close()
		dev.Stop()
	})
	return New(sess, "sim0", DefaultConfig()), dev
}

func triphasicPulse(channel uint8, connector protocol.Connector) protocol.LlChannelConfig {
	return protocol.LlChannelConfig{
		EnableStimulation: true,
		Channel:           channel,
		Connector:         connector,
		Points: []protocol.PointConfig{
			{Time: 100, Current: 20},
			{Time: 100, Current: 20},
			{Time: 100, Current: -20},
		},
	}
}

func TestPulseLifecycle(t *testing.T) {
	testlog.Start(t)
	p, dev := startPulser(t, simul.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Init(ctx, protocol.LlInit{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !dev.LlInitialized() {
		t.Fatal("device not in low level mode after init")
	}

	for ch := uint8(0); ch < protocol.LlChannelsPerConnector; ch++ {
		if err := p.Pulse(ctx, triphasicPulse(ch, protocol.ConnectorYellow)); err != nil {
			t.Fatalf("Pulse channel %d: %v", ch, err)
		}
	}
	if got := dev.PulseCount(); got != protocol.LlChannelsPerConnector {
		t.Fatalf("PulseCount = %d, want %d", got, protocol.LlChannelsPerConnector)
	}
	last, ok := dev.LastPulse()
	if !ok || last.Channel != protocol.LlChannelsPerConnector-1 {
		t.Fatalf("LastPulse = %+v, %v", last, ok)
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if dev.LlInitialized() {
		t.Fatal("device still in low level mode after stop")
	}
	if p.Initialized() {
		t.Fatal("pulser still initialized after stop")
	}
}

func TestPulseBeforeInitFails(t *testing.T) {
	testlog.Start(t)
	p, dev := startPulser(t, simul.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Pulse(ctx, triphasicPulse(0, protocol.ConnectorYellow))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Pulse before init = %v, want ErrNotInitialized", err)
	}
	if dev.PulseCount() != 0 {
		t.Fatalf("device accepted %d pulses", dev.PulseCount())
	}
}

func TestUnsafePulseSendsNothing(t *testing.T) {
	testlog.Start(t)
	p, dev := startPulser(t, simul.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Init(ctx, protocol.LlInit{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg := triphasicPulse(0, protocol.ConnectorYellow)
	cfg.Points[0].Current = 200
	err := p.Pulse(ctx, cfg)
	var serr *protocol.SafetyError
	if !errors.As(err, &serr) {
		t.Fatalf("Pulse = %v, want SafetyError", err)
	}
	if dev.PulseCount() != 0 {
		t.Fatalf("device accepted %d pulses", dev.PulseCount())
	}
}

func TestRejectedPulseSurfacesResult(t *testing.T) {
	testlog.Start(t)
	devCfg := simul.DefaultConfig()
	devCfg.Results = map[protocol.Cmd]protocol.Result{
		protocol.CmdLlChannelConfig: protocol.ResultElectrodeError,
	}
	p, _ := startPulser(t, devCfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Init(ctx, protocol.LlInit{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	err := p.Pulse(ctx, triphasicPulse(0, protocol.ConnectorYellow))
	var rerr *RejectedError
	if !errors.As(err, &rerr) {
		t.Fatalf("Pulse = %v, want RejectedError", err)
	}
	if rerr.Result != protocol.ResultElectrodeError {
		t.Fatalf("Result = %v", rerr.Result)
	}
}
