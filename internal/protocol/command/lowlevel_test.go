package command

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/frame"
)

func TestNewLlInitDefaultsHighVoltage(t *testing.T) {
	req := NewLlInit(protocol.LlInit{})
	if req.Cmd != protocol.CmdLlInit {
		t.Fatalf("cmd = %v", req.Cmd)
	}
	if !bytes.Equal(req.Payload, []byte{protocol.HighVoltageDefault}) {
		t.Fatalf("payload = % x, want %02x", req.Payload, protocol.HighVoltageDefault)
	}

	req = NewLlInit(protocol.LlInit{HighVoltageLevel: 120})
	if !bytes.Equal(req.Payload, []byte{120}) {
		t.Fatalf("payload = % x, want 78", req.Payload)
	}

	got, err := ParseLlInit(req.Payload)
	if err != nil {
		t.Fatalf("ParseLlInit: %v", err)
	}
	if got.HighVoltageLevel != 120 {
		t.Fatalf("HighVoltageLevel = %d, want 120", got.HighVoltageLevel)
	}
}

func TestNewLlChannelConfigPayload(t *testing.T) {
	cfg := protocol.LlChannelConfig{
		EnableStimulation: true,
		Channel:           1,
		Connector:         protocol.ConnectorGreen,
		Points: []protocol.PointConfig{
			{Time: 100, Current: 20},
			{Time: 100, Current: 20},
			{Time: 100, Current: -20},
		},
	}
	req, err := NewLlChannelConfig(cfg)
	if err != nil {
		t.Fatalf("NewLlChannelConfig: %v", err)
	}
	want := []byte{
		0x01,       // enable stimulation
		0x01,       // green connector
		0x01,       // channel 1 (blue)
		0x03,       // 3 points
		0x64, 0x00, // t=100
		0x14, 0x00, // +20 mA
		0x64, 0x00, // t=100
		0x14, 0x00, // +20 mA
		0x64, 0x00, // t=100
		0xEC, 0xFF, // -20 mA
	}
	if !bytes.Equal(req.Payload, want) {
		t.Fatalf("payload = % x, want % x", req.Payload, want)
	}

	got, err := ParseLlChannelConfig(req.Payload)
	if err != nil {
		t.Fatalf("ParseLlChannelConfig: %v", err)
	}
	if !got.EnableStimulation || got.Connector != protocol.ConnectorGreen || got.Channel != 1 {
		t.Fatalf("parsed %+v", got)
	}
	if len(got.Points) != 3 || got.Points[2].Current != -20 {
		t.Fatalf("points = %+v", got.Points)
	}
}

func TestNewLlChannelConfigRejectsUnsafePulse(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*protocol.LlChannelConfig)
	}{
		{"excessive current", func(c *protocol.LlChannelConfig) { c.Points[0].Current = 200 }},
		{"zero point time", func(c *protocol.LlChannelConfig) { c.Points[0].Time = 0 }},
		{"channel out of range", func(c *protocol.LlChannelConfig) { c.Channel = protocol.LlChannelsPerConnector }},
		{"unknown connector", func(c *protocol.LlChannelConfig) { c.Connector = 5 }},
		{"no points", func(c *protocol.LlChannelConfig) { c.Points = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := protocol.LlChannelConfig{
				Channel:   0,
				Connector: protocol.ConnectorYellow,
				Points:    []protocol.PointConfig{{Time: 100, Current: 20}},
			}
			tc.mod(&cfg)
			_, err := NewLlChannelConfig(cfg)
			var serr *protocol.SafetyError
			if !errors.As(err, &serr) {
				t.Fatalf("err = %v, want SafetyError", err)
			}
		})
	}
}

func TestParseLlChannelConfigTruncated(t *testing.T) {
	req, err := NewLlChannelConfig(protocol.LlChannelConfig{
		Points: []protocol.PointConfig{{Time: 100, Current: 20}, {Time: 100, Current: -20}},
	})
	if err != nil {
		t.Fatalf("NewLlChannelConfig: %v", err)
	}
	for cut := 1; cut < len(req.Payload); cut++ {
		if _, err := ParseLlChannelConfig(req.Payload[:cut]); err == nil {
			t.Fatalf("no error for %d of %d bytes", cut, len(req.Payload))
		}
	}
}

func TestDecodeLowLevelAcks(t *testing.T) {
	cases := []struct {
		cmd     protocol.Cmd
		payload []byte
		want    any
	}{
		{protocol.CmdLlInitAck, EncodeLlInitAck(protocol.LlInitAck{Result: protocol.ResultSuccessful}),
			protocol.LlInitAck{Result: protocol.ResultSuccessful}},
		{protocol.CmdLlChannelConfigAck, EncodeLlChannelConfigAck(protocol.LlChannelConfigAck{Result: protocol.ResultElectrodeError}),
			protocol.LlChannelConfigAck{Result: protocol.ResultElectrodeError}},
		{protocol.CmdLlStopAck, EncodeLlStopAck(protocol.LlStopAck{Result: protocol.ResultSuccessful}),
			protocol.LlStopAck{Result: protocol.ResultSuccessful}},
	}
	for _, tc := range cases {
		ack, err := Decode(frame.Frame{Cmd: tc.cmd, PacketNumber: 7, Payload: tc.payload})
		if err != nil {
			t.Fatalf("Decode %v: %v", tc.cmd, err)
		}
		if ack.Data != tc.want {
			t.Fatalf("Decode %v data = %+v, want %+v", tc.cmd, ack.Data, tc.want)
		}
	}
}
