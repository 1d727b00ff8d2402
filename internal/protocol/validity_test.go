package protocol

import (
	"errors"
	"testing"
)

func validConfig() ChannelConfig {
	return ChannelConfig{
		Period: 20,
		Points: []PointConfig{
			{Time: 100, Current: 20},
			{Time: 100, Current: 0},
			{Time: 100, Current: -20},
		},
	}
}

func TestValidateChannelBounds(t *testing.T) {
	for ch := 0; ch < NumberOfChannels; ch++ {
		if err := ValidateChannel(ch); err != nil {
			t.Fatalf("ValidateChannel(%d): %v", ch, err)
		}
	}
	for _, ch := range []int{-1, NumberOfChannels, 100} {
		err := ValidateChannel(ch)
		var se *SafetyError
		if !errors.As(err, &se) {
			t.Fatalf("ValidateChannel(%d) = %v, want SafetyError", ch, err)
		}
		if se.Channel != ch {
			t.Fatalf("SafetyError.Channel = %d, want %d", se.Channel, ch)
		}
	}
}

func TestValidateChannelConfig(t *testing.T) {
	if err := ValidateChannelConfig(0, validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ChannelConfig)
		field  string
	}{
		{"zero period", func(c *ChannelConfig) { c.Period = 0 }, "period"},
		{"no points", func(c *ChannelConfig) { c.Points = nil }, "point count"},
		{"too many points", func(c *ChannelConfig) {
			c.Points = make([]PointConfig, MaxPoints+1)
			for i := range c.Points {
				c.Points[i] = PointConfig{Time: 100, Current: 10}
			}
		}, "point count"},
		{"zero point time", func(c *ChannelConfig) { c.Points[1].Time = 0 }, "point time"},
		{"current too high", func(c *ChannelConfig) { c.Points[0].Current = MaxCurrent + 1 }, "current"},
		{"current too low", func(c *ChannelConfig) { c.Points[2].Current = -MaxCurrent - 1 }, "current"},
	}
	for _, tc := range cases {
		cfg := validConfig()
		cfg.Points = append([]PointConfig(nil), cfg.Points...)
		tc.mutate(&cfg)

		err := ValidateChannelConfig(3, cfg)
		var se *SafetyError
		if !errors.As(err, &se) {
			t.Fatalf("%s: err = %v, want SafetyError", tc.name, err)
		}
		if se.Field != tc.field {
			t.Fatalf("%s: field = %q, want %q", tc.name, se.Field, tc.field)
		}
		if se.Channel != 3 {
			t.Fatalf("%s: channel = %d, want 3", tc.name, se.Channel)
		}
	}

	// Boundary amplitudes are allowed.
	cfg := validConfig()
	cfg.Points[0].Current = MaxCurrent
	cfg.Points[2].Current = -MaxCurrent
	if err := ValidateChannelConfig(0, cfg); err != nil {
		t.Fatalf("±%d mA rejected: %v", MaxCurrent, err)
	}
}

func TestValidateMlUpdate(t *testing.T) {
	var u MlUpdate
	u.EnableChannel[0] = true
	u.ChannelConfig[0] = validConfig()
	if err := ValidateMlUpdate(u); err != nil {
		t.Fatalf("valid update rejected: %v", err)
	}

	var empty MlUpdate
	if err := ValidateMlUpdate(empty); err == nil {
		t.Fatalf("update with no enabled channel accepted")
	}

	var orphan MlUpdate
	orphan.EnableChannel[1] = true
	orphan.ChannelConfig[1] = validConfig()
	orphan.ChannelConfig[4] = validConfig() // waveform on a disabled channel
	err := ValidateMlUpdate(orphan)
	var se *SafetyError
	if !errors.As(err, &se) {
		t.Fatalf("orphan waveform = %v, want SafetyError", err)
	}
	if se.Channel != 4 {
		t.Fatalf("SafetyError.Channel = %d, want 4", se.Channel)
	}

	var bare MlUpdate
	bare.EnableChannel[2] = true // enabled but no waveform
	if err := ValidateMlUpdate(bare); err == nil {
		t.Fatalf("enabled channel without waveform accepted")
	}
}
