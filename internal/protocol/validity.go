package protocol

import "fmt"

// ValidateChannel checks a channel index against the device range.
func ValidateChannel(channel int) error {
	if channel < 0 || channel >= NumberOfChannels {
		return &SafetyError{
			Channel: channel,
			Field:   "channel index",
			Reason:  fmt.Sprintf("must be 0..%d", NumberOfChannels-1),
		}
	}
	return nil
}

// ValidateChannelConfig checks one channel's waveform against device-safe
// bounds. channel is used for error reporting only.
func ValidateChannelConfig(channel int, cfg ChannelConfig) error {
	if cfg.Period == 0 {
		return &SafetyError{Channel: channel, Field: "period", Reason: "must be positive"}
	}
	if len(cfg.Points) == 0 {
		return &SafetyError{Channel: channel, Field: "point count", Reason: "must be at least 1"}
	}
	if len(cfg.Points) > MaxPoints {
		return &SafetyError{
			Channel: channel,
			Field:   "point count",
			Reason:  fmt.Sprintf("%d exceeds maximum %d", len(cfg.Points), MaxPoints),
		}
	}
	for i, pt := range cfg.Points {
		if pt.Time == 0 {
			return &SafetyError{
				Channel: channel,
				Field:   "point time",
				Reason:  fmt.Sprintf("point %d must be positive", i),
			}
		}
		if pt.Current > MaxCurrent || pt.Current < -MaxCurrent {
			return &SafetyError{
				Channel: channel,
				Field:   "current",
				Reason:  fmt.Sprintf("point %d amplitude %d mA outside ±%d mA", i, pt.Current, MaxCurrent),
			}
		}
	}
	return nil
}

// ValidateLlChannelConfig checks a single low-level pulse against
// device-safe bounds. The same point limits apply as in mid-level mode.
func ValidateLlChannelConfig(cfg LlChannelConfig) error {
	ch := int(cfg.Channel)
	if ch >= LlChannelsPerConnector {
		return &SafetyError{
			Channel: ch,
			Field:   "channel index",
			Reason:  fmt.Sprintf("must be 0..%d", LlChannelsPerConnector-1),
		}
	}
	if cfg.Connector != ConnectorYellow && cfg.Connector != ConnectorGreen {
		return &SafetyError{
			Channel: ch,
			Field:   "connector",
			Reason:  fmt.Sprintf("unknown connector %d", cfg.Connector),
		}
	}
	if len(cfg.Points) == 0 {
		return &SafetyError{Channel: ch, Field: "point count", Reason: "must be at least 1"}
	}
	if len(cfg.Points) > MaxPoints {
		return &SafetyError{
			Channel: ch,
			Field:   "point count",
			Reason:  fmt.Sprintf("%d exceeds maximum %d", len(cfg.Points), MaxPoints),
		}
	}
	for i, pt := range cfg.Points {
		if pt.Time == 0 {
			return &SafetyError{
				Channel: ch,
				Field:   "point time",
				Reason:  fmt.Sprintf("point %d must be positive", i),
			}
		}
		if pt.Current > MaxCurrent || pt.Current < -MaxCurrent {
			return &SafetyError{
				Channel: ch,
				Field:   "current",
				Reason:  fmt.Sprintf("point %d amplitude %d mA outside ±%d mA", i, pt.Current, MaxCurrent),
			}
		}
	}
	return nil
}

// ValidateMlUpdate checks every enabled channel of an update. A channel
// enabled without a configured waveform is rejected, as is a configured
// waveform on a disabled channel (flag/config consistency).
func ValidateMlUpdate(u MlUpdate) error {
	enabled := 0
	for ch := 0; ch < NumberOfChannels; ch++ {
		if u.EnableChannel[ch] {
			enabled++
			if err := ValidateChannelConfig(ch, u.ChannelConfig[ch]); err != nil {
				return err
			}
			continue
		}
		if len(u.ChannelConfig[ch].Points) != 0 {
			return &SafetyError{
				Channel: ch,
				Field:   "enable flag",
				Reason:  "waveform configured but channel not enabled",
			}
		}
	}
	if enabled == 0 {
		return &SafetyError{Channel: -1, Field: "enable flags", Reason: "no channel enabled"}
	}
	return nil
}
