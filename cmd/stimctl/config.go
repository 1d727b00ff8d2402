package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/transport"
)

// stimctl config.toml key mapping to run settings.
type fileConfig struct {
	Port           string          `toml:"port"`
	Baud           int             `toml:"baud"`
	Simulate       bool            `toml:"simulate"`
	StopAllOnError bool            `toml:"stop_all_on_error"`
	DurationMS     int             `toml:"duration_ms"`
	DataPollMS     int             `toml:"data_poll_ms"`
	SensorData     bool            `toml:"sensor_data"`
	MetricsListen  string          `toml:"metrics_listen"`
	Channels       []channelConfig `toml:"channel"`
}

type channelConfig struct {
	Number   int           `toml:"number"`
	PeriodMS int           `toml:"period_ms"`
	Points   []pointConfig `toml:"point"`
}

type pointConfig struct {
	TimeUS    int `toml:"time_us"`
	CurrentMA int `toml:"current_ma"`
}

// runConfig is the resolved stimctl run plan.
type runConfig struct {
	Port           string
	Baud           int
	Simulate       bool
	StopAllOnError bool
	Duration       time.Duration
	DataPoll       time.Duration
	Selection      protocol.DataSelection
	MetricsListen  string
	Update         protocol.MlUpdate
}

func defaultRunConfig() runConfig {
	return runConfig{
		Port:           "/dev/ttyUSB0",
		Baud:           transport.DefaultSerialConfig().BaudRate,
		StopAllOnError: true,
		Duration:       5 * time.Second,
		DataPoll:       time.Second,
		Selection:      protocol.DataChannels,
	}
}

// stimctl loader for TOML config with default overlay.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load stimctl config: %w", err)
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("simulate") {
		cfg.Simulate = raw.Simulate
	}
	if meta.IsDefined("stop_all_on_error") {
		cfg.StopAllOnError = raw.StopAllOnError
	}
	if meta.IsDefined("duration_ms") {
		cfg.Duration = time.Duration(raw.DurationMS) * time.Millisecond
	}
	if meta.IsDefined("data_poll_ms") {
		cfg.DataPoll = time.Duration(raw.DataPollMS) * time.Millisecond
	}
	if meta.IsDefined("sensor_data") && raw.SensorData {
		cfg.Selection = protocol.DataChannelsAndSensors
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}

	if cfg.Port == "" && !cfg.Simulate {
		return runConfig{}, fmt.Errorf("load stimctl config: port is required")
	}
	if cfg.Baud <= 0 {
		return runConfig{}, fmt.Errorf("load stimctl config: baud must be positive, got %d", cfg.Baud)
	}
	if cfg.Duration <= 0 {
		return runConfig{}, fmt.Errorf("load stimctl config: duration_ms must be positive")
	}
	if len(raw.Channels) == 0 {
		return runConfig{}, fmt.Errorf("load stimctl config: at least one [[channel]] is required")
	}

	update, err := buildUpdate(raw.Channels)
	if err != nil {
		return runConfig{}, fmt.Errorf("load stimctl config: %w", err)
	}
	cfg.Update = update
	return cfg, nil
}

// buildUpdate translates [[channel]] blocks into a waveform update,
// applying the same safety checks the encoder enforces so a bad config
// fails at load time rather than at the first send.
func buildUpdate(channels []channelConfig) (protocol.MlUpdate, error) {
	var u protocol.MlUpdate
	for _, ch := range channels {
		if err := protocol.ValidateChannel(ch.Number); err != nil {
			return protocol.MlUpdate{}, err
		}
		if u.EnableChannel[ch.Number] {
			return protocol.MlUpdate{}, fmt.Errorf("channel %d configured twice", ch.Number)
		}
		pts := make([]protocol.PointConfig, len(ch.Points))
		for i, pt := range ch.Points {
			if pt.TimeUS < 0 || pt.TimeUS > int(^uint16(0)) {
				return protocol.MlUpdate{}, fmt.Errorf(
					"channel %d point %d: time_us %d out of range", ch.Number, i, pt.TimeUS)
			}
			if pt.CurrentMA < -int(protocol.MaxCurrent) || pt.CurrentMA > int(protocol.MaxCurrent) {
				return protocol.MlUpdate{}, &protocol.SafetyError{
					Channel: ch.Number,
					Field:   "current",
					Reason: fmt.Sprintf("point %d amplitude %d mA outside ±%d mA",
						i, pt.CurrentMA, protocol.MaxCurrent),
				}
			}
			pts[i] = protocol.PointConfig{
				Time:    uint16(pt.TimeUS),
				Current: int16(pt.CurrentMA),
			}
		}
		if ch.PeriodMS < 0 || ch.PeriodMS > int(^uint16(0)) {
			return protocol.MlUpdate{}, fmt.Errorf(
				"channel %d: period_ms %d out of range", ch.Number, ch.PeriodMS)
		}
		u.EnableChannel[ch.Number] = true
		u.ChannelConfig[ch.Number] = protocol.ChannelConfig{
			Period: uint16(ch.PeriodMS),
			Points: pts,
		}
	}
	if err := protocol.ValidateMlUpdate(u); err != nil {
		return protocol.MlUpdate{}, err
	}
	return u, nil
}
