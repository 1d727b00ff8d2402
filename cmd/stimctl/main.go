package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stimworks/stimlink/internal/midlevel"
	"github.com/stimworks/stimlink/internal/observability"
	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/command"
	"github.com/stimworks/stimlink/internal/session"
	"github.com/stimworks/stimlink/internal/simul"
	"github.com/stimworks/stimlink/internal/transport"
)

func main() {
	configPath := flag.String("config", "stimctl.toml", "path to stimctl TOML config")
	flag.Parse()

	observability.InitLogger("stimctl")
	observability.RegisterMetrics()

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stimctl: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "stimctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg runConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListen != "" {
		go func() {
			if err := observability.ServeMetrics(cfg.MetricsListen); err != nil {
				log.Error().Str("addr", cfg.MetricsListen).Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	sess, cleanup, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := logVersion(ctx, sess); err != nil {
		return err
	}

	mlCfg := midlevel.DefaultConfig()
	mlCfg.OnChannelFault = func(f midlevel.ChannelFault) {
		log.Error().Int("channel", f.Channel).Stringer("state", f.State).
			Msg("stimulation channel fault")
	}
	ctrl := midlevel.New(sess, cfg.Port, mlCfg)
	defer ctrl.Close()

	if err := ctrl.Init(ctx, protocol.MlInit{StopAllOnError: cfg.StopAllOnError}); err != nil {
		return fmt.Errorf("initialize mid level: %w", err)
	}
	if err := ctrl.Update(ctx, cfg.Update); err != nil {
		return fmt.Errorf("start stimulation: %w", err)
	}
	log.Info().Dur("duration", cfg.Duration).Msg("stimulating")

	if err := stream(ctx, ctrl, cfg); err != nil {
		// Best effort stop before surfacing the streaming error.
		if serr := shutdownStop(ctrl); serr != nil {
			log.Error().Err(serr).Msg("stop after streaming failure")
		}
		return err
	}

	if err := shutdownStop(ctrl); err != nil {
		return fmt.Errorf("stop stimulation: %w", err)
	}
	log.Info().Msg("run complete")
	return nil
}

// shutdownStop halts stimulation on a fresh context. The run context is
// already cancelled after an interrupt, so reusing it would abort the
// stop handshake while Ml_Stop is still in flight.
func shutdownStop(ctrl *midlevel.Controller) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ctrl.Stop(ctx)
}

// stream holds the waveform for the configured duration, polling channel
// state in between. The watchdog refresh runs inside the controller.
func stream(ctx context.Context, ctrl *midlevel.Controller, cfg runConfig) error {
	deadline := time.NewTimer(cfg.Duration)
	defer deadline.Stop()
	poll := time.NewTicker(cfg.DataPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("interrupted, stopping stimulation")
			return nil
		case <-deadline.C:
			return nil
		case <-poll.C:
			data, err := ctrl.GetCurrentData(ctx, cfg.Selection)
			if err != nil {
				return fmt.Errorf("poll current data: %w", err)
			}
			if cfg.Selection == protocol.DataChannelsAndSensors {
				log.Debug().Uints16("sensors", data.Sensors).Msg("sensor data")
			}
		}
	}
}

func openSession(cfg runConfig) (*session.Session, func(), error) {
	sessCfg := session.DefaultConfig()
	if cfg.Simulate {
		host, devPort := transport.Pipe()
		dev := simul.Start(devPort, simul.DefaultConfig())
		sessCfg.PortName = "simulated"
		sess := session.Open(host, sessCfg)
		log.Info().Msg("running against simulated device")
		return sess, func() {
			sess.Close()
			dev.Stop()
		}, nil
	}

	if !transport.CheckSerialPort(cfg.Port) {
		log.Warn().Str("port", cfg.Port).Msg("port not enumerated on this host, trying anyway")
	}
	serialCfg := transport.DefaultSerialConfig()
	serialCfg.BaudRate = cfg.Baud
	sess, err := session.OpenSerial(cfg.Port, serialCfg, sessCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	return sess, func() { sess.Close() }, nil
}

// logVersion queries the device identity before touching stimulation.
func logVersion(ctx context.Context, sess *session.Session) error {
	pn, err := sess.Send(command.NewGetExtendedVersion())
	if err != nil {
		return fmt.Errorf("query version: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		ack, err := sess.Poll(waitCtx)
		if err != nil {
			return fmt.Errorf("query version: %w", err)
		}
		if ack.PacketNumber != pn {
			continue
		}
		ver, ok := ack.Data.(protocol.ExtendedVersionAck)
		if !ok {
			return &protocol.DecodeError{Cmd: ack.Cmd, Reason: "unexpected payload type"}
		}
		log.Info().
			Str("device_id", ver.DeviceID).
			Str("firmware", ver.Firmware.String()).
			Str("protocol", ver.Protocol.String()).
			Str("fw_hash", fmt.Sprintf("%08x", ver.FwHash)).
			Msg("device identified")
		return nil
	}
}
