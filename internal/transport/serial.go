package transport

import (
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds serial port parameters. The device speaks 3M baud
// 8N1 on its USB bridge; lower rates are only useful on wired RS-232.
type SerialConfig struct {
	BaudRate int

	// PollTimeout bounds a single blocking Read so the session reader can
	// notice Close between polls.
	PollTimeout time.Duration
}

// DefaultSerialConfig returns the device defaults.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    3000000,
		PollTimeout: 20 * time.Millisecond,
	}
}

type serialPort struct {
	name string
	port serial.Port
}

// OpenSerial opens a serial port with poll-read semantics.
func OpenSerial(name string, cfg SerialConfig) (Port, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultSerialConfig().BaudRate
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultSerialConfig().PollTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, &ConnectError{Port: name, Err: err}
	}
	if err := p.SetReadTimeout(cfg.PollTimeout); err != nil {
		p.Close()
		return nil, &ConnectError{Port: name, Err: err}
	}
	return &serialPort{name: name, port: p}, nil
}

// CheckSerialPort reports whether name is present on this host without
// opening it.
func CheckSerialPort(name string) bool {
	ports, err := serial.GetPortsList()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}

func (s *serialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *serialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialPort) Close() error {
	return s.port.Close()
}
