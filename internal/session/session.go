package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stimworks/stimlink/internal/observability"
	"github.com/stimworks/stimlink/internal/protocol"
	"github.com/stimworks/stimlink/internal/protocol/command"
	"github.com/stimworks/stimlink/internal/protocol/frame"
	"github.com/stimworks/stimlink/internal/transport"
)

// Stats counts session traffic since open.
type Stats struct {
	Sent            uint64
	Acked           uint64
	DroppedFrames   uint64
	DroppedStale    uint64
	DroppedMismatch uint64
	DroppedDecode   uint64
}

// Session owns one open device link: the transport handle, the packet
// number counter, and the pending correlation table. One reader
// goroutine drains the transport into the frame decoder and resolves
// acknowledgments; Send may be called from any goroutine, one writer at
// a time.
type Session struct {
	cfg  Config
	port transport.Port

	writeMu sync.Mutex // serializes frame writes onto the transport

	mu      sync.Mutex
	gen     PacketNumberGenerator
	pending map[uint8]protocol.Cmd // packet number -> expected ack cmd
	lastAck *command.Ack
	stats   Stats
	closed  bool

	acks       chan command.Ack
	done       chan struct{}
	readerDone chan struct{}
}

// Open wraps an already opened transport in a session and starts its
// reader. Close tears both down.
func Open(port transport.Port, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.PortName == "" {
		cfg.PortName = def.PortName
	}
	if cfg.AckBuffer <= 0 {
		cfg.AckBuffer = def.AckBuffer
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = def.ReadBuffer
	}

	s := &Session{
		cfg:        cfg,
		port:       port,
		pending:    make(map[uint8]protocol.Cmd),
		acks:       make(chan command.Ack, cfg.AckBuffer),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// OpenSerial opens the named serial port and wraps it in a session,
// retrying transient open failures per cfg.Backoff.
func OpenSerial(name string, serialCfg transport.SerialConfig, cfg Config) (*Session, error) {
	cfg.PortName = name
	attempts := 1 + cfg.Backoff.RetryBudget()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		port, err := transport.OpenSerial(name, serialCfg)
		if err == nil {
			return Open(port, cfg), nil
		}
		lastErr = err
		if attempt < attempts {
			delay := NextBackoffDelay(cfg.Backoff, attempt, nil)
			log.Warn().Str("port", name).Int("attempt", attempt).Dur("retry_in", delay).
				Err(err).Msg("serial open failed")
			time.Sleep(delay)
		}
	}
	return nil, lastErr
}

// Send assigns a packet number, records the pending correlation, encodes
// and writes one command frame. The returned packet number links the
// command to its acknowledgment from Poll.
func (s *Session) Send(req command.Request) (uint8, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, &transport.ConnectError{Port: s.cfg.PortName, Err: transport.ErrClosed}
	}
	pn, err := s.gen.Next(func(n uint8) bool {
		_, busy := s.pending[n]
		return busy
	})
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.pending[pn] = req.Cmd.Ack()
	s.mu.Unlock()

	buf, err := frame.Encode(frame.Frame{
		Cmd:          req.Cmd,
		PacketNumber: pn,
		Payload:      req.Payload,
	})
	if err != nil {
		s.dropPending(pn)
		return 0, err
	}

	s.writeMu.Lock()
	_, werr := s.port.Write(buf)
	s.writeMu.Unlock()
	if werr != nil {
		s.dropPending(pn)
		return 0, &transport.ConnectError{Port: s.cfg.PortName, Err: werr}
	}

	s.mu.Lock()
	s.stats.Sent++
	s.mu.Unlock()
	observability.RecordCommandSent(s.cfg.PortName, req.Cmd.String())
	log.Debug().Str("port", s.cfg.PortName).Stringer("cmd", req.Cmd).
		Uint8("packet_number", pn).Msg("command sent")
	return pn, nil
}

// Poll returns the next correlated acknowledgment, blocking until one
// arrives, ctx is done, or the session closes. Acks already decoded
// before Close are still delivered.
func (s *Session) Poll(ctx context.Context) (command.Ack, error) {
	select {
	case ack := <-s.acks:
		return ack, nil
	default:
	}
	select {
	case ack := <-s.acks:
		return ack, nil
	case <-ctx.Done():
		return command.Ack{}, ctx.Err()
	case <-s.done:
		return command.Ack{}, &transport.ConnectError{Port: s.cfg.PortName, Err: transport.ErrClosed}
	}
}

// AckAvailable reports whether Poll would return without blocking.
func (s *Session) AckAvailable() bool {
	return len(s.acks) > 0
}

// LastAck returns the most recently correlated acknowledgment.
func (s *Session) LastAck() (command.Ack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAck == nil {
		return command.Ack{}, false
	}
	return *s.lastAck, true
}

// PendingCount returns the number of outstanding correlations.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stats returns a snapshot of the traffic counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close closes the transport, unblocks Poll, and discards in-flight
// correlations. Further Send and Poll calls fail with ConnectError.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = make(map[uint8]protocol.Cmd)
	s.mu.Unlock()

	err := s.port.Close()
	<-s.readerDone
	close(s.done)
	return err
}

func (s *Session) dropPending(pn uint8) {
	s.mu.Lock()
	delete(s.pending, pn)
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	defer close(s.readerDone)

	dec := frame.NewDecoder()
	buf := make([]byte, s.cfg.ReadBuffer)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			s.drain(dec)
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && !errors.Is(err, transport.ErrClosed) {
				log.Error().Str("port", s.cfg.PortName).Err(err).Msg("transport read failed")
			}
			return
		}
	}
}

func (s *Session) drain(dec *frame.Decoder) {
	for {
		f, err := dec.Next()
		if err != nil {
			if errors.Is(err, frame.ErrIncomplete) {
				return
			}
			// Malformed frame discarded; the decoder already
			// resynchronized, keep going.
			s.mu.Lock()
			s.stats.DroppedFrames++
			s.mu.Unlock()
			observability.RecordFrameDropped(s.cfg.PortName, frameDropCause(err))
			log.Warn().Str("port", s.cfg.PortName).Err(err).Msg("frame discarded")
			continue
		}
		observability.RecordFrameDecoded(s.cfg.PortName)
		s.dispatch(f)
	}
}

func (s *Session) dispatch(f frame.Frame) {
	ack, err := command.Decode(f)
	if err != nil {
		s.mu.Lock()
		s.stats.DroppedDecode++
		s.mu.Unlock()
		observability.RecordAckDropped(s.cfg.PortName, "decode")
		log.Warn().Str("port", s.cfg.PortName).Stringer("cmd", f.Cmd).
			Uint8("packet_number", f.PacketNumber).Err(err).Msg("acknowledgment dropped")
		return
	}

	s.mu.Lock()
	expected, ok := s.pending[ack.PacketNumber]
	if !ok {
		s.stats.DroppedStale++
		s.mu.Unlock()
		observability.RecordAckDropped(s.cfg.PortName, "stale")
		log.Warn().Str("port", s.cfg.PortName).Stringer("cmd", ack.Cmd).
			Uint8("packet_number", ack.PacketNumber).Msg("stale or duplicate acknowledgment")
		return
	}
	if expected != ack.Cmd {
		delete(s.pending, ack.PacketNumber)
		s.stats.DroppedMismatch++
		s.mu.Unlock()
		observability.RecordAckDropped(s.cfg.PortName, "mismatch")
		log.Warn().Str("port", s.cfg.PortName).Stringer("cmd", ack.Cmd).
			Stringer("expected", expected).Uint8("packet_number", ack.PacketNumber).
			Msg("acknowledgment type mismatch")
		return
	}
	delete(s.pending, ack.PacketNumber)
	s.lastAck = &ack
	s.stats.Acked++
	s.mu.Unlock()

	select {
	case s.acks <- ack:
	default:
		// Queue full: drop the oldest so fresh device state wins.
		select {
		case old := <-s.acks:
			observability.RecordAckDropped(s.cfg.PortName, "backpressure")
			log.Warn().Str("port", s.cfg.PortName).Stringer("cmd", old.Cmd).
				Uint8("packet_number", old.PacketNumber).Msg("acknowledgment queue full")
		default:
		}
		select {
		case s.acks <- ack:
		default:
		}
	}
	log.Debug().Str("port", s.cfg.PortName).Stringer("cmd", ack.Cmd).
		Uint8("packet_number", ack.PacketNumber).Msg("acknowledgment correlated")
}

func frameDropCause(err error) string {
	switch {
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, protocol.ErrInvalidLength):
		return "length"
	case errors.Is(err, protocol.ErrInvalidEndMarker):
		return "end_marker"
	default:
		return "garbage"
	}
}
