package transport

import (
	"sync"
	"time"
)

// Pipe returns two connected in-memory ports: bytes written to one are
// readable from the other. Used by tests and the device simulator in
// place of a physical serial link. Reads poll with the same short-timeout
// contract as the serial port.
func Pipe() (Port, Port) {
	a := newPipeEnd()
	b := newPipeEnd()
	a.peer, b.peer = b, a
	return a, b
}

const pipePollTimeout = 5 * time.Millisecond

type pipeEnd struct {
	peer *pipeEnd

	mu     sync.Mutex
	buf    []byte
	arrive chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newPipeEnd() *pipeEnd {
	return &pipeEnd{
		arrive: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (p *pipeEnd) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			n := copy(b, p.buf)
			p.buf = p.buf[n:]
			p.mu.Unlock()
			return n, nil
		}
		closed := p.isClosed()
		p.mu.Unlock()
		if closed {
			return 0, ErrClosed
		}
		select {
		case <-p.arrive:
		case <-p.done:
		case <-time.After(pipePollTimeout):
			return 0, nil
		}
	}
}

func (p *pipeEnd) Write(b []byte) (int, error) {
	peer := p.peer
	if p.isClosed() || peer.isClosed() {
		return 0, ErrClosed
	}
	peer.mu.Lock()
	peer.buf = append(peer.buf, b...)
	peer.mu.Unlock()
	select {
	case peer.arrive <- struct{}{}:
	default:
	}
	return len(b), nil
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *pipeEnd) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
