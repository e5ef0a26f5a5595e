package transport

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// ErrClosed is returned when sending on a closed conn.
var ErrClosed = errors.New("transport: conn closed")

// LoopbackConfig shapes the simulated link between the two ends of a
// loopback pair.
type LoopbackConfig struct {
	// DropRate is the probability in [0, 1] that a datagram is lost.
	DropRate float64
	// Latency is the simulated one-way delay in seconds.
	Latency float64
	// Jitter is added to Latency uniformly in [0, Jitter) per datagram.
	Jitter float64
	// Seed seeds the drop and jitter randomness, making a simulated link
	// reproducible.
	Seed uint64
	// Now supplies the clock the link runs on, so tests can drive it with
	// simulated time. If nil, datagrams are delivered immediately.
	Now func() float64
}

// NewLoopback creates both ends of an in-memory lossy link.
func NewLoopback(conf LoopbackConfig) (*LoopbackEnd, *LoopbackEnd) {
	link := &loopback{
		conf: conf,
		rng:  rand.New(rand.NewPCG(conf.Seed, conf.Seed^0x9e3779b97f4a7c15)),
	}
	a := &LoopbackEnd{link: link}
	b := &LoopbackEnd{link: link}
	a.peer, b.peer = b, a
	return a, b
}

type queued struct {
	readyAt float64
	payload []byte
}

type loopback struct {
	mu     sync.Mutex
	conf   LoopbackConfig
	rng    *rand.Rand
	closed bool
}

// LoopbackEnd is one side of a loopback link.
type LoopbackEnd struct {
	link  *loopback
	peer  *LoopbackEnd
	queue []queued
}

// Send delivers the payload to the peer end, subject to the configured drop
// rate and delay. The payload is copied.
func (e *LoopbackEnd) Send(payload []byte) error {
	l := e.link
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.conf.DropRate > 0 && l.rng.Float64() < l.conf.DropRate {
		return nil
	}
	readyAt := 0.0
	if l.conf.Now != nil {
		readyAt = l.conf.Now() + l.conf.Latency
		if l.conf.Jitter > 0 {
			readyAt += l.rng.Float64() * l.conf.Jitter
		}
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	e.peer.queue = append(e.peer.queue, queued{readyAt: readyAt, payload: buf})
	return nil
}

// Receive returns the next datagram in send order once its delivery time has
// passed. A datagram still in flight holds back the ones sent after it.
func (e *LoopbackEnd) Receive() ([]byte, bool) {
	l := e.link
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	if l.conf.Now != nil && e.queue[0].readyAt > l.conf.Now() {
		return nil, false
	}
	q := e.queue[0]
	e.queue = e.queue[1:]
	return q.payload, true
}

// Close closes both ends of the link.
func (e *LoopbackEnd) Close() error {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	e.link.closed = true
	return nil
}
