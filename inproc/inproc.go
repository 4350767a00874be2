// Package inproc provides a minimal in-process transport.Interface
// implementation: a single buffered Go channel standing in for a
// socket, used to exercise the registry's multi-variant dispatch and as
// a fast test double for code written against transport.Interface. It
// deliberately implements none of the wire framing, fragmentation, or
// reassembly machinery in the wire/ringbuf/fragstore/udpsock packages —
// it is not a full local-IPC transport, only a capability-set-compatible
// stand-in, per the specification's §9 note that such variants are
// modeled as polymorphism over the same capability set rather than
// shared wire-level code.
package inproc

import (
	"sync"
	"time"

	"github.com/zcmgo/udpm/transport"
)

type envelope struct {
	channel string
	payload []byte
	ts      time.Time
}

// Transport is an in-process, loopback implementation of
// transport.Interface: everything Send publishes is immediately visible
// to Recv on the same instance.
type Transport struct {
	mtu int

	mu     sync.Mutex
	closed bool
	queue  chan envelope

	subsMu sync.Mutex
	subs   map[string]bool
	allSub bool
}

var _ transport.Interface = (*Transport)(nil)

// New creates an in-process transport with the given MTU and receive
// queue depth.
func New(mtu, queueDepth int) *Transport {
	if mtu <= 0 {
		mtu = transport.MTU
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Transport{
		mtu:   mtu,
		queue: make(chan envelope, queueDepth),
		subs:  make(map[string]bool),
	}
}

func (t *Transport) MTU() int { return t.mtu }

func (t *Transport) SubscribeEnable(channel string, enable bool) error {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	if channel == "" {
		t.allSub = enable
		return nil
	}
	if enable {
		t.subs[channel] = true
	} else {
		delete(t.subs, channel)
	}
	return nil
}

func (t *Transport) Send(channel string, payload []byte) error {
	if channel == "" {
		return transport.ErrInvalid
	}
	if len(payload) > t.mtu {
		return transport.ErrInvalid
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)

	select {
	case t.queue <- envelope{channel: channel, payload: cp, ts: time.Now()}:
		return nil
	default:
		// Queue full: best-effort delivery, drop silently like a lossy
		// multicast medium under pressure.
		return nil
	}
}

func (t *Transport) Recv(timeout time.Duration) (transport.Message, error) {
	if timeout < 0 {
		e, ok := <-t.queue
		if !ok {
			return transport.Message{}, transport.ErrAgain
		}
		return transport.Message{Channel: e.channel, Payload: e.payload, RecvTimestamp: e.ts}, nil
	}

	var timer *time.Timer
	var expired <-chan time.Time
	if timeout == 0 {
		expired = closedTimeChan
	} else {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case e, ok := <-t.queue:
		if !ok {
			return transport.Message{}, transport.ErrAgain
		}
		return transport.Message{Channel: e.channel, Payload: e.payload, RecvTimestamp: e.ts}, nil
	case <-expired:
		return transport.Message{}, transport.ErrAgain
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.queue)
	return nil
}

var closedTimeChan = func() <-chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}()
