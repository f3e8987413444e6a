package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/PabloMansanet/subotai/peer"
)

// ErrTooLarge is returned by Loopback.SendTo for oversized payloads,
// mirroring the real transport's socket buffer limit.
var ErrTooLarge = errors.New("transport: payload exceeds socket buffer size")

// loopbackHub wires a set of Loopback transports together in-process, so
// node-to-node tests can run deterministically without real sockets.
type loopbackHub struct {
	mu    sync.Mutex
	nodes map[string]*Loopback
}

func newLoopbackHub() *loopbackHub {
	return &loopbackHub{nodes: make(map[string]*Loopback)}
}

func (h *loopbackHub) register(l *Loopback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[l.addr.String()] = l
}

func (h *loopbackHub) deliver(dst peer.Addr, datagram loopbackDatagram) bool {
	h.mu.Lock()
	target, ok := h.nodes[dst.String()]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case target.inbox <- datagram:
		return true
	default:
		return false
	}
}

type loopbackDatagram struct {
	data   []byte
	source peer.Addr
}

// LoopbackNetwork is a shared, in-memory network that Loopback transports
// register on to exchange datagrams.
type LoopbackNetwork struct {
	hub *loopbackHub
}

// NewLoopbackNetwork constructs an empty in-memory network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{hub: newLoopbackHub()}
}

// Loopback is an in-memory Transport bound to a synthetic address within a
// LoopbackNetwork. It satisfies the same Transport interface as UDP, so the
// engine and its tests never need a real socket (spec §6: the engine
// depends only on the transport interface).
type Loopback struct {
	network *LoopbackNetwork
	addr    peer.Addr
	inbox   chan loopbackDatagram
	closed  chan struct{}
	once    sync.Once
}

// NewLoopback registers a new transport at the given synthetic address on
// network.
func NewLoopback(network *LoopbackNetwork, addr peer.Addr) *Loopback {
	l := &Loopback{
		network: network,
		addr:    addr,
		inbox:   make(chan loopbackDatagram, 256),
		closed:  make(chan struct{}),
	}
	network.hub.register(l)
	return l
}

// SendTo implements Transport.
func (l *Loopback) SendTo(dst peer.Addr, data []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if len(data) > MaxDatagramBytes {
		return ErrTooLarge
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	l.network.hub.deliver(dst, loopbackDatagram{data: cp, source: l.addr})
	return nil
}

// ReceiveFrom implements Transport.
func (l *Loopback) ReceiveFrom(readTimeout time.Duration) ([]byte, peer.Addr, error) {
	select {
	case <-l.closed:
		return nil, peer.Addr{}, ErrClosed
	case d := <-l.inbox:
		return d.data, d.source, nil
	case <-time.After(readTimeout):
		return nil, peer.Addr{}, ErrTimeout
	}
}

// LocalAddr implements Transport.
func (l *Loopback) LocalAddr() peer.Addr {
	return l.addr
}

// Close implements Transport.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
