package node

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
	"github.com/PabloMansanet/subotai/storage"
	"github.com/PabloMansanet/subotai/transport"
)

// Node is the user-facing handle (spec.md §6's public operations). It owns
// an Engine and the goroutines driving its three background activities;
// closing it (Shutdown) stops them and releases the transport.
//
// Adapted from original_source/src/node/mod.rs's Node: a thin public
// wrapper around a reference-counted Resources struct that launches a
// detached reception thread on construction.
type Node struct {
	engine *Engine
	stop   chan struct{}
}

// New constructs a node with a random ID, the default configuration, and
// a real UDP transport bound to OS-assigned ports.
func New() (*Node, error) {
	return NewWithConfiguration(0, 0, DefaultConfiguration())
}

// NewWithConfiguration constructs a node with explicit ports and
// configuration overrides.
func NewWithConfiguration(inboundPort, outboundPort int, cfg Configuration) (*Node, error) {
	return NewWithConfigurationAndMetrics(inboundPort, outboundPort, cfg, nil)
}

// NewWithConfigurationAndMetrics is NewWithConfiguration with an optional
// Prometheus-backed Metrics instance (nil disables instrumentation).
func NewWithConfigurationAndMetrics(inboundPort, outboundPort int, cfg Configuration, metrics *Metrics) (*Node, error) {
	tr, err := transport.NewUDP(inboundPort, outboundPort)
	if err != nil {
		return nil, err
	}
	return newNode(id.Random(), cfg, tr, clock.New(), metrics), nil
}

// NewWithTransport constructs a node over a caller-supplied transport
// (e.g. transport.Loopback) and clock, for deterministic tests.
func NewWithTransport(localID id.ID, cfg Configuration, tr transport.Transport, clk clock.Clock, metrics *Metrics) *Node {
	return newNode(localID, cfg, tr, clk, metrics)
}

func newNode(localID id.ID, cfg Configuration, tr transport.Transport, clk clock.Clock, metrics *Metrics) *Node {
	engine := NewEngine(localID, cfg, tr, clk, metrics)
	n := &Node{engine: engine, stop: make(chan struct{})}

	go engine.ReceptionLoop(n.stop)
	go engine.MaintenanceLoop(n.stop)
	go engine.ConflictResolutionLoop(n.stop)

	return n
}

// ID returns the node's own identifier.
func (n *Node) ID() id.ID { return n.engine.localID }

// State returns the current lifecycle state.
func (n *Node) State() State { return n.engine.State() }

// Configuration returns the frozen configuration.
func (n *Node) Configuration() Configuration { return n.engine.cfg }

// LocalInfo returns the node's own peer descriptor, including its
// observed local socket address.
func (n *Node) LocalInfo() peer.Info { return n.engine.LocalInfo() }

// Bootstrap joins the overlay via a single seed address. It runs on the
// calling goroutine and returns once the seed ping and bootstrap probes have
// finished; it does not start any background bootstrap work of its own.
func (n *Node) Bootstrap(seedAddr peer.Addr) error {
	return n.engine.Bootstrap(seedAddr)
}

// WaitForState blocks until the node reaches state.
func (n *Node) WaitForState(state State) {
	n.engine.WaitForState(state)
}

// Store publishes value under key across the network.
func (n *Node) Store(key id.ID, value storage.Entry) error {
	return n.engine.Store(key, value)
}

// StoreWithExpiration is Store with an explicit requested expiration.
func (n *Node) StoreWithExpiration(key id.ID, value storage.Entry, expiration time.Time) error {
	return n.engine.StoreWithExpiration(key, value, expiration)
}

// Retrieve fetches every value stored under key.
func (n *Node) Retrieve(key id.ID) ([]storage.Entry, error) {
	return n.engine.Retrieve(key)
}

// Locate finds the peer descriptor for target.
func (n *Node) Locate(target id.ID) (peer.Info, error) {
	return n.engine.Locate(target)
}

// Receptions returns a fresh, unfiltered reception iterator.
func (n *Node) Receptions() *Receptions {
	return n.engine.Receptions()
}

// Shutdown transitions the node to ShuttingDown, stops its background
// loops, and closes the transport.
func (n *Node) Shutdown() error {
	close(n.stop)
	n.engine.Shutdown()
	n.engine.Wait()
	n.engine.bus.Close()
	return n.engine.transport.Close()
}
