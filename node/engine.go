package node

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
	"github.com/PabloMansanet/subotai/routing"
	"github.com/PabloMansanet/subotai/rpc"
	"github.com/PabloMansanet/subotai/storage"
	"github.com/PabloMansanet/subotai/transport"
)

var log = logging.Logger("node")

// Engine is the shared, reference-counted resource set the reception loop,
// the background loops, and every on-demand operation act on (spec.md §5:
// "the node holds a reference-counted shared resources object"). It is the
// Go analogue of original_source/src/node/resources.rs's Resources.
type Engine struct {
	localID   id.ID
	cfg       Configuration
	transport transport.Transport
	clock     storage.Clock
	metrics   *Metrics

	table   *routing.Table
	storage *storage.Storage
	bus     *bus

	stateMu sync.RWMutex
	state   State

	wg sync.WaitGroup
}

// NewEngine constructs an engine. Callers are expected to start its
// background loops via Node (see node.go).
func NewEngine(localID id.ID, cfg Configuration, tr transport.Transport, clock storage.Clock, metrics *Metrics) *Engine {
	storageCfg := storage.Config{
		MaxEntries:          cfg.MaxStorage,
		MaxBlobBytes:        cfg.MaxBlobBytes,
		BaseExpirationHours: cfg.BaseExpirationHours,
	}
	return &Engine{
		localID:   localID,
		cfg:       cfg,
		transport: tr,
		clock:     clock,
		metrics:   metrics,
		table:     routing.New(localID, cfg.KFactor),
		storage:   storage.New(localID, storageCfg, clock),
		bus:       newBus(),
		state:     OffGrid,
	}
}

// LocalInfo returns this node's own peer descriptor.
func (e *Engine) LocalInfo() peer.Info {
	return peer.Info{ID: e.localID, Addr: e.transport.LocalAddr()}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	changed := e.state != s
	e.state = s
	e.stateMu.Unlock()
	if changed {
		log.Infof("%s: state -> %s", e.localID, s)
		e.bus.Publish(Event{Kind: EventStateChange, State: s})
	}
}

// Receptions subscribes a fresh, unfiltered reception iterator.
func (e *Engine) Receptions() *Receptions {
	return newReceptions(e.bus)
}

// send marshals and transmits a message, logging (not returning) any
// failure: per spec §7, local send/deserialize failures never surface to
// the caller that triggered the background activity.
func (e *Engine) send(dst peer.Addr, m rpc.Message) {
	data, err := rpc.Marshal(m)
	if err != nil {
		log.Warnf("%s: failed to marshal %s: %v", e.localID, m.Kind, err)
		return
	}
	if err := e.transport.SendTo(dst, data); err != nil {
		log.Warnf("%s: failed to send %s to %s: %v", e.localID, m.Kind, dst, err)
	}
}

// updateTable is the single path by which peers enter the routing table
// (spec §4.5.2 step 3, §4.2).
func (e *Engine) updateTable(sender peer.Info) {
	if sender.ID.Equal(e.localID) {
		return
	}

	defensive := e.State() == Defensive

	outcome, err := e.table.Update(sender)
	if err != nil {
		return
	}

	if outcome.Kind == routing.ConflictOccurred {
		if defensive {
			e.table.RevertConflict(outcome.Conflict)
		} else {
			e.table.AddConflict(outcome.Conflict)
			e.metrics.conflict()
			if e.table.ConflictCount() >= e.cfg.MaxConflicts {
				e.setState(Defensive)
			}
		}
	}

	e.metrics.occupancy(e.table.Size())

	if e.State() == OffGrid && e.table.Size() > e.cfg.KFactor {
		e.setState(OnGrid)
	}
}

// ReceptionLoop reads datagrams until stop is closed or the engine enters
// ShuttingDown, dispatching each successfully decoded RPC to
// processIncoming and publishing a Tick on every wake (spec §4.5.1).
func (e *Engine) ReceptionLoop(stop <-chan struct{}) {
	e.wg.Add(1)
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}
		if e.State() == ShuttingDown {
			return
		}

		data, source, err := transport.WithContext(ctx, e.transport, e.cfg.ReceptionReadTimeout)
		if err == nil {
			if m, decodeErr := rpc.Unmarshal(data); decodeErr == nil {
				m.Sender.Addr = source
				go e.processIncoming(m)
			}
		}
		e.bus.Publish(Event{Kind: EventTick})
	}
}

// processIncoming implements spec §4.5.2's five-step RPC handling
// sequence.
func (e *Engine) processIncoming(m rpc.Message) {
	sender := m.Sender

	switch m.Kind {
	case rpc.KindPing:
		e.updateTable(sender)
		e.send(sender.Addr, rpc.PingResponse(e.LocalInfo()))
	case rpc.KindPingResponse:
		e.updateTable(sender)
		e.revertConflictFor(sender)
	case rpc.KindLocate:
		e.updateTable(sender)
		e.handleLocate(m, sender)
	case rpc.KindLocateResponse:
		e.updateTable(sender)
		if m.Outcome == rpc.LocateFound {
			e.updateTable(m.Found)
		}
	case rpc.KindProbe:
		e.updateTable(sender)
		e.handleProbe(m, sender)
	case rpc.KindProbeResponse:
		e.updateTable(sender)
	case rpc.KindRetrieve:
		e.updateTable(sender)
		e.handleRetrieve(m, sender)
	case rpc.KindRetrieveResponse:
		e.updateTable(sender)
	case rpc.KindStore:
		e.updateTable(sender)
		e.handleStore(m, sender)
	case rpc.KindMassStore:
		e.updateTable(sender)
		e.handleMassStore(m, sender)
	case rpc.KindStoreResponse:
		e.updateTable(sender)
	}

	e.bus.Publish(Event{Kind: EventRPC, Message: m})
}

// revertConflictFor reverts any pending eviction conflict whose evicted
// peer just proved liveness by responding (spec §4.5.6: "a PingResponse
// from an evicted peer triggers revert_conflict").
func (e *Engine) revertConflictFor(sender peer.Info) {
	if conflict, ok := e.table.RemoveConflict(sender); ok {
		e.table.RevertConflict(conflict)
		if e.State() == Defensive && e.table.ConflictCount() == 0 {
			if e.table.Size() > e.cfg.KFactor {
				e.setState(OnGrid)
			} else {
				e.setState(OffGrid)
			}
		}
	}
}

func (e *Engine) handleLocate(m rpc.Message, sender peer.Info) {
	result := e.table.Lookup(m.Target, e.cfg.KFactor, nil)
	var response rpc.Message
	switch result.Kind {
	case routing.LookupFound:
		response = rpc.LocateFoundResponse(e.LocalInfo(), m.Target, result.Peer)
	default:
		response = rpc.LocateClosestResponse(e.LocalInfo(), m.Target, result.Closest)
	}
	e.send(sender.Addr, response)
}

func (e *Engine) handleProbe(m rpc.Message, sender peer.Info) {
	closest := make([]peer.Info, 0, e.cfg.KFactor+1)
	for _, p := range e.table.ClosestTo(m.Target) {
		if p.ID.Equal(sender.ID) {
			continue
		}
		closest = append(closest, p)
		if len(closest) == e.cfg.KFactor+1 {
			break
		}
	}
	e.send(sender.Addr, rpc.ProbeResponse(e.LocalInfo(), m.Target, closest))
}

func (e *Engine) handleRetrieve(m rpc.Message, sender peer.Info) {
	e.metrics.retrieve()
	values, ok := e.storage.Retrieve(m.Target)
	if ok {
		e.send(sender.Addr, rpc.RetrieveFoundResponse(e.LocalInfo(), m.Target, values))
		return
	}
	closest := e.table.Lookup(m.Target, e.cfg.KFactor, nil)
	e.send(sender.Addr, rpc.RetrieveClosestResponse(e.LocalInfo(), m.Target, closest.Closest))
}

func (e *Engine) handleStore(m rpc.Message, sender peer.Info) {
	e.metrics.store()
	result := e.storage.Store(m.Target, m.Value, m.Expiration)
	e.send(sender.Addr, rpc.StoreResponse(e.LocalInfo(), m.Target, result))
}

func (e *Engine) handleMassStore(m rpc.Message, sender peer.Info) {
	e.metrics.store()
	result := storage.Success
	for _, v := range m.Values2 {
		if r := e.storage.Store(m.Target, v.Entry, v.Expiration); r != storage.Success {
			result = r
		}
	}
	e.send(sender.Addr, rpc.StoreResponse(e.LocalInfo(), m.Target, result))
}

// Wait blocks until every goroutine started via ReceptionLoop (and any
// other wg-tracked background activity) has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown transitions the engine to ShuttingDown, waking every blocked
// loop and iterator.
func (e *Engine) Shutdown() {
	e.setState(ShuttingDown)
	e.bus.Publish(Event{Kind: EventStateChange, State: ShuttingDown})
}

// Now returns the engine's current time via its injected clock.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}
