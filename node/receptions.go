package node

import (
	"time"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/rpc"
)

// EventKind classifies a broadcast Event.
type EventKind int

const (
	// EventRPC reports an RPC was received.
	EventRPC EventKind = iota
	// EventTick is published at every reception loop wake, even absent
	// traffic, so duration-bounded iterators can expire (spec §4.5.1,
	// §4.6).
	EventTick
	// EventStateChange reports a lifecycle transition.
	EventStateChange
)

// Event is broadcast to every subscriber on the reception bus.
type Event struct {
	Kind    EventKind
	Message rpc.Message
	State   State
}

// bus is a simple fan-out broadcaster: every subscriber gets its own
// buffered channel fed by Publish. Grounded on the publish/subscribe shape
// of original_source's bus::Bus (a bounded broadcast channel shared by the
// reception loop and every Receptions iterator).
type bus struct {
	subscribe   chan chan Event
	unsubscribe chan chan Event
	publish     chan Event
	done        chan struct{}
}

func newBus() *bus {
	b := &bus{
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan chan Event),
		publish:     make(chan Event, 64),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *bus) run() {
	subs := make(map[chan Event]struct{})
	for {
		select {
		case ch := <-b.subscribe:
			subs[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(subs, ch)
			close(ch)
		case ev := <-b.publish:
			for ch := range subs {
				select {
				case ch <- ev:
				default:
					// Slow subscriber; drop rather than block the bus.
				}
			}
		case <-b.done:
			for ch := range subs {
				close(ch)
			}
			return
		}
	}
}

func (b *bus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.subscribe <- ch
	return ch
}

func (b *bus) Unsubscribe(ch chan Event) {
	select {
	case b.unsubscribe <- ch:
	case <-b.done:
	}
}

func (b *bus) Publish(ev Event) {
	select {
	case b.publish <- ev:
	case <-b.done:
	}
}

func (b *bus) Close() {
	close(b.done)
}

// Receptions is a chainable, filterable iterator over received RPCs
// (spec.md §4.6).
type Receptions struct {
	b        *bus
	ch       chan Event
	deadline time.Time
	hasKind  bool
	kind     rpc.Kind
	senders  map[id.ID]struct{}
}

// newReceptions subscribes to the bus with no filters and no deadline.
func newReceptions(b *bus) *Receptions {
	return &Receptions{b: b, ch: b.Subscribe()}
}

// During bounds the iterator to a time window from now.
func (r *Receptions) During(d time.Duration) *Receptions {
	r.deadline = time.Now().Add(d)
	return r
}

// OfKind restricts the iterator to RPCs of a single kind.
func (r *Receptions) OfKind(k rpc.Kind) *Receptions {
	r.hasKind = true
	r.kind = k
	return r
}

// From restricts the iterator to RPCs sent by one of the given IDs.
func (r *Receptions) From(senders ...id.ID) *Receptions {
	r.senders = make(map[id.ID]struct{}, len(senders))
	for _, s := range senders {
		r.senders[s] = struct{}{}
	}
	return r
}

func (r *Receptions) matches(m rpc.Message) bool {
	if r.hasKind && m.Kind != r.kind {
		return false
	}
	if r.senders != nil {
		if _, ok := r.senders[m.Sender.ID]; !ok {
			return false
		}
	}
	return true
}

// Next blocks for the next RPC matching the iterator's filters, honoring
// its deadline (if any). It returns ok=false on timeout, bus closure, or a
// StateChange(ShuttingDown) event.
func (r *Receptions) Next() (rpc.Message, bool) {
	for {
		var timeout <-chan time.Time
		if !r.deadline.IsZero() {
			remaining := time.Until(r.deadline)
			if remaining <= 0 {
				return rpc.Message{}, false
			}
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case ev, open := <-r.ch:
			if !open {
				return rpc.Message{}, false
			}
			switch ev.Kind {
			case EventStateChange:
				if ev.State == ShuttingDown {
					return rpc.Message{}, false
				}
			case EventRPC:
				if r.matches(ev.Message) {
					return ev.Message, true
				}
			case EventTick:
				// Consumed only to let the deadline re-check fire; no
				// direct effect beyond the loop continuing.
			}
		case <-timeout:
			return rpc.Message{}, false
		}
	}
}

// Close releases the iterator's subscription. Next returning false does
// not release it; call Close exactly once when done with the iterator.
func (r *Receptions) Close() {
	r.b.Unsubscribe(r.ch)
}

// Count drains the iterator, returning how many matching RPCs arrived
// before it ended.
func (r *Receptions) Count() int {
	defer r.Close()
	n := 0
	for {
		if _, ok := r.Next(); !ok {
			return n
		}
		n++
	}
}
