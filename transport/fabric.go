package transport

import (
	"context"
	"sync"

	"github.com/twitter/fleet/id"
)

// Fabric wires N ranks together in a single process: each Endpoint's
// Send delivers directly into the destination's receive queue via a
// goroutine, so a slow recipient never blocks the sender, matching the
// "asynchronous send" half of spec.md's item 1. It stands in for the
// MPI communicator of the original without pulling in an out-of-scope
// networking stack.
type Fabric struct {
	mu        sync.Mutex
	endpoints map[id.Rank]*Endpoint
}

// NewFabric builds a Fabric with one Endpoint per rank in [0, n).
func NewFabric(n int) *Fabric {
	f := &Fabric{endpoints: make(map[id.Rank]*Endpoint, n)}
	for r := 0; r < n; r++ {
		f.endpoints[id.Rank(r)] = newEndpoint(id.Rank(r), f)
	}
	return f
}

// Endpoint returns the given rank's view of the fabric.
func (f *Fabric) Endpoint(rank id.Rank) *Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[rank]
}

// Size returns the number of ranks wired into the fabric.
func (f *Fabric) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.endpoints)
}

func (f *Fabric) deliver(dst id.Rank, env Envelope) bool {
	f.mu.Lock()
	ep, ok := f.endpoints[dst]
	f.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ep.inbox <- env:
	case <-ep.closed:
		return false
	}
	return true
}

// Endpoint is one rank's queue pair onto a Fabric: an asynchronous send
// and a receive queue it can poll (Recv) or block on (Wait), plus a
// deferred-message queue for messages a handler isn't ready for yet
// (the pattern worker.cpp calls "deferring interruption/termination:
// desc. did not arrive yet").
type Endpoint struct {
	rank     id.Rank
	fabric   *Fabric
	inbox    chan Envelope
	deferred []Envelope
	closed   chan struct{}
	closeOne sync.Once
}

const inboxCapacity = 256

func newEndpoint(rank id.Rank, f *Fabric) *Endpoint {
	return &Endpoint{
		rank:   rank,
		fabric: f,
		inbox:  make(chan Envelope, inboxCapacity),
		closed: make(chan struct{}),
	}
}

// Rank reports which rank this endpoint belongs to.
func (e *Endpoint) Rank() id.Rank { return e.rank }

// Send encodes v and delivers it to dst asynchronously: it hands the
// envelope to a new goroutine and returns at once, without waiting for
// the destination's inbox to accept it or for the recipient to drain it.
func (e *Endpoint) Send(dst id.Rank, tag Tag, v interface{}) error {
	env, err := Encode(tag, e.rank, v)
	if err != nil {
		return err
	}
	go e.fabric.deliver(dst, env)
	return nil
}

// TryRecv is the non-blocking "test for completion" call: it drains a
// deferred message first if one is pending, else polls the inbox.
func (e *Endpoint) TryRecv() (Envelope, bool) {
	if len(e.deferred) > 0 {
		env := e.deferred[0]
		e.deferred = e.deferred[1:]
		return env, true
	}
	select {
	case env := <-e.inbox:
		return env, true
	default:
		return Envelope{}, false
	}
}

// Recv blocks until a message arrives, the deferred queue has one
// ready, or ctx is done.
func (e *Endpoint) Recv(ctx context.Context) (Envelope, bool) {
	if len(e.deferred) > 0 {
		env := e.deferred[0]
		e.deferred = e.deferred[1:]
		return env, true
	}
	select {
	case env := <-e.inbox:
		return env, true
	case <-ctx.Done():
		return Envelope{}, false
	}
}

// Defer re-queues env for a later TryRecv/Recv, for handlers that
// cannot act on a message yet (e.g. a revision arriving before the
// job's initial description has).
func (e *Endpoint) Defer(env Envelope) {
	e.deferred = append(e.deferred, env)
}

// Close stops any in-flight Send deliveries from blocking forever.
func (e *Endpoint) Close() {
	e.closeOne.Do(func() { close(e.closed) })
}
