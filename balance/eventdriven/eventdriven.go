// Package eventdriven implements spec.md §4.3.2: a balancer with no
// fixed period, firing whenever a job's demand or priority changes
// materially, reducing diffs up one of two overlaid trees (normal,
// rooted at rank 0; reversed, rooted at rank N-1) and broadcasting
// merged results back down.
//
// Grounded on
// original_source/src/balancing/event_driven_balancer.hpp's
// EventDrivenBalancer: same states/diffs split, same volume formula
// handed off to the shared priority/demand arithmetic in
// balance/volume.go. A bounded history of recent broadcasts is
// recorded per tree, but nothing reads it: incoming broadcasts are not
// filtered against it.
package eventdriven

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"

	"github.com/twitter/fleet/balance"
	"github.com/twitter/fleet/balance/butterfly"
	"github.com/twitter/fleet/id"
)

// recentBroadcastMemory bounds how many past broadcasts are kept per
// tree, mirroring RECENT_BROADCAST_MEMORY = 3 in the original. It is a
// fixed constant, not a configuration value, and the kept broadcasts
// are only recorded; no code filters back-propagation with them.
const recentBroadcastMemory = 3

var _ balance.Balancer = (*Balancer)(nil)

// Balancer is the event-driven variant of balance.Balancer.
type Balancer struct {
	rank       id.Rank
	fleetSize  int
	loadFactor float64
	mode       balance.RoundingMode
	seed       int64

	states *balance.EventMap
	diffs  *balance.EventMap

	epochs map[id.JobId]int

	recentNormal   *lru.Cache
	recentReversed *lru.Cache

	normal   *treeRound
	reversed *treeRound

	outbox []OutMessage

	result balance.Result
}

// OutMessage is a payload this balancer needs the worker to transmit
// over transport to another rank, tagged Collectives, before the next
// call to Continue/ContinueWithMessage — the balancer contract's
// "continue" step never sends on its own, it only ever computes what
// needs sending and leaves the actual I/O to the caller.
type OutMessage struct {
	To      id.Rank
	Payload []byte
}

// DrainOutbox returns and clears every message queued since the last
// drain. The worker calls this after every Begin/Continue/
// ContinueWithMessage and sends each entry over transport.
func (b *Balancer) DrainOutbox() []OutMessage {
	out := b.outbox
	b.outbox = nil
	return out
}

type treeRound struct {
	reduction *butterfly.Reduction
	broadcast *butterfly.Broadcast
	reversed  bool
}

// New builds an event-driven balancer for one worker rank, rounding
// converged volumes with mode (seed pins probabilistic rounding's coin
// flips for determinism; production wiring derives it from the
// balancing epoch).
func New(rank id.Rank, fleetSize int, loadFactor float64, mode balance.RoundingMode, seed int64) *Balancer {
	normalHist, _ := lru.New(recentBroadcastMemory)
	reversedHist, _ := lru.New(recentBroadcastMemory)
	return &Balancer{
		rank:           rank,
		fleetSize:      fleetSize,
		loadFactor:     loadFactor,
		mode:           mode,
		seed:           seed,
		states:         balance.NewEventMap(),
		diffs:          balance.NewEventMap(),
		epochs:         make(map[id.JobId]int),
		recentNormal:   normalHist,
		recentReversed: reversedHist,
	}
}

// NoteLocalChange bumps jobId's epoch and queues a diff, the way a
// root worker reacts to its own job's demand or priority changing.
func (b *Balancer) NoteLocalChange(jobId id.JobId, demand int, priority float64) {
	b.epochs[jobId]++
	ev := balance.Event{JobId: jobId, Epoch: b.epochs[jobId], Demand: demand, Priority: priority}
	b.diffs.InsertIfNovel(ev)
}

// Begin starts a round if there are queued diffs; with nothing to
// reduce it returns true (done) immediately, per the shared contract.
func (b *Balancer) Begin(demands map[id.JobId]int, priorities map[id.JobId]float64) bool {
	for jobId, demand := range demands {
		b.NoteLocalChange(jobId, demand, priorities[jobId])
	}
	if b.diffs.IsEmpty() {
		return true
	}
	b.normal = b.startRound(false)
	b.reversed = b.startRound(true)
	b.driveRound(b.normal)
	b.driveRound(b.reversed)
	return b.roundDone()
}

func (b *Balancer) startRound(reversed bool) *treeRound {
	var plan []butterfly.Step
	if reversed {
		plan = butterfly.ReversedReducePlan(b.rank, b.fleetSize)
	} else {
		plan = butterfly.ReducePlan(b.rank, b.fleetSize)
	}
	payload := encodeEventMap(b.diffs)
	red := butterfly.NewReduction(plan, mergeEventMapBytes, butterfly.Contribution{Present: true, Data: payload})
	return &treeRound{reduction: red, reversed: reversed}
}

// CanContinue reports whether there is anything queued for the worker
// to transmit that DrainOutbox hasn't returned yet.
func (b *Balancer) CanContinue() bool {
	return len(b.outbox) > 0
}

// Continue advances both tree rounds as far as they can go without
// new incoming messages (queuing any sends into the outbox) and
// reports whether the round is fully done (both trees broadcast-
// complete).
func (b *Balancer) Continue() bool {
	b.driveRound(b.normal)
	b.driveRound(b.reversed)
	return b.roundDone()
}

// driveRound repeatedly advances t until it either blocks waiting on
// a peer or finishes, queuing every send it passes through along the
// way and handing a completed reduction's root off to a broadcast.
func (b *Balancer) driveRound(t *treeRound) {
	if t == nil {
		return
	}
	for {
		if t.broadcast != nil {
			if t.broadcast.Done() {
				return
			}
			switch action := t.broadcast.NextAction(); action.Kind {
			case butterfly.ActionSend:
				b.outbox = append(b.outbox, OutMessage{To: action.Peer, Payload: t.broadcast.Outgoing().Data})
				t.broadcast.Advance()
				continue
			case butterfly.ActionNone:
				t.broadcast.Advance()
				continue
			default: // ActionAwaitReceive
				return
			}
		}

		if t.reduction.Done() {
			var plan []butterfly.Step
			if t.reversed {
				plan = butterfly.BroadcastPlan(butterfly.ReversedReducePlan(b.rank, b.fleetSize))
			} else {
				plan = butterfly.BroadcastPlan(butterfly.ReducePlan(b.rank, b.fleetSize))
			}
			// Every rank mirrors its own reduce steps into a broadcast
			// plan, not just the root: a non-root rank already dropped
			// out of the reduction once it sent its contribution up, but
			// it still owes its subtree the final value coming back down.
			if t.reduction.IsRoot() {
				merged := decodeEventMap(t.reduction.Result().Data)
				b.states.UpdateBy(merged)
				b.diffs = balance.NewEventMap()
				t.broadcast = butterfly.NewBroadcast(plan, butterfly.Contribution{Present: true, Data: encodeEventMap(merged)})
			} else {
				t.broadcast = butterfly.NewBroadcast(plan, butterfly.Contribution{})
			}
			continue
		}
		switch action := t.reduction.NextAction(); action.Kind {
		case butterfly.ActionSend:
			b.outbox = append(b.outbox, OutMessage{To: action.Peer, Payload: t.reduction.Outgoing().Data})
			t.reduction.Advance()
			continue
		case butterfly.ActionNone:
			t.reduction.Advance()
			continue
		default: // ActionAwaitReceive
			return
		}
	}
}

func (b *Balancer) roundDone() bool {
	return roundTreeDone(b.normal) && roundTreeDone(b.reversed)
}

func roundTreeDone(t *treeRound) bool {
	if t == nil {
		return true
	}
	return t.broadcast != nil && t.broadcast.Done()
}

// ContinueWithMessage feeds an incoming reduction or broadcast payload
// for the matching tree into its step machine.
func (b *Balancer) ContinueWithMessage(fromRank id.Rank, payload []byte) bool {
	b.deliverTo(b.normal, fromRank, payload)
	b.deliverTo(b.reversed, fromRank, payload)
	b.driveRound(b.normal)
	b.driveRound(b.reversed)
	return b.roundDone()
}

func (b *Balancer) deliverTo(t *treeRound, fromRank id.Rank, payload []byte) {
	if t == nil {
		return
	}
	c := butterfly.Contribution{Present: true, Data: payload}
	if t.broadcast != nil && !t.broadcast.Done() {
		if a := t.broadcast.NextAction(); a.Kind == butterfly.ActionAwaitReceive && a.Peer == fromRank {
			t.broadcast.Deliver(c)
			merged := decodeEventMap(t.broadcast.Result().Data)
			if b.states.UpdateBy(merged) {
				b.recordBroadcast(t.reversed, merged)
			}
		}
		return
	}
	if t.reduction != nil && !t.reduction.Done() {
		if a := t.reduction.NextAction(); a.Kind == butterfly.ActionAwaitReceive && a.Peer == fromRank {
			t.reduction.Deliver(c)
		}
	}
}

func (b *Balancer) recordBroadcast(reversed bool, m *balance.EventMap) {
	hist := b.recentNormal
	if reversed {
		hist = b.recentReversed
	}
	hist.Add(len(hist.Keys()), m)
}

// GetResult computes volumes from the converged states, via the same
// priority-weighted formula the cutoff-priority balancer's phases 2-3
// use, applied directly without a histogram reduction step since every
// worker already holds identical `states` content.
func (b *Balancer) GetResult() balance.Result {
	demands := make(map[id.JobId]int)
	priorities := make(map[id.JobId]float64)
	for jobId, ev := range b.states.Entries() {
		demands[jobId] = ev.Demand
		priorities[jobId] = ev.Priority
	}
	return balance.AssignVolumesMode(demands, priorities, b.fleetSize, b.loadFactor, b.mode, b.seed)
}

// Forget drops jobId's epoch bookkeeping and its entries in states and
// diffs. It queues no event for the job, so other ranks are not told
// of the removal by this call.
func (b *Balancer) Forget(jobId id.JobId) {
	delete(b.epochs, jobId)
	b.states.Remove(jobId)
	b.diffs.Remove(jobId)
}

func encodeEventMap(m *balance.EventMap) []byte {
	entries := m.Entries()
	buf := make([]byte, 0, len(entries)*24)
	for jobId, ev := range entries {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(jobId))
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(ev.Epoch)))
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(ev.Demand)))
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(ev.Priority*1e6)))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func decodeEventMap(buf []byte) *balance.EventMap {
	m := balance.NewEventMap()
	const rec = 32
	for i := 0; i+rec <= len(buf); i += rec {
		jobId := id.JobId(binary.LittleEndian.Uint64(buf[i:]))
		epoch := int(int64(binary.LittleEndian.Uint64(buf[i+8:])))
		demand := int(int64(binary.LittleEndian.Uint64(buf[i+16:])))
		priority := float64(int64(binary.LittleEndian.Uint64(buf[i+24:]))) / 1e6
		m.InsertIfNovel(balance.Event{JobId: jobId, Epoch: epoch, Demand: demand, Priority: priority})
	}
	return m
}

func mergeEventMapBytes(a, b []byte) []byte {
	return encodeEventMap(balance.Merge(decodeEventMap(a), decodeEventMap(b)))
}
