// Package butterfly implements the hand-rolled tree reduction and
// broadcast of spec.md §4.3.3: a recursive-doubling reduce to a chosen
// root, and the mirrored broadcast back down the same tree. It never
// blocks: callers drive it step by step, polling for the next action
// and feeding in messages as they arrive off the transport.
package butterfly

import "github.com/twitter/fleet/id"

// Role is what a rank does at one step of the reduction.
type Role int

const (
	// RoleReceive waits for Peer's contribution and merges it in
	// before continuing to the next step.
	RoleReceive Role = iota
	// RoleSend hands this rank's accumulated contribution to Peer and
	// drops out of the reduction — everything above this step belongs
	// to Peer's subtree.
	RoleSend
	// RoleSkip has no partner at this step (fleet size isn't a power
	// of two); the rank carries its value forward unchanged.
	RoleSkip
)

// Step is one step of a reduction or broadcast plan.
type Step struct {
	K    int
	Role Role
	Peer id.Rank
}

// ReducePlan returns the ascending sequence of steps rank follows
// while reducing toward root 0 over a communicator of fleetSize ranks:
// at step k=2,4,8,..., rank r sends to r-k/2 if r mod k = k/2, receives
// from r+k/2 if r mod k = 0 and that peer exists, or skips otherwise.
// The plan stops at the step where the rank sends (it has no more work
// once its subtree has been merged into its parent); a rank that never
// sends is this reduction's root.
func ReducePlan(rank id.Rank, fleetSize int) []Step {
	var steps []Step
	r := int(rank)
	for k := 2; k/2 < fleetSize; k *= 2 {
		half := k / 2
		if r%k == half {
			steps = append(steps, Step{K: k, Role: RoleSend, Peer: id.Rank(r - half)})
			break
		}
		peer := r + half
		if peer < fleetSize {
			steps = append(steps, Step{K: k, Role: RoleReceive, Peer: id.Rank(peer)})
		} else {
			steps = append(steps, Step{K: k, Role: RoleSkip})
		}
	}
	return steps
}

// ReversedReducePlan mirrors rank across the fleet (r' = fleetSize-1-r)
// and runs ReducePlan there, translating peers back — this is the
// "reversed tree rooted at rank N-1" spec.md §4.3.2 asks for.
func ReversedReducePlan(rank id.Rank, fleetSize int) []Step {
	mirrored := ReducePlan(id.Rank(fleetSize-1-int(rank)), fleetSize)
	steps := make([]Step, len(mirrored))
	for i, s := range mirrored {
		s.Peer = id.Rank(fleetSize - 1 - int(s.Peer))
		steps[i] = s
	}
	return steps
}

// BroadcastPlan is a ReducePlan's mirror image: the same steps in
// descending order, with Send and Receive swapped — the root's final
// value flows back down exactly the path the contributions climbed.
func BroadcastPlan(reduce []Step) []Step {
	steps := make([]Step, len(reduce))
	for i, s := range reduce {
		switch s.Role {
		case RoleSend:
			s.Role = RoleReceive
		case RoleReceive:
			s.Role = RoleSend
		}
		steps[len(reduce)-1-i] = s
	}
	return steps
}

// Contribution is one rank's payload at a reduction step: Present
// distinguishes "nothing to contribute" (this rank excludes itself)
// from a zero-valued contribution, matching spec.md's "ranks with
// empty contributions exclude themselves and propagate exclusion".
type Contribution struct {
	Present bool
	Data    []byte
}

// MergeFunc combines two present contributions into one.
type MergeFunc func(a, b []byte) []byte

// Reduction drives a rank through a ReducePlan (or ReversedReducePlan)
// step by step. Callers poll Action; when it says to send, they ship
// Outgoing() to Peer and call Advance(); when it says to receive, they
// call Deliver once the peer's message has arrived.
type Reduction struct {
	steps  []Step
	merge  MergeFunc
	idx    int
	value  Contribution
	done   bool
	isRoot bool
}

// NewReduction seeds a reduction with this rank's own local
// contribution and the plan it should follow.
func NewReduction(plan []Step, merge MergeFunc, local Contribution) *Reduction {
	r := &Reduction{steps: plan, merge: merge, value: local}
	if len(plan) == 0 {
		r.done = true
		r.isRoot = true
	}
	return r
}

// ActionKind is what the caller must do next.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSend
	ActionAwaitReceive
	ActionDone
)

// Action reports the next thing the caller owes this reduction.
type Action struct {
	Kind ActionKind
	Peer id.Rank
}

// NextAction inspects the current step without mutating state.
func (r *Reduction) NextAction() Action {
	if r.done {
		return Action{Kind: ActionDone}
	}
	step := r.steps[r.idx]
	switch step.Role {
	case RoleSend:
		return Action{Kind: ActionSend, Peer: step.Peer}
	case RoleReceive:
		return Action{Kind: ActionAwaitReceive, Peer: step.Peer}
	default: // RoleSkip
		return Action{Kind: ActionNone}
	}
}

// Outgoing returns the contribution to send when NextAction is
// ActionSend.
func (r *Reduction) Outgoing() Contribution { return r.value }

// Deliver applies an incoming contribution for the current
// ActionAwaitReceive step and advances.
func (r *Reduction) Deliver(c Contribution) {
	if r.value.Present && c.Present {
		r.value.Data = r.merge(r.value.Data, c.Data)
	} else if c.Present {
		r.value = c
	}
	r.advance()
}

// Advance moves past a RoleSend or RoleSkip step (call after sending,
// or to skip a step with no partner).
func (r *Reduction) Advance() {
	r.advance()
}

func (r *Reduction) advance() {
	if r.done {
		return
	}
	step := r.steps[r.idx]
	r.idx++
	if step.Role == RoleSend {
		r.done = true
		r.isRoot = false
		return
	}
	if r.idx >= len(r.steps) {
		r.done = true
		r.isRoot = true
	}
}

// Done reports whether the reduction has finished — either by sending
// its contribution up (a non-root leaf) or by reaching the root.
func (r *Reduction) Done() bool { return r.done }

// IsRoot reports whether this rank ended up as the reduction's root
// (it never sent) — only meaningful once Done reports true.
func (r *Reduction) IsRoot() bool { return r.isRoot }

// Result returns the accumulated contribution. Only meaningful once
// Done and IsRoot both report true.
func (r *Reduction) Result() Contribution { return r.value }
