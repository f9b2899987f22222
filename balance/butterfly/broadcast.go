package butterfly

// Broadcast drives a rank through a BroadcastPlan, carrying the root's
// final value back down the same tree the reduction climbed.
type Broadcast struct {
	steps []Step
	idx   int
	value Contribution
	done  bool
}

// NewBroadcast seeds a broadcast. Only the reduction's root calls this
// with a Present value already in hand; every other rank seeds it
// empty and waits for the first ActionAwaitReceive to fill it in.
func NewBroadcast(plan []Step, value Contribution) *Broadcast {
	b := &Broadcast{steps: plan, value: value}
	if len(plan) == 0 {
		b.done = true
	}
	return b
}

// NextAction reports the next thing the caller owes this broadcast.
func (b *Broadcast) NextAction() Action {
	if b.done {
		return Action{Kind: ActionDone}
	}
	step := b.steps[b.idx]
	switch step.Role {
	case RoleSend:
		return Action{Kind: ActionSend, Peer: step.Peer}
	case RoleReceive:
		return Action{Kind: ActionAwaitReceive, Peer: step.Peer}
	default:
		return Action{Kind: ActionNone}
	}
}

// Outgoing returns the value to forward when NextAction is ActionSend.
func (b *Broadcast) Outgoing() Contribution { return b.value }

// Deliver applies the broadcast value received from the current step's
// peer and advances.
func (b *Broadcast) Deliver(c Contribution) {
	b.value = c
	b.advance()
}

// Advance moves past a RoleSend or RoleSkip step.
func (b *Broadcast) Advance() { b.advance() }

func (b *Broadcast) advance() {
	if b.done {
		return
	}
	b.idx++
	if b.idx >= len(b.steps) {
		b.done = true
	}
}

// Done reports whether the broadcast has delivered the value to this
// rank's entire remaining subtree (from this rank's perspective: it
// has both received, if needed, and forwarded, if needed).
func (b *Broadcast) Done() bool { return b.done }

// Result returns the broadcast value once Done reports true.
func (b *Broadcast) Result() Contribution { return b.value }
