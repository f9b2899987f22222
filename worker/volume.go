package worker

import (
	"github.com/twitter/fleet/balance"
	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/transport"
)

// balancerKind tags a Collectives payload with which of the two
// balancer variants it belongs to, since balance/cutoff.OutMessage
// and balance/eventdriven.OutMessage carry no such marker themselves.
type balancerKind int

const (
	kindCutoff balancerKind = iota
	kindEvent
)

type collectivesMsg struct {
	Kind    balancerKind
	Payload []byte
}

// rootedDemandsAndPriorities gathers the demand/priority of every job
// this rank roots, the input a balancing round needs, per
// continueBalancing's "jobs this node is the root of" scope.
func (w *Worker) rootedDemandsAndPriorities() (map[id.JobId]int, map[id.JobId]float64) {
	demands := make(map[id.JobId]int)
	priorities := make(map[id.JobId]float64)
	for jobID, f := range w.fragments {
		if !f.job.Index.IsRoot() {
			continue
		}
		if f.job.Description == nil {
			continue
		}
		switch f.job.State() {
		case jobtree.Active, jobtree.Suspended:
		default:
			continue
		}
		demands[jobID] = f.job.Demand(f.job.Volume)
		priorities[jobID] = f.job.Description.Priority
	}
	return demands, priorities
}

// driveBalancers advances whichever balancer config.BalancerKind
// selects, the way worker.cpp's advanceBalancing dispatches to exactly
// one configured strategy per process.
func (w *Worker) driveBalancers() bool {
	if w.cfg.BalancerKind == "eventdriven" {
		return w.driveEventBalancer()
	}
	return w.driveCutoffBalancer()
}

func (w *Worker) driveCutoffBalancer() bool {
	progressed := false
	if !w.cutoffActive {
		demands, priorities := w.rootedDemandsAndPriorities()
		if len(demands) > 0 && w.cutoffBalancer.ReadyToBegin() {
			done := w.cutoffBalancer.Begin(demands, priorities)
			w.cutoffActive = !done
			progressed = true
			if done {
				w.applyBalancerResult(w.cutoffBalancer.GetResult())
			}
		}
	} else if w.cutoffBalancer.CanContinue() {
		done := w.cutoffBalancer.Continue()
		progressed = true
		w.cutoffActive = !done
		if done {
			w.applyBalancerResult(w.cutoffBalancer.GetResult())
		}
	}
	for _, m := range w.cutoffBalancer.DrainOutbox() {
		w.send(m.To, transport.Collectives, collectivesMsg{Kind: kindCutoff, Payload: m.Payload})
		progressed = true
	}
	return progressed
}

func (w *Worker) driveEventBalancer() bool {
	progressed := false
	if !w.eventActive {
		demands, priorities := w.rootedDemandsAndPriorities()
		done := w.eventBalancer.Begin(demands, priorities)
		w.eventActive = !done
		if !done {
			progressed = true
		}
		if done {
			w.applyBalancerResult(w.eventBalancer.GetResult())
		}
	} else if w.eventBalancer.CanContinue() {
		done := w.eventBalancer.Continue()
		progressed = true
		w.eventActive = !done
		if done {
			w.applyBalancerResult(w.eventBalancer.GetResult())
		}
	}
	for _, m := range w.eventBalancer.DrainOutbox() {
		w.send(m.To, transport.Collectives, collectivesMsg{Kind: kindEvent, Payload: m.Payload})
		progressed = true
	}
	return progressed
}

// handleCollectives feeds an incoming balancing payload into whichever
// balancer variant it's tagged for, regardless of which transport.Tag
// carried it here (FIND_NODE-style flooding and the two all-reduce
// trees all funnel through the same Continue machinery).
func (w *Worker) handleCollectives(env transport.Envelope) {
	var msg collectivesMsg
	if err := transport.Decode(env, &msg); err != nil {
		return
	}
	switch msg.Kind {
	case kindCutoff:
		done := w.cutoffBalancer.ContinueWithMessage(env.SrcRank, msg.Payload)
		w.cutoffActive = !done
		if done {
			w.applyBalancerResult(w.cutoffBalancer.GetResult())
		}
		for _, m := range w.cutoffBalancer.DrainOutbox() {
			w.send(m.To, transport.Collectives, collectivesMsg{Kind: kindCutoff, Payload: m.Payload})
		}
	case kindEvent:
		done := w.eventBalancer.ContinueWithMessage(env.SrcRank, msg.Payload)
		w.eventActive = !done
		if done {
			w.applyBalancerResult(w.eventBalancer.GetResult())
		}
		for _, m := range w.eventBalancer.DrainOutbox() {
			w.send(m.To, transport.Collectives, collectivesMsg{Kind: kindEvent, Payload: m.Payload})
		}
	}
}

// applyBalancerResult applies a completed round's volumes to every
// root fragment it names, starting the flood-down propagation that
// implements spec.md §4.5.
func (w *Worker) applyBalancerResult(result balance.Result) {
	for jobID, volume := range result {
		if f, ok := w.fragments[jobID]; ok {
			w.setVolume(f, volume)
		}
	}
}

// volumeMsg is UPDATE_VOLUME's / QUERY_VOLUME's payload: the volume a
// parent has decided (or a child is reporting back) for one job.
type volumeMsg struct {
	JobId  id.JobId
	Volume int
}

func (w *Worker) handleUpdateVolume(env transport.Envelope) {
	var msg volumeMsg
	if err := transport.Decode(env, &msg); err != nil {
		return
	}
	if f, ok := w.fragments[msg.JobId]; ok {
		w.setVolume(f, msg.Volume)
	}
}

func (w *Worker) handleQueryVolume(env transport.Envelope) {
	var msg volumeMsg
	if err := transport.Decode(env, &msg); err != nil {
		return
	}
	if f, ok := w.fragments[msg.JobId]; ok {
		w.send(env.SrcRank, transport.UpdateVolume, volumeMsg{JobId: msg.JobId, Volume: f.job.Volume})
	}
}

// setVolume applies a newly known volume to f: suspend this fragment
// if its own tree index falls outside it, resume it if not, and flood
// the same decision down to its children — growing new ones, pruning
// vacated ones — per spec.md §4.5.
func (w *Worker) setVolume(f *fragment, volume int) {
	if volume == f.job.Volume {
		return
	}
	f.job.Volume = volume
	w.applyLocalVolume(f)
	w.propagateVolumeToChildren(f)
}

func (w *Worker) applyLocalVolume(f *fragment) {
	idx := int(f.job.Index)
	switch f.job.State() {
	case jobtree.Active:
		if idx >= f.job.Volume {
			f.job.Suspend()
			if f.solver != nil {
				f.solver.Suspend()
			}
		}
	case jobtree.Suspended:
		if idx < f.job.Volume {
			f.job.Resume()
			if f.solver != nil {
				f.solver.Resume()
			}
		}
	}
}

func (w *Worker) propagateVolumeToChildren(f *fragment) {
	w.reconcileChild(f, f.job.Index.LeftChild(), f.job.HasLeftChild(), f.job.LeftChildRank)
	w.reconcileChild(f, f.job.Index.RightChild(), f.job.HasRightChild(), f.job.RightChildRank)
}

// reconcileChild either mints a request for a newly-in-budget index
// that has no occupant yet, or forwards the volume decision to an
// existing child so it can suspend/prune itself once it falls out of
// budget — a child never learns it's unwanted except by being told.
func (w *Worker) reconcileChild(f *fragment, childIdx id.TreeIndex, has bool, childRank id.Rank) {
	needed := int(childIdx) < f.job.Volume
	switch {
	case needed && !has:
		w.mintRequest(f, childIdx)
	case has:
		w.send(childRank, transport.UpdateVolume, volumeMsg{JobId: f.job.Id, Volume: f.job.Volume})
	}
}

// applyVolumeUpdates retries any FIND_NODE this rank minted that has
// gone unanswered past one cutoff period, the way worker.cpp re-floods
// a job request a lost or slow reply left hanging — a bounced
// request's minter can't distinguish "still in flight" from "dropped".
func (w *Worker) applyVolumeUpdates() bool {
	progressed := false
	for _, f := range w.fragments {
		if f.pendingRequest == nil {
			continue
		}
		if w.clock.Elapsed()-f.pendingRequest.TimeOfBirth < w.cfg.CutoffPeriod.Seconds() {
			continue
		}
		req := *f.pendingRequest
		req.NumHops = 0
		req.TimeOfBirth = w.clock.Elapsed()
		f.pendingRequest = &req
		next := w.bounce.Next(req, w.rank, w.rank, w.cfg.FleetSize)
		w.send(next, transport.FindNode, req)
		progressed = true
	}
	return progressed
}
