package worker

import (
	log "github.com/sirupsen/logrus"

	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/placement"
	"github.com/twitter/fleet/transport"
)

// epochSource adapts Worker to placement.EpochSource.
type epochSource struct{ w *Worker }

func (e epochSource) CurrentEpoch(jobId id.JobId) int {
	if f, ok := e.w.fragments[jobId]; ok {
		return f.epoch
	}
	return -1 // unknown: IsObsolete only drops when a *newer* epoch is already known
}

func (e epochSource) IsPast(jobId id.JobId) bool {
	f, ok := e.w.fragments[jobId]
	return ok && f.job.State() == jobtree.Past
}

func (w *Worker) candidateState(req placement.JobRequest) placement.CandidateState {
	for jobID, f := range w.fragments {
		if jobID == req.JobId {
			continue
		}
		switch f.job.State() {
		case jobtree.Committed, jobtree.Active, jobtree.Suspended:
			return placement.CandidateState{
				Idle:            false,
				HasCommitments:  true,
				CurrentActive:   f.job.State() == jobtree.Active || f.job.State() == jobtree.Suspended,
				CurrentIsRoot:   f.job.Index.IsRoot(),
				CurrentHasLeft:  f.job.HasLeftChild(),
				CurrentHasRight: f.job.HasRightChild(),
			}
		}
	}
	return placement.CandidateState{Idle: true}
}

// handleFindNode implements worker.cpp's handleFindNode: evaluate the
// bounced request against this rank's own availability, then adopt,
// preempt, bounce onward, or drop.
func (w *Worker) handleFindNode(env transport.Envelope) {
	var req placement.JobRequest
	if err := transport.Decode(env, &req); err != nil {
		return
	}
	if placement.IsObsolete(req, epochSource{w}) {
		return
	}

	switch placement.Evaluate(req, w.cfg.FleetSize, w.candidateState(req)) {
	case placement.DecisionAdopt:
		w.adopt(req)
	case placement.DecisionPreempt:
		w.preemptCurrentAndAdopt(req)
	case placement.DecisionBounce:
		next := w.bounce.Next(req, env.SrcRank, w.rank, w.cfg.FleetSize)
		w.send(next, transport.FindNode, placement.Bounce(req))
	case placement.DecisionDrop:
		log.WithFields(log.Fields{"job": req.JobId, "index": req.RequestedIndex}).Debug("dropping placement request")
	}
}

func (w *Worker) adopt(req placement.JobRequest) {
	f := w.newFragment(req.JobId, req.RequestedIndex)
	f.epoch = req.Epoch
	if err := f.job.Commit(req.RootRank, req.RequestingNodeRank); err != nil {
		log.WithError(err).Warn("worker: commit on adopt failed")
		delete(w.fragments, req.JobId)
		return
	}
	w.send(req.RequestingNodeRank, transport.RequestBecomeChild, req)
}

func (w *Worker) preemptCurrentAndAdopt(req placement.JobRequest) {
	for jobID, f := range w.fragments {
		if jobID == req.JobId {
			continue
		}
		if f.job.State() == jobtree.Active {
			f.job.Suspend()
		}
		if f.job.ParentRank != id.NoRank {
			w.send(f.job.ParentRank, transport.WorkerDefecting, placement.Defection{JobId: f.job.Id, Index: f.job.Index})
		}
		f.job.Terminate()
		delete(w.fragments, jobID)
	}
	w.adopt(req)
}

// handleRequestBecomeChild is the parent side: the candidate named in
// req has committed and is requesting confirmation. The parent offers
// its JobSignature for the handshake's transfer-need decision.
func (w *Worker) handleRequestBecomeChild(env transport.Envelope) {
	var req placement.JobRequest
	if err := transport.Decode(env, &req); err != nil {
		return
	}
	parent, ok := w.fragments[req.JobId]
	if !ok || parent.job.Description == nil {
		w.send(env.SrcRank, transport.RejectBecomeChild, req)
		return
	}
	sig := placement.JobSignature{
		JobId:        req.JobId,
		RootRank:     parent.job.RootRank,
		Revision:     parent.job.Description.Revision,
		TransferSize: len(parent.job.Description.Payload),
	}
	w.registerChild(parent, req, env.SrcRank)
	parent.pendingRequest = nil
	w.send(env.SrcRank, transport.AcceptBecomeChild, sig)
}

func (w *Worker) registerChild(parent *fragment, req placement.JobRequest, childRank id.Rank) {
	if req.RequestedIndex == parent.job.Index.LeftChild() {
		parent.job.SetLeftChild(childRank)
	} else if req.RequestedIndex == parent.job.Index.RightChild() {
		parent.job.SetRightChild(childRank)
	}
}

// handleAcceptBecomeChild is the candidate side: the parent confirmed
// and offered its signature. DecideAck reuses the transfer-need
// machinery the original description handshake already established.
func (w *Worker) handleAcceptBecomeChild(env transport.Envelope) {
	var sig placement.JobSignature
	if err := transport.Decode(env, &sig); err != nil {
		return
	}
	f, ok := w.fragments[sig.JobId]
	if !ok {
		return
	}
	f.job.UpdateTree(sig.RootRank, f.job.ParentRank)
	ack := placement.DecideAck(sig, f.job.Description != nil, knownRevision(f.job))
	w.send(env.SrcRank, transport.AckAcceptBecomeChild, ack)
}

func knownRevision(j *jobtree.Job) int {
	if j.Description == nil {
		return -1
	}
	return j.Description.Revision
}

func (w *Worker) handleRejectBecomeChild(env transport.Envelope) {
	var req placement.JobRequest
	if err := transport.Decode(env, &req); err != nil {
		return
	}
	if f, ok := w.fragments[req.JobId]; ok {
		f.job.Uncommit()
		delete(w.fragments, req.JobId)
	}
}

// handleAckAcceptBecomeChild is the parent side of step 2: send the
// full description only if the child doesn't already hold a matching
// revision.
func (w *Worker) handleAckAcceptBecomeChild(env transport.Envelope) {
	var ack placement.AckStep
	if err := transport.Decode(env, &ack); err != nil {
		return
	}
	parent, ok := w.fragments[ack.Signature.JobId]
	if !ok || parent.job.Description == nil {
		return
	}
	if !ack.NeedsTransfer {
		return
	}
	w.send(env.SrcRank, transport.SendJobDescription, jobDescriptionMsg{
		JobId:       ack.Signature.JobId,
		Description: *parent.job.Description,
	})
}

// jobDescriptionMsg pairs a Description with the job it belongs to:
// jobtree.Description itself carries no identity, since a fragment
// already knows its own job id everywhere else it's held locally.
type jobDescriptionMsg struct {
	JobId       id.JobId
	Description jobtree.Description
}

// handleSendJobDescription is the candidate side of step 3: the
// description has arrived, so the fragment starts and gets a solver.
func (w *Worker) handleSendJobDescription(env transport.Envelope) {
	var msg jobDescriptionMsg
	if err := transport.Decode(env, &msg); err != nil {
		return
	}
	f, ok := w.fragments[msg.JobId]
	if !ok {
		return
	}
	desc := msg.Description
	if f.job.State() == jobtree.Suspended {
		f.job.Resume()
	}
	if f.job.Description != nil {
		f.job.Description = &desc
		return
	}
	if err := f.job.Start(&desc); err != nil {
		log.WithError(err).Warn("worker: start on description arrival failed")
		return
	}
	w.attachSolver(f)
}

// handleWorkerDefecting is the parent side: a child (preempted or
// terminated elsewhere) is vacating an index; re-mint a request to
// refill it.
func (w *Worker) handleWorkerDefecting(env transport.Envelope) {
	var def placement.Defection
	if err := transport.Decode(env, &def); err != nil {
		return
	}
	parent, ok := w.fragments[def.JobId]
	if !ok {
		return
	}
	if def.Index == parent.job.Index.LeftChild() {
		parent.job.UnsetLeftChild()
	} else if def.Index == parent.job.Index.RightChild() {
		parent.job.UnsetRightChild()
	}
	w.mintRequest(parent, def.Index)
}

// mintRequest starts a fresh FIND_NODE search for the vacant index,
// the way a balancer-driven volume increase does.
func (w *Worker) mintRequest(parent *fragment, index id.TreeIndex) {
	parent.epoch++
	req := placement.JobRequest{
		RequestId:          placement.NewRequestId(),
		JobId:              parent.job.Id,
		RequestedIndex:     index,
		RequestingNodeRank: w.rank,
		RootRank:           parent.job.RootRank,
		Epoch:              parent.epoch,
		TimeOfBirth:        w.clock.Elapsed(),
	}
	if index.IsRoot() {
		req.RootRank = w.rank
	}
	parent.pendingRequest = &req
	next := w.bounce.Next(req, w.rank, w.rank, w.cfg.FleetSize)
	w.send(next, transport.FindNode, req)
}
