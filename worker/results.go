package worker

import (
	log "github.com/sirupsen/logrus"

	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/transport"
)

// driveResults polls every solving fragment's result channel and, on
// arrival, starts that result's trip toward the client: straight to
// delivery if this fragment is its job's root, otherwise one hop
// toward the root via WORKER_FOUND_RESULT.
func (w *Worker) driveResults() bool {
	progressed := false
	for jobID, f := range w.fragments {
		if f.resultCh == nil {
			continue
		}
		select {
		case r, ok := <-f.resultCh:
			if !ok {
				f.resultCh = nil
				continue
			}
			f.solving = false
			f.resultCh = nil
			res := transport.NewJobResult(jobID, revisionOf(f.job), r)
			w.onResultFound(f, res)
			progressed = true
		default:
		}
	}
	return progressed
}

func revisionOf(j *jobtree.Job) int {
	if j.Description == nil {
		return 0
	}
	return j.Description.Revision
}

func (w *Worker) onResultFound(f *fragment, res transport.JobResult) {
	if f.job.State() == jobtree.Active {
		f.job.Stop()
	}
	if f.job.Index.IsRoot() {
		w.deliverResult(f, res)
		return
	}
	if f.job.ParentRank != id.NoRank {
		w.send(f.job.ParentRank, transport.WorkerFoundResult, res)
	}
}

// handleWorkerFoundResult is every ancestor's relay step: a
// descendant's result arrived, so either deliver it (this fragment is
// the root) or bounce it up one more hop.
func (w *Worker) handleWorkerFoundResult(env transport.Envelope) {
	var res transport.JobResult
	if err := transport.Decode(env, &res); err != nil {
		return
	}
	f, ok := w.fragments[res.JobId]
	if !ok {
		return
	}
	if f.job.Index.IsRoot() {
		w.deliverResult(f, res)
		return
	}
	if f.job.ParentRank != id.NoRank {
		w.send(f.job.ParentRank, transport.WorkerFoundResult, res)
	}
}

// deliverResult is only meaningful at a job's root fragment: it hands
// the result to the known client rank (per jobtree.Description.
// ClientRank) and to every rank that queried for it while the search
// was still running.
func (w *Worker) deliverResult(f *fragment, res transport.JobResult) {
	f.result = &res
	if f.job.Description != nil && f.job.Description.ClientRank != id.NoRank {
		w.send(f.job.Description.ClientRank, transport.SendJobResult, res)
	}
	for _, waiter := range f.resultWaiters {
		w.send(waiter, transport.SendJobResult, res)
	}
	f.resultWaiters = nil
}

// resultQuery is QUERY_JOB_RESULT's and FORWARD_CLIENT_RANK's shared
// payload: who's asking, relayed hop by hop toward the root the same
// way WORKER_FOUND_RESULT relays a result up to the root.
type resultQuery struct {
	JobId     id.JobId
	AskerRank id.Rank
}

func (w *Worker) handleQueryJobResult(env transport.Envelope) {
	var jobID id.JobId
	if err := transport.Decode(env, &jobID); err != nil {
		return
	}
	w.routeResultQuery(resultQuery{JobId: jobID, AskerRank: env.SrcRank})
}

func (w *Worker) handleForwardClientRank(env transport.Envelope) {
	var q resultQuery
	if err := transport.Decode(env, &q); err != nil {
		return
	}
	w.routeResultQuery(q)
}

func (w *Worker) routeResultQuery(q resultQuery) {
	f, ok := w.fragments[q.JobId]
	if !ok {
		log.WithField("job", q.JobId).Debug("worker: result query for unknown job, dropping")
		return
	}
	if f.job.Index.IsRoot() {
		if f.result != nil {
			w.send(q.AskerRank, transport.SendJobResult, *f.result)
		} else {
			f.resultWaiters = append(f.resultWaiters, q.AskerRank)
		}
		return
	}
	if f.job.ParentRank != id.NoRank {
		w.send(f.job.ParentRank, transport.ForwardClientRank, q)
	}
}

// handleSendJobResult is the client-facing rank's side: a result it
// asked about (or was named to receive) has arrived.
func (w *Worker) handleSendJobResult(env transport.Envelope) {
	var res transport.JobResult
	if err := transport.Decode(env, &res); err != nil {
		return
	}
	w.deliveredResults[res.JobId] = res
	log.WithFields(log.Fields{"job": res.JobId, "verdict": res.Verdict}).Info("worker: job result delivered")
}

// Result returns a delivered result for jobID, if one has arrived at
// this rank, for a caller (e.g. cmd/fleetd's client-facing API) polling
// for completion.
func (w *Worker) Result(jobID id.JobId) (transport.JobResult, bool) {
	r, ok := w.deliveredResults[jobID]
	return r, ok
}

func (w *Worker) handleTerminate(env transport.Envelope) {
	var jobID id.JobId
	if err := transport.Decode(env, &jobID); err != nil {
		return
	}
	w.terminateFragment(jobID)
}

// terminateFragment floods TERMINATE down to any children before
// tearing down the local fragment, mirroring the same top-down
// propagation UPDATE_VOLUME uses.
func (w *Worker) terminateFragment(jobID id.JobId) {
	f, ok := w.fragments[jobID]
	if !ok {
		return
	}
	if f.job.HasLeftChild() {
		w.send(f.job.LeftChildRank, transport.Terminate, jobID)
	}
	if f.job.HasRightChild() {
		w.send(f.job.RightChildRank, transport.Terminate, jobID)
	}
	if f.solver != nil {
		f.solver.Interrupt()
	}
	f.job.Terminate()
	delete(w.fragments, jobID)
}

func (w *Worker) handleInterrupt(env transport.Envelope) {
	var jobID id.JobId
	if err := transport.Decode(env, &jobID); err != nil {
		return
	}
	f, ok := w.fragments[jobID]
	if !ok {
		return
	}
	if f.solver != nil {
		f.solver.Interrupt()
	}
}
