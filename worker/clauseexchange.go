package worker

import (
	"bytes"
	"encoding/gob"

	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/transport"
)

// driveClauseExchange fires one round of clause sharing for every
// locally active leaf fragment (one with no children) when the
// configured period ticks, per sat_clause_communicator.cpp's periodic
// initiateCommunication call. Fragments with children contribute their
// own clauses when they merge their children's gathers.
func (w *Worker) driveClauseExchange() bool {
	progressed := false
	select {
	case <-w.clauseExchangeTicker.C():
		for _, f := range w.fragments {
			if f.comm == nil || f.job.State() != jobtree.Active || f.job.HasLeftChild() || f.job.HasRightChild() {
				continue
			}
			f.commEpoch++
			f.comm.InitiateCommunication(f.commEpoch)
			for _, m := range f.comm.DrainOutbox() {
				w.send(m.To, transport.JobCommunication, m.Payload)
			}
			progressed = true
		}
	default:
	}
	return progressed
}

// handleJobCommunication routes an incoming gather/distribute message
// to the fragment it names. The job id travels inside the
// clauseshare-internal, unexported wireMessage, so it's peeked by
// decoding only the field this package needs to know about.
func (w *Worker) handleJobCommunication(env transport.Envelope) {
	var payload []byte
	if err := transport.Decode(env, &payload); err != nil {
		return
	}
	jobID, ok := peekJobId(payload)
	if !ok {
		return
	}
	f, ok := w.fragments[jobID]
	if !ok || f.comm == nil {
		return
	}
	f.comm.ContinueCommunication(payload)
	for _, m := range f.comm.DrainOutbox() {
		w.send(m.To, transport.JobCommunication, m.Payload)
	}
}

func peekJobId(payload []byte) (id.JobId, bool) {
	var v struct{ JobId id.JobId }
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&v); err != nil {
		return 0, false
	}
	return v.JobId, true
}
