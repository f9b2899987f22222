package worker

import (
	"testing"
	"time"

	"github.com/twitter/fleet/clock"
	"github.com/twitter/fleet/config"
	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/placement"
	"github.com/twitter/fleet/solver"
	"github.com/twitter/fleet/stats"
	"github.com/twitter/fleet/transport"
)

func fakeFactory() SolverFactory {
	return func(jobID id.JobId) solver.Solver { return solver.NewFake() }
}

// pump drains and dispatches whatever's waiting on each worker's
// endpoint until nothing progresses for a few consecutive rounds,
// driving a full handshake across a shared fabric the way Step would,
// without the rest of Step's balancer/result/backoff machinery.
func pump(workers []*Worker) {
	idle := 0
	for idle < 20 {
		progressed := false
		for _, w := range workers {
			if env, ok := w.endpoint.TryRecv(); ok {
				w.dispatch(env)
				progressed = true
			}
		}
		if progressed {
			idle = 0
		} else {
			idle++
			time.Sleep(time.Millisecond)
		}
	}
}

func TestAdoptionHandshakeGrowsAChild(t *testing.T) {
	fabric := transport.NewFabric(2)
	clk := clock.NewFake(time.Unix(0, 0))
	cfg := config.Default()
	cfg.FleetSize = 2

	w0 := New(0, fabric.Endpoint(0), cfg, clk, fakeFactory(), stats.NilStatsReceiver(), placement.Randomized{})
	w1 := New(1, fabric.Endpoint(1), cfg, clk, fakeFactory(), stats.NilStatsReceiver(), placement.Randomized{})

	jobID := id.JobId(42)
	desc := &jobtree.Description{Priority: 1, ClientRank: id.NoRank}
	if err := w0.SubmitRoot(jobID, desc); err != nil {
		t.Fatalf("SubmitRoot: %v", err)
	}

	f0 := w0.fragments[jobID]
	w0.setVolume(f0, 2) // covers index 0 (this rank) and index 1 (needs a child)

	pump([]*Worker{w0, w1})

	if !f0.job.HasLeftChild() {
		t.Fatalf("expected rank 0's job to have adopted a left child")
	}
	if f0.job.LeftChildRank != id.Rank(1) {
		t.Fatalf("expected the left child to be rank 1, got %d", f0.job.LeftChildRank)
	}

	f1, ok := w1.fragments[jobID]
	if !ok {
		t.Fatalf("expected rank 1 to have adopted fragment for job %d", jobID)
	}
	if f1.job.Index != id.TreeIndex(1) {
		t.Fatalf("expected rank 1's fragment to be tree index 1, got %d", f1.job.Index)
	}
	if f1.job.State() != jobtree.Active {
		t.Fatalf("expected rank 1's fragment to be ACTIVE once the description arrived, got %s", f1.job.State())
	}
	if f1.job.Description == nil || f1.job.Description.Priority != desc.Priority {
		t.Fatalf("expected rank 1's fragment to carry the transferred description")
	}
}

func TestDefectionRemintsTheVacantIndex(t *testing.T) {
	fabric := transport.NewFabric(3)
	clk := clock.NewFake(time.Unix(0, 0))
	cfg := config.Default()
	cfg.FleetSize = 3

	w0 := New(0, fabric.Endpoint(0), cfg, clk, fakeFactory(), stats.NilStatsReceiver(), placement.Randomized{})
	w1 := New(1, fabric.Endpoint(1), cfg, clk, fakeFactory(), stats.NilStatsReceiver(), placement.Randomized{})
	w2 := New(2, fabric.Endpoint(2), cfg, clk, fakeFactory(), stats.NilStatsReceiver(), placement.Randomized{})

	jobID := id.JobId(7)
	desc := &jobtree.Description{Priority: 1, ClientRank: id.NoRank}
	if err := w0.SubmitRoot(jobID, desc); err != nil {
		t.Fatalf("SubmitRoot: %v", err)
	}

	f0 := w0.fragments[jobID]
	w0.setVolume(f0, 2)
	pump([]*Worker{w0, w1, w2})

	if !f0.job.HasLeftChild() {
		t.Fatalf("expected a left child to have been adopted before defection")
	}
	childRank := f0.job.LeftChildRank

	var child *Worker
	switch childRank {
	case 1:
		child = w1
	case 2:
		child = w2
	default:
		t.Fatalf("unexpected child rank %d", childRank)
	}
	childFrag, ok := child.fragments[jobID]
	if !ok {
		t.Fatalf("expected the adopted child to hold the fragment")
	}

	child.send(f0.job.RootRank, transport.WorkerDefecting, placement.Defection{JobId: jobID, Index: childFrag.job.Index})
	delete(child.fragments, jobID)

	pump([]*Worker{w0, w1, w2})

	if !f0.job.HasLeftChild() {
		t.Fatalf("expected a fresh child to have been re-adopted after defection")
	}
}
