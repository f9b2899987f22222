package worker

import (
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/twitter/fleet/clock"
	"github.com/twitter/fleet/config"
	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/placement"
	"github.com/twitter/fleet/solver"
	"github.com/twitter/fleet/stats"
	"github.com/twitter/fleet/transport"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	fabric := transport.NewFabric(1)
	return New(0, fabric.Endpoint(0), config.Default(), clock.NewFake(time.Unix(0, 0)), nil, stats.NilStatsReceiver(), placement.Randomized{})
}

// recvEventually polls ep.TryRecv a bounded number of times, since
// Endpoint.Send delivers asynchronously via its own goroutine.
func recvEventually(t *testing.T, ep *transport.Endpoint) (transport.Envelope, bool) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if env, ok := ep.TryRecv(); ok {
			return env, true
		}
		time.Sleep(time.Millisecond)
	}
	return transport.Envelope{}, false
}

// activeFragment builds a fragment already past COMMITTED/ACTIVE, with
// the given solver attached directly, bypassing attachSolver (which
// would call the worker's SolverFactory) so a test double can be
// substituted.
func activeFragment(t *testing.T, w *Worker, jobID id.JobId, sv solver.Solver) *fragment {
	t.Helper()
	f := w.newFragment(jobID, id.RootIndex)
	if err := f.job.Commit(id.NoRank, id.NoRank); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := f.job.Start(&jobtree.Description{Priority: 1, ClientRank: id.NoRank}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.solver = sv
	return f
}

func TestTerminateFragmentInterruptsSolverExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := newTestWorker(t)
	mock := NewMockSolver(ctrl)
	mock.EXPECT().Interrupt().Times(1)

	f := activeFragment(t, w, id.JobId(1), mock)

	w.terminateFragment(f.job.Id)

	if _, ok := w.fragments[f.job.Id]; ok {
		t.Fatalf("expected fragment to be removed after termination")
	}
	if f.job.State() != jobtree.Past {
		t.Fatalf("expected job to reach PAST, got %s", f.job.State())
	}
}

func TestTerminateFragmentFloodsChildrenFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fabric := transport.NewFabric(3)
	w := New(0, fabric.Endpoint(0), config.Default(), clock.NewFake(time.Unix(0, 0)), nil, stats.NilStatsReceiver(), placement.Randomized{})

	mock := NewMockSolver(ctrl)
	mock.EXPECT().Interrupt().Times(1)

	f := activeFragment(t, w, id.JobId(2), mock)
	f.job.SetLeftChild(id.Rank(1))
	f.job.SetRightChild(id.Rank(2))

	w.terminateFragment(f.job.Id)

	for _, rank := range []id.Rank{1, 2} {
		env, ok := recvEventually(t, fabric.Endpoint(rank))
		if !ok {
			t.Fatalf("expected TERMINATE flooded to child rank %d", rank)
		}
		if env.Tag != transport.Terminate {
			t.Fatalf("expected TERMINATE tag to rank %d, got %v", rank, env.Tag)
		}
	}
}

func TestApplyLocalVolumeSuspendsAndResumes(t *testing.T) {
	w := newTestWorker(t)
	f := w.newFragment(id.JobId(3), id.RootIndex)
	if err := f.job.Commit(id.NoRank, id.NoRank); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := f.job.Start(&jobtree.Description{Priority: 1}); err != nil {
		t.Fatalf("start: %v", err)
	}

	w.setVolume(f, 0)
	if f.job.State() != jobtree.Suspended {
		t.Fatalf("expected job suspended at volume 0, got %s", f.job.State())
	}

	w.setVolume(f, 1)
	if f.job.State() != jobtree.Active {
		t.Fatalf("expected job resumed once volume covers index 0, got %s", f.job.State())
	}
}

func TestCandidateStateReportsIdleWithNoOtherJob(t *testing.T) {
	w := newTestWorker(t)
	req := placement.JobRequest{JobId: id.JobId(99)}
	st := w.candidateState(req)
	if !st.Idle {
		t.Fatalf("expected idle with no fragments tracked, got %+v", st)
	}
}

func TestCandidateStateIgnoresTheRequestsOwnJob(t *testing.T) {
	w := newTestWorker(t)
	jobID := id.JobId(4)
	f := w.newFragment(jobID, id.RootIndex)
	if err := f.job.Commit(id.NoRank, id.NoRank); err != nil {
		t.Fatalf("commit: %v", err)
	}
	req := placement.JobRequest{JobId: jobID}
	st := w.candidateState(req)
	if !st.Idle {
		t.Fatalf("expected the request's own job to be excluded from the scan, got %+v", st)
	}
}
