package placement

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/twitter/fleet/id"
)

func TestMaxHopsRootIsHalfFleetSize(t *testing.T) {
	if got := MaxHops(20, true); got != 10 {
		t.Fatalf("expected N/2=10, got %d", got)
	}
	if got := MaxHops(20, false); got != 40 {
		t.Fatalf("expected 2N=40, got %d", got)
	}
}

func TestBounceHopMonotonicity(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("Bounce always increments NumHops by exactly one", prop.ForAll(
		func(hops int) bool {
			req := JobRequest{NumHops: hops}
			bounced := Bounce(req)
			return bounced.NumHops == hops+1
		},
		gen.IntRange(0, 10000),
	))
	properties.TestingRun(t)
}

func TestExceedsHopCapAtBoundary(t *testing.T) {
	req := JobRequest{RequestedIndex: id.RootIndex, NumHops: 5}
	if ExceedsHopCap(req, 10) {
		t.Fatal("5 hops should not exceed a root cap of 5 (N/2=5)")
	}
	req.NumHops = 6
	if !ExceedsHopCap(req, 10) {
		t.Fatal("6 hops should exceed a root cap of 5")
	}
}

type fakeEpochSource struct {
	epoch  map[id.JobId]int
	isPast map[id.JobId]bool
}

func (f fakeEpochSource) CurrentEpoch(jobId id.JobId) int { return f.epoch[jobId] }
func (f fakeEpochSource) IsPast(jobId id.JobId) bool      { return f.isPast[jobId] }

func TestIsObsoleteOnNewerEpoch(t *testing.T) {
	src := fakeEpochSource{epoch: map[id.JobId]int{1: 3}}
	if !IsObsolete(JobRequest{JobId: 1, Epoch: 2}, src) {
		t.Fatal("a request from an older epoch should be obsolete")
	}
	if IsObsolete(JobRequest{JobId: 1, Epoch: 3}, src) {
		t.Fatal("a request at the current epoch should not be obsolete")
	}
}

func TestIsObsoleteWhenJobAlreadyPast(t *testing.T) {
	src := fakeEpochSource{isPast: map[id.JobId]bool{1: true}}
	if !IsObsolete(JobRequest{JobId: 1}, src) {
		t.Fatal("a request for an already-PAST job should be obsolete")
	}
}

func TestEvaluateAdoptsWhenIdleAndUncommitted(t *testing.T) {
	got := Evaluate(JobRequest{}, 10, CandidateState{Idle: true})
	if got != DecisionAdopt {
		t.Fatalf("expected DecisionAdopt, got %v", got)
	}
}

func TestEvaluateBouncesUnderHopCap(t *testing.T) {
	got := Evaluate(JobRequest{RequestedIndex: id.TreeIndex(1), NumHops: 1}, 10, CandidateState{})
	if got != DecisionBounce {
		t.Fatalf("expected DecisionBounce, got %v", got)
	}
}

func TestEvaluateDropsNonRootOverHopCap(t *testing.T) {
	req := JobRequest{RequestedIndex: id.TreeIndex(1), NumHops: 100}
	got := Evaluate(req, 10, CandidateState{})
	if got != DecisionDrop {
		t.Fatalf("expected DecisionDrop, got %v", got)
	}
}

func TestEvaluatePreemptsChildlessNonRootLeafForStarvingRoot(t *testing.T) {
	req := JobRequest{RequestedIndex: id.RootIndex, NumHops: 100}
	state := CandidateState{CurrentActive: true, CurrentIsRoot: false, CurrentHasLeft: false, CurrentHasRight: false}
	got := Evaluate(req, 10, state)
	if got != DecisionPreempt {
		t.Fatalf("expected DecisionPreempt, got %v", got)
	}
}

func TestEvaluateDoesNotPreemptRootOrJobsWithChildren(t *testing.T) {
	req := JobRequest{RequestedIndex: id.RootIndex, NumHops: 100}

	rootCase := CandidateState{CurrentActive: true, CurrentIsRoot: true}
	if got := Evaluate(req, 10, rootCase); got == DecisionPreempt {
		t.Fatal("a root fragment must never be preempted")
	}

	hasChildCase := CandidateState{CurrentActive: true, CurrentHasLeft: true}
	if got := Evaluate(req, 10, hasChildCase); got == DecisionPreempt {
		t.Fatal("a fragment with children must never be preempted")
	}
}

func TestRandomizedBounceSkipsRequesterSenderAndSelf(t *testing.T) {
	req := JobRequest{JobId: 42, RequestedIndex: 3, RequestingNodeRank: 1, NumHops: 0}
	next := Randomized{}.Next(req, id.Rank(2), id.Rank(0), 5)
	if next == req.RequestingNodeRank || next == id.Rank(2) || next == id.Rank(0) {
		t.Fatalf("bounce target %d must skip requester, sender, and self", next)
	}
}

func TestDecideAckNeedsTransferWithoutMatchingDescription(t *testing.T) {
	sig := JobSignature{JobId: 1, Revision: 2}
	if !DecideAck(sig, false, 0).NeedsTransfer {
		t.Fatal("no local description should need a transfer")
	}
	if DecideAck(sig, true, 2).NeedsTransfer {
		t.Fatal("a matching local revision should not need a transfer")
	}
	if !DecideAck(sig, true, 1).NeedsTransfer {
		t.Fatal("a stale local revision should need a transfer")
	}
}
