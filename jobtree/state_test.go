package jobtree

import (
	"testing"
	"time"

	"github.com/twitter/fleet/clock"
	"github.com/twitter/fleet/id"
)

func newTestJob(t *testing.T, cfg Config) (*Job, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	return New(1, id.RootIndex, cfg, fake), fake
}

// startJob drives a fresh job through COMMITTED into ACTIVE, since
// Start is only valid from COMMITTED per spec.md's lifecycle table.
func startJob(t *testing.T, j *Job, desc *Description) {
	t.Helper()
	if err := j.Commit(id.NoRank, id.NoRank); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := j.Start(desc); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestCommitTransitionsInactiveToCommitted(t *testing.T) {
	j, _ := newTestJob(t, Config{FleetSize: 4})

	if j.State() != Inactive {
		t.Fatalf("new job should start INACTIVE, got %s", j.State())
	}
	if err := j.Commit(id.NoRank, id.NoRank); err != nil {
		t.Fatalf("commit from INACTIVE should succeed: %v", err)
	}
	if j.State() != Committed {
		t.Fatalf("expected COMMITTED, got %s", j.State())
	}
	if err := j.Uncommit(); err != nil {
		t.Fatalf("uncommit from COMMITTED should succeed: %v", err)
	}
	if j.State() != Inactive {
		t.Fatalf("expected INACTIVE after uncommit, got %s", j.State())
	}
}

func TestSuspendResumeStopTerminate(t *testing.T) {
	j, _ := newTestJob(t, Config{FleetSize: 4})
	startJob(t, j, &Description{Priority: 1})
	if err := j.Suspend(); err != nil {
		t.Fatal(err)
	}
	if j.Volume != 0 {
		t.Fatalf("suspend should zero volume, got %d", j.Volume)
	}
	if err := j.Resume(); err != nil {
		t.Fatal(err)
	}
	if j.State() != Active {
		t.Fatalf("expected ACTIVE after resume, got %s", j.State())
	}
	if err := j.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := j.Terminate(); err != nil {
		t.Fatal(err)
	}
	if j.State() != Past {
		t.Fatalf("expected PAST, got %s", j.State())
	}
	if err := j.Terminate(); err == nil {
		t.Fatal("terminate from PAST should fail, invariant I5")
	}
}

func TestDemandImmediateWhenGrowthPeriodZero(t *testing.T) {
	j, _ := newTestJob(t, Config{FleetSize: 8, GrowthPeriod: 0})
	startJob(t, j, &Description{Priority: 1})
	if d := j.Demand(1); d != 8 {
		t.Fatalf("g<=0 should yield demand=N immediately, got %d", d)
	}
}

func TestDemandStartsAtOneWhenGrowthPeriodPositive(t *testing.T) {
	j, fake := newTestJob(t, Config{FleetSize: 8, GrowthPeriod: 10})
	startJob(t, j, &Description{Priority: 1})
	fake.Advance(1 * time.Second) // t < g
	if d := j.Demand(1); d != 1 {
		t.Fatalf("t<g should yield demand=1, got %d", d)
	}
}

func TestDemandClampedByMaxDemand(t *testing.T) {
	j, fake := newTestJob(t, Config{FleetSize: 64, GrowthPeriod: 1, MaxDemand: 3})
	startJob(t, j, &Description{Priority: 1})
	fake.Advance(100 * time.Second)
	if d := j.Demand(1); d != 3 {
		t.Fatalf("max_demand should clamp after the growth formula, got %d", d)
	}
}

func TestDemandFrozenWhenNotActive(t *testing.T) {
	j, _ := newTestJob(t, Config{FleetSize: 8})
	if d := j.Demand(5); d != 5 {
		t.Fatalf("demand should be frozen at prevVolume while not ACTIVE, got %d", d)
	}
}

func TestTemperatureMonotoneDecreasing(t *testing.T) {
	j, fake := newTestJob(t, Config{FleetSize: 4})
	startJob(t, j, &Description{Priority: 1})
	prev := j.Temperature()
	for i := 0; i < 50; i++ {
		fake.Advance(1 * time.Second)
		cur := j.Temperature()
		if cur > prev {
			t.Fatalf("temperature must be strictly non-increasing, went from %v to %v at step %d", prev, cur, i)
		}
		prev = cur
	}
}

func TestTreeIndexArithmetic(t *testing.T) {
	if id.RootIndex.LeftChild() != 1 || id.RootIndex.RightChild() != 2 {
		t.Fatal("root's children should be 1 and 2")
	}
	if id.TreeIndex(1).Parent() != id.RootIndex {
		t.Fatal("index 1's parent should be root")
	}
	if id.TreeIndex(2).Parent() != id.RootIndex {
		t.Fatal("index 2's parent should be root")
	}
}
