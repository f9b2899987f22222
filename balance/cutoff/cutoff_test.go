package cutoff

import (
	"testing"

	"github.com/twitter/fleet/balance"
	"github.com/twitter/fleet/id"
)

// runRound drives fleetSize Balancers through one round, delivering
// each balancer's drained OutMessages to the addressed peer.
func runRound(t *testing.T, balancers []*Balancer, localDemands []map[id.JobId]int, localPriorities []map[id.JobId]float64) {
	t.Helper()
	n := len(balancers)
	doneRound := make([]bool, n)
	for r := 0; r < n; r++ {
		doneRound[r] = balancers[r].Begin(localDemands[r], localPriorities[r])
	}

	for progress := true; progress; {
		progress = false
		for r := 0; r < n; r++ {
			out := balancers[r].DrainOutbox()
			for _, m := range out {
				balancers[m.To].ContinueWithMessage(id.Rank(r), m.Payload)
				progress = true
			}
			if doneRound[r] {
				continue
			}
			if balancers[r].Continue() {
				doneRound[r] = true
				progress = true
			}
		}
	}
}

func TestCutoffRoundAssignsVolumeToSoleJob(t *testing.T) {
	n := 4
	balancers := make([]*Balancer, n)
	for r := 0; r < n; r++ {
		balancers[r] = New(id.Rank(r), n, 1.0, 0, balance.Probabilistic, 7)
	}

	demands := make([]map[id.JobId]int, n)
	priorities := make([]map[id.JobId]float64, n)
	for r := range demands {
		demands[r] = map[id.JobId]int{}
		priorities[r] = map[id.JobId]float64{}
	}
	demands[0][42] = 4
	priorities[0][42] = 1.0

	runRound(t, balancers, demands, priorities)

	result := balancers[0].GetResult()
	got, ok := result[42]
	if !ok {
		t.Fatal("expected rank 0 to have a volume for job 42")
	}
	if got < 1 || got > 4 {
		t.Fatalf("expected volume in [1,4], got %d", got)
	}

	for r := 1; r < n; r++ {
		if len(balancers[r].GetResult()) != 0 {
			t.Fatalf("rank %d roots no jobs and should get an empty result, got %v", r, balancers[r].GetResult())
		}
	}
}

func TestCutoffRoundSplitsCapacityAcrossMultipleRoots(t *testing.T) {
	n := 4
	balancers := make([]*Balancer, n)
	for r := 0; r < n; r++ {
		balancers[r] = New(id.Rank(r), n, 1.0, 0, balance.Bisection, 0)
	}

	demands := make([]map[id.JobId]int, n)
	priorities := make([]map[id.JobId]float64, n)
	for r := range demands {
		demands[r] = map[id.JobId]int{}
		priorities[r] = map[id.JobId]float64{}
	}
	demands[0][1] = 3
	priorities[0][1] = 1.0
	demands[2][2] = 3
	priorities[2][2] = 1.0

	runRound(t, balancers, demands, priorities)

	v1 := balancers[0].GetResult()[1]
	v2 := balancers[2].GetResult()[2]
	if v1 < 1 || v2 < 1 {
		t.Fatalf("every job must receive at least its atomic volume of 1, got v1=%d v2=%d", v1, v2)
	}
}

func TestReadyToBeginGatesOnPeriod(t *testing.T) {
	b := New(0, 4, 1.0, 3600, balance.Probabilistic, 1)
	if !b.ReadyToBegin() {
		t.Fatal("expected the first call to be allowed through")
	}
	if b.ReadyToBegin() {
		t.Fatal("expected a second call within the period to be denied")
	}
}

func TestForgetDropsJobFromResult(t *testing.T) {
	b := New(0, 4, 1.0, 0, balance.Probabilistic, 1)
	b.result = balance.Result{5: 2}
	b.Forget(5)
	if _, ok := b.GetResult()[5]; ok {
		t.Fatal("expected job 5 to be forgotten from the result")
	}
}
