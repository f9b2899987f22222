package balance

import (
	"math/rand"
	"sort"

	"github.com/twitter/fleet/id"
)

// RoundingMode selects how fractional volume assignments become
// integers, per spec.md §4.3.1 phase 4.
type RoundingMode int

const (
	Probabilistic RoundingMode = iota
	Bisection
)

type weightedJob struct {
	id       id.JobId
	demand   int
	priority float64
}

// AssignVolumes computes the priority-weighted fractional assignment
// of spec.md §4.3.1 phase 2 and rounds it with the probabilistic
// policy; the phase 3 Case 1/2/3 adjustment is not applied. It
// operates on a complete, already-aggregated view of every
// contributing job's demand and priority: the event-driven balancer
// (through AssignVolumesMode) has that view because `states` already
// holds every job's merged event once a round converges — hence no
// histogram step is needed here, matching §4.3.2's closing sentence.
// The cutoff-priority balancer computes its own assignments in
// balance/cutoff and does not call these functions.
func AssignVolumes(demands map[id.JobId]int, priorities map[id.JobId]float64, fleetSize int, loadFactor float64) Result {
	return AssignVolumesMode(demands, priorities, fleetSize, loadFactor, Probabilistic, 1)
}

// AssignVolumesMode is AssignVolumes with an explicit rounding mode and
// a seed for the probabilistic policy's coin flips (tests pin it for
// determinism; production wiring derives it from the balancing epoch).
func AssignVolumesMode(demands map[id.JobId]int, priorities map[id.JobId]float64, fleetSize int, loadFactor float64, mode RoundingMode, seed int64) Result {
	if len(demands) == 0 {
		return Result{}
	}
	var aggregateWeightedDemand float64
	for jobId, d := range demands {
		aggregateWeightedDemand += float64(d-1) * priorities[jobId]
	}
	budget := float64(fleetSize)*loadFactor - float64(len(demands))
	return AssignVolumesGiven(demands, priorities, aggregateWeightedDemand, budget, fleetSize, loadFactor, mode, seed)
}

// AssignVolumesGiven is AssignVolumesMode's formula with the aggregate
// weighted demand and the available budget supplied by the caller,
// rather than derived from demands/priorities alone. AssignVolumesMode
// is its only caller.
func AssignVolumesGiven(demands map[id.JobId]int, priorities map[id.JobId]float64, aggregateWeightedDemand, budget float64, fleetSize int, loadFactor float64, mode RoundingMode, seed int64) Result {
	if len(demands) == 0 {
		return Result{}
	}

	jobs := make([]weightedJob, 0, len(demands))
	for jobId, d := range demands {
		jobs = append(jobs, weightedJob{jobId, d, priorities[jobId]})
	}
	// Stable ordering so probabilistic rounding's seed produces the
	// same result across workers holding the same input.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].id < jobs[j].id })

	fractional := make(map[id.JobId]float64, len(jobs))
	for _, j := range jobs {
		if j.demand <= 0 {
			fractional[j.id] = 0
			continue
		}
		metRatio := 0.0
		if aggregateWeightedDemand > 0 {
			metRatio = budget * j.priority / aggregateWeightedDemand
		}
		if metRatio > 1 {
			metRatio = 1
		}
		if metRatio < 0 {
			metRatio = 0
		}
		fractional[j.id] = 1 + metRatio*float64(j.demand-1)
	}

	switch mode {
	case Bisection:
		return roundBisection(fractional, jobs, fleetSize, loadFactor)
	default:
		return roundProbabilistic(fractional, jobs, seed)
	}
}

func roundProbabilistic(fractional map[id.JobId]float64, jobs []weightedJob, seed int64) Result {
	result := make(Result, len(jobs))
	r := rand.New(rand.NewSource(seed))
	for _, j := range jobs {
		x := fractional[j.id]
		whole := int(x)
		frac := x - float64(whole)
		if r.Float64() < frac {
			whole++
		}
		if whole < 1 && j.demand > 0 {
			whole = 1
		}
		result[j.id] = whole
	}
	return result
}

// roundBisection collects the distinct nonzero fractional remainders,
// tries every index into that sorted sequence as the round-up
// threshold (plus the trial that rounds nothing up) rather than
// bisecting, and picks the trial whose total utilization lands closest
// to fleetSize*loadFactor,
// preferring a non-oversubscribing result on a tie — per spec.md
// §4.3.1 phase 4's bisection policy, done here as a direct local
// search rather than the original's distributed tree all-reduce of
// trial utilizations (there is nothing left to reduce once every
// worker already holds the same candidate remainder sequence).
func roundBisection(fractional map[id.JobId]float64, jobs []weightedJob, fleetSize int, loadFactor float64) Result {
	remainderSet := make(map[float64]struct{})
	for _, x := range fractional {
		f := x - float64(int(x))
		if f > 0 {
			remainderSet[f] = struct{}{}
		}
	}
	remainders := make([]float64, 0, len(remainderSet))
	for f := range remainderSet {
		remainders = append(remainders, f)
	}
	sort.Float64s(remainders)

	target := float64(fleetSize) * loadFactor

	bestIdx := len(remainders) // threshold index: round up iff remainder >= remainders[idx]
	bestErr := evalUtilization(fractional, jobs, remainders, bestIdx) - target

	for idx := len(remainders) - 1; idx >= 0; idx-- {
		err := evalUtilization(fractional, jobs, remainders, idx) - target
		if better(err, bestErr) {
			bestIdx, bestErr = idx, err
		}
	}

	return buildResult(fractional, jobs, remainders, bestIdx)
}

// better reports whether candidate error improves on current, per
// spec.md's "prefer non-oversubscribing results over oversubscribing
// when absolute error is comparable" tie-break.
func better(candidate, current float64) bool {
	absC, absCur := candidate, current
	if absC < 0 {
		absC = -absC
	}
	if absCur < 0 {
		absCur = -absCur
	}
	const comparable = 1e-9
	if absC < absCur-comparable {
		return true
	}
	if absC > absCur+comparable {
		return false
	}
	// Comparable magnitude: prefer non-oversubscribing (error <= 0).
	return candidate <= 0 && current > 0
}

func evalUtilization(fractional map[id.JobId]float64, jobs []weightedJob, remainders []float64, thresholdIdx int) float64 {
	var total float64
	for _, j := range jobs {
		x := fractional[j.id]
		whole := float64(int(x))
		frac := x - whole
		if thresholdIdx < len(remainders) && frac >= remainders[thresholdIdx] {
			whole++
		}
		if whole < 1 && j.demand > 0 {
			whole = 1
		}
		total += whole
	}
	return total
}

func buildResult(fractional map[id.JobId]float64, jobs []weightedJob, remainders []float64, thresholdIdx int) Result {
	result := make(Result, len(jobs))
	for _, j := range jobs {
		x := fractional[j.id]
		whole := int(x)
		frac := x - float64(whole)
		if thresholdIdx < len(remainders) && frac >= remainders[thresholdIdx] {
			whole++
		}
		if whole < 1 && j.demand > 0 {
			whole = 1
		}
		result[j.id] = whole
	}
	return result
}
