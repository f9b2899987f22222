package balance

import (
	"github.com/twitter/fleet/id"
)

// Result is the balancer's output: the new volume assigned to each
// job, ready for worker.Worker.applyBalancerResult to flood down each
// job's tree.
type Result map[id.JobId]int

// Balancer is the six-operation contract spec.md §4.3 requires of both
// variants, ported from EventDrivenBalancer/CutoffPriorityBalancer's
// shared virtual interface (beginBalancing/canContinueBalancing/
// continueBalancing/continueBalancing(handle)/getBalancingResult/forget).
type Balancer interface {
	// Begin starts a balancing round given the current per-job demand
	// and priority. It returns true if the round completed
	// synchronously (nothing to reduce), false if Continue must be
	// polled.
	Begin(demands map[id.JobId]int, priorities map[id.JobId]float64) bool

	// CanContinue reports whether a pending asynchronous step (a
	// posted collective send/receive) has completed and Continue
	// should be called.
	CanContinue() bool

	// Continue advances the round by one step. Returns true once the
	// round has produced a result.
	Continue() bool

	// ContinueWithMessage feeds an incoming COLLECTIVES/
	// ANYTIME_REDUCTION/ANYTIME_BROADCAST payload into the round.
	// Returns true once the round has produced a result.
	ContinueWithMessage(fromRank id.Rank, payload []byte) bool

	// GetResult returns the volumes computed by the most recently
	// completed round.
	GetResult() Result

	// Forget drops any state held for jobId (it has gone PAST).
	Forget(jobId id.JobId)
}
