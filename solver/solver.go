// Package solver declares the capability set fleet consumes from the
// external SAT solver portfolio (spec.md §4.6). The scheduler core
// never sees a particular backend's internals, only this interface.
//
// Grounded on original_source/src/hordesat/solvers/PortfolioSolverInterface.cpp
// for the call surface.
package solver

import "context"

// Verdict is the tri-valued outcome of a solve attempt.
type Verdict int

const (
	Unknown Verdict = iota // reserved for interrupted searches
	Sat
	Unsat
)

func (v Verdict) String() string {
	switch v {
	case Sat:
		return "SAT"
	case Unsat:
		return "UNSAT"
	default:
		return "UNKNOWN"
	}
}

// Result is delivered asynchronously on the channel returned by Solve.
type Result struct {
	Verdict           Verdict
	Solution          []byte // model or proof witness, backend-specific encoding
	FailedAssumptions []int32
}

// ClauseBuffer is an opaque, backend-specific encoding of a batch of
// learned clauses, as produced by PrepareSharing and consumed by
// DigestSharing.
type ClauseBuffer []byte

// Solver is the thin contract to the external search engine. Interrupt
// and Suspend are documented as safe to call from a goroutine other
// than the one that called Solve; Uninterrupt/Resume restore readiness
// without requiring literals to be re-ingested.
//
// Implementations must never block the caller of Solve: the actual
// search runs on the implementation's own goroutine(s) ("solver
// threads" in spec.md §5), reporting through the returned channel.
type Solver interface {
	AddLiteral(lit int32)
	SetPhase(lit int32, positive bool)
	Diversify(seed int64)

	// Solve begins a search over the given assumptions and returns a
	// channel that receives exactly one Result when the search
	// concludes (naturally, or via Interrupt).
	Solve(ctx context.Context, assumptions []int32) <-chan Result

	Interrupt()
	Uninterrupt()
	Suspend()
	Resume()

	GetSolution() []byte
	GetFailedAssumptions() []int32

	AddLearnedClause(clause []int32)
	SetLearnedClauseCallback(cb func(clause []int32))

	PrepareSharing(maxSize int) ClauseBuffer
	DigestSharing(buf ClauseBuffer)
}
