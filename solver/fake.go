package solver

import (
	"context"
	"sync"
)

// Fake is a deterministic, in-memory Solver used by package tests in
// place of a real portfolio backend. It treats the literal stream as a
// tiny unit-propagation problem: a formula is UNSAT only if it contains
// both a unit clause {lit} and its negation {-lit}; otherwise every
// assumption set not contradicting an added unit literal is SAT.
//
// Grounded on the call surface of
// original_source/src/app/sat/hordesat/solvers/portfolio_solver_interface.hpp;
// the resolution procedure itself has no original_source analogue and
// is deliberately the simplest thing that exercises every method.
type Fake struct {
	mu sync.Mutex

	units     map[int32]bool // literal -> asserted true
	phases    map[int32]bool
	seed      int64
	callback  func(clause []int32)
	learned   [][]int32
	shared    []ClauseBuffer
	interrupted bool
	suspended   bool

	lastSolution []byte
	lastFailed   []int32
}

// NewFake returns a Fake with an empty formula.
func NewFake() *Fake {
	return &Fake{
		units:  make(map[int32]bool),
		phases: make(map[int32]bool),
	}
}

func (f *Fake) AddLiteral(lit int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lit != 0 {
		f.units[lit] = true
	}
}

func (f *Fake) SetPhase(lit int32, positive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases[lit] = positive
}

func (f *Fake) Diversify(seed int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seed = seed
}

// Solve resolves on its own goroutine and reports through a channel,
// matching the asynchronous shape real solver threads need.
func (f *Fake) Solve(ctx context.Context, assumptions []int32) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.interrupted {
			out <- Result{Verdict: Unknown}
			f.lastSolution = nil
			f.lastFailed = nil
			close(out)
			return
		}

		var failed []int32
		for _, a := range assumptions {
			if f.units[-a] {
				failed = append(failed, a)
			}
		}
		contradictoryFormula := false
		for lit := range f.units {
			if f.units[-lit] {
				contradictoryFormula = true
				break
			}
		}

		var res Result
		switch {
		case contradictoryFormula || len(failed) > 0:
			res = Result{Verdict: Unsat, FailedAssumptions: failed}
		default:
			res = Result{Verdict: Sat, Solution: encodeModel(f.units, assumptions)}
		}
		f.lastSolution = res.Solution
		f.lastFailed = res.FailedAssumptions
		out <- res
		close(out)
	}()
	return out
}

func encodeModel(units map[int32]bool, assumptions []int32) []byte {
	lits := make(map[int32]bool, len(units)+len(assumptions))
	for l := range units {
		lits[l] = true
	}
	for _, a := range assumptions {
		lits[a] = true
	}
	buf := make([]byte, 0, 4*len(lits))
	for l := range lits {
		buf = append(buf, byte(l), byte(l>>8), byte(l>>16), byte(l>>24))
	}
	return buf
}

func (f *Fake) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = true
}

func (f *Fake) Uninterrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = false
}

func (f *Fake) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = true
}

func (f *Fake) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = false
}

func (f *Fake) GetSolution() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSolution
}

func (f *Fake) GetFailedAssumptions() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFailed
}

func (f *Fake) AddLearnedClause(clause []int32) {
	f.mu.Lock()
	cb := f.callback
	f.learned = append(f.learned, clause)
	f.mu.Unlock()
	if cb != nil {
		cb(clause)
	}
}

func (f *Fake) SetLearnedClauseCallback(cb func(clause []int32)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
}

// PrepareSharing packs up to maxSize learned clauses into a buffer,
// draining them the way sat_clause_communicator.cpp drains a solver's
// learned-clause queue each exchange round.
func (f *Fake) PrepareSharing(maxSize int) ClauseBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.learned)
	if n > maxSize {
		n = maxSize
	}
	buf := make(ClauseBuffer, 0)
	for _, clause := range f.learned[:n] {
		for _, lit := range clause {
			buf = append(buf, byte(lit), byte(lit>>8), byte(lit>>16), byte(lit>>24))
		}
		buf = append(buf, 0, 0, 0, 0) // clause separator, zero literal
	}
	f.learned = f.learned[n:]
	return buf
}

// DigestSharing decodes a buffer produced by PrepareSharing (possibly
// by a peer Fake) and queues its clauses as learned clauses, so the
// next PrepareSharing hands them on again. They do not become unit
// literals and do not affect Solve.
func (f *Fake) DigestSharing(buf ClauseBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shared = append(f.shared, buf)
	var clause []int32
	for i := 0; i+3 < len(buf); i += 4 {
		lit := int32(buf[i]) | int32(buf[i+1])<<8 | int32(buf[i+2])<<16 | int32(buf[i+3])<<24
		if lit == 0 {
			f.learned = append(f.learned, clause)
			clause = nil
			continue
		}
		clause = append(clause, lit)
	}
}
