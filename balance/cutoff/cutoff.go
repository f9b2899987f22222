// Package cutoff implements spec.md §4.3.1: the periodic cutoff-
// priority balancer. Every p seconds each worker contributes the
// demand and priority of the jobs it roots to a fleet-wide all-reduce
// (initial-demand phase), builds a fleet-wide per-priority resources
// histogram (resources phase), adjusts its own jobs' fractional
// assignments against that histogram (adjustment phase), and rounds
// the result to integer volumes with either policy from §4.3.1 phase
// 4.
//
// Grounded on
// original_source/src/balancing/cutoff_priority_balancer.cpp in full:
// beginBalancing/continueBalancing(INITIAL_DEMAND) for phase 1's
// 3-vector all-reduce and initial fractional formula;
// finishResourcesReduction (lines 182-259) for phase 3's Case 1/2/3
// adjustment, ported directly; finishRemaindersReduction/
// getRoundedAssignments/continueRoundingUntilReduction/
// continueRoundingFromReduction (lines 261-379) for phase 4's
// iterative bisection search, ported directly. The one piece of
// ResourcesInfo/SortedDoubleSequence genuinely absent from the
// reference material is their wire merge format: how two ranks'
// partial histograms/remainder sets combine mid-reduction. This
// balancer reconstructs that merge the only way consistent with how
// the result is later consumed (demandedResources indexed as a
// cumulative sum over jobs sorted by descending priority): each rank
// contributes its own (priority, additional-demand) pairs and a
// partial assignedResources scalar; the butterfly merge concatenates
// pairs and sums the scalar; the root broadcasts the merged, unsorted
// set back down, and every rank then sorts it by descending priority
// and turns additional-demand into a running cumulative sum, at which
// point every rank's histogram lookups are byte-for-byte what
// finishResourcesReduction expects.
package cutoff

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/time/rate"

	"github.com/twitter/fleet/balance"
	"github.com/twitter/fleet/balance/butterfly"
	"github.com/twitter/fleet/id"
)

type stage int

const (
	stageIdle stage = iota
	stageRunning
	stageDone
)

// kind identifies which of the balancer's four phases is currently
// driving the active reduction/broadcast pair.
type kind int

const (
	kindInitialDemand kind = iota
	kindResources
	kindRemainders
	kindRounding
)

// Balancer is the periodic cutoff-priority variant of balance.Balancer.
type Balancer struct {
	rank       id.Rank
	fleetSize  int
	loadFactor float64
	mode       balance.RoundingMode
	seed       int64

	limiter *rate.Limiter

	stage stage
	kind  kind

	localDemands    map[id.JobId]int
	localPriorities map[id.JobId]float64
	localAdjusted   map[id.JobId]float64

	totalAvailVolume float64

	// Phase 4 (bisection) iteration state.
	remainders          []float64
	lower, upper         int
	pendingIdx           int
	lastUtilization      float64
	haveLastUtilization  bool
	bestIdx              int
	bestUtilizationDiff  float64

	reduction *butterfly.Reduction
	broadcast *butterfly.Broadcast

	result balance.Result
	outbox []OutMessage
}

// OutMessage is a payload the worker must transmit to another rank,
// tagged Collectives, before the balancer can make further progress.
type OutMessage struct {
	To      id.Rank
	Payload []byte
}

// New builds a cutoff-priority balancer that fires at most once per
// period. A period of 0 disables the rate limit (every Begin call is
// allowed through), which test code relies on.
func New(rank id.Rank, fleetSize int, loadFactor float64, period float64, mode balance.RoundingMode, seed int64) *Balancer {
	var limiter *rate.Limiter
	if period > 0 {
		limiter = rate.NewLimiter(rate.Limit(1/period), 1)
	}
	return &Balancer{
		rank:       rank,
		fleetSize:  fleetSize,
		loadFactor: loadFactor,
		mode:       mode,
		seed:       seed,
		limiter:    limiter,
	}
}

// ReadyToBegin reports whether the configured period has elapsed
// since the last round began. The worker checks this before calling
// Begin so a round never fires more often than every p seconds.
func (b *Balancer) ReadyToBegin() bool {
	return b.limiter == nil || b.limiter.Allow()
}

// DrainOutbox returns and clears every message queued since the last
// drain, the way balance/eventdriven.Balancer does.
func (b *Balancer) DrainOutbox() []OutMessage {
	out := b.outbox
	b.outbox = nil
	return out
}

// Begin starts the initial-demand all-reduce over the jobs this rank
// currently roots (demands/priorities keyed by job id) plus a busy
// flag. The flag is 1 when this rank roots at least one job; a rank
// that hosts only non-root fragments contributes 0.
func (b *Balancer) Begin(demands map[id.JobId]int, priorities map[id.JobId]float64) bool {
	b.localDemands = demands
	b.localPriorities = priorities
	busy := len(demands) > 0

	var aggregatedDemand float64
	for jobId, d := range demands {
		aggregatedDemand += float64(d-1) * priorities[jobId]
	}
	busyFlag := 0.0
	if busy {
		busyFlag = 1
	}
	contribution := encodeVector(aggregatedDemand, busyFlag, float64(len(demands)))

	b.kind = kindInitialDemand
	b.reduction = butterfly.NewReduction(butterfly.ReducePlan(b.rank, b.fleetSize), sumVectorBytes, butterfly.Contribution{Present: true, Data: contribution})
	b.stage = stageRunning
	b.driveRound()
	return b.stage == stageDone
}

// CanContinue reports whether there is anything queued for the worker
// to transmit that DrainOutbox hasn't returned yet.
func (b *Balancer) CanContinue() bool {
	return len(b.outbox) > 0
}

// Continue advances the active round as far as it can go without a
// new incoming message.
func (b *Balancer) Continue() bool {
	b.driveRound()
	return b.stage == stageDone
}

// ContinueWithMessage feeds an incoming reduction or broadcast payload
// into the active round's step machine.
func (b *Balancer) ContinueWithMessage(fromRank id.Rank, payload []byte) bool {
	c := butterfly.Contribution{Present: true, Data: payload}
	if b.broadcast != nil && !b.broadcast.Done() {
		if a := b.broadcast.NextAction(); a.Kind == butterfly.ActionAwaitReceive && a.Peer == fromRank {
			b.broadcast.Deliver(c)
		}
	} else if b.reduction != nil && !b.reduction.Done() {
		if a := b.reduction.NextAction(); a.Kind == butterfly.ActionAwaitReceive && a.Peer == fromRank {
			b.reduction.Deliver(c)
		}
	}
	b.driveRound()
	return b.stage == stageDone
}

// driveRound repeatedly advances the active reduction/broadcast pair
// until it either blocks waiting on a peer or the whole balancing
// round is done. A completed broadcast hands its result to
// onRoundComplete, which either starts the next phase's reduction (the
// loop keeps driving it, uninterrupted, in the same call) or marks the
// round done.
func (b *Balancer) driveRound() {
	for {
		if b.broadcast != nil {
			if b.broadcast.Done() {
				if b.stage == stageDone {
					return
				}
				result := b.broadcast.Result().Data
				b.broadcast = nil
				b.onRoundComplete(result)
				if b.stage == stageDone {
					b.reduction = nil
					return
				}
				continue
			}
			switch action := b.broadcast.NextAction(); action.Kind {
			case butterfly.ActionSend:
				b.outbox = append(b.outbox, OutMessage{To: action.Peer, Payload: b.broadcast.Outgoing().Data})
				b.broadcast.Advance()
				continue
			case butterfly.ActionNone:
				b.broadcast.Advance()
				continue
			default:
				return
			}
		}

		if b.reduction == nil {
			return
		}
		if b.reduction.Done() {
			// Every rank mirrors its own reduce steps into a broadcast
			// plan, not just the root: a non-root rank already dropped
			// out of the reduction once it sent its contribution up, but
			// it still owes its subtree the final value coming back down.
			plan := butterfly.BroadcastPlan(butterfly.ReducePlan(b.rank, b.fleetSize))
			if b.reduction.IsRoot() {
				b.broadcast = butterfly.NewBroadcast(plan, b.reduction.Result())
			} else {
				b.broadcast = butterfly.NewBroadcast(plan, butterfly.Contribution{})
			}
			continue
		}
		switch action := b.reduction.NextAction(); action.Kind {
		case butterfly.ActionSend:
			b.outbox = append(b.outbox, OutMessage{To: action.Peer, Payload: b.reduction.Outgoing().Data})
			b.reduction.Advance()
			continue
		case butterfly.ActionNone:
			b.reduction.Advance()
			continue
		default:
			return
		}
	}
}

// onRoundComplete dispatches a completed reduce+broadcast pair's
// result to the phase that started it.
func (b *Balancer) onRoundComplete(data []byte) {
	switch b.kind {
	case kindInitialDemand:
		b.finishInitialDemand(decodeVector(data))
	case kindResources:
		b.finishResourcesPhase(data)
	case kindRemainders:
		b.finishRemaindersPhase(data)
	case kindRounding:
		b.finishRoundingIteration(decodeScalar(data))
	}
}

// finishInitialDemand computes this rank's phase-1 fractional
// assignments from the globally reduced (aggregatedDemand, busyNodes,
// numActiveJobs) vector, per continueBalancing(INITIAL_DEMAND), then
// starts the resources-histogram phase. A rank that roots no jobs
// still takes part in every later phase with an empty contribution,
// so the ranks that wait on its message in the reduction tree are not
// left stalled; it ends the round with an empty result.
func (b *Balancer) finishInitialDemand(global [3]float64) {
	aggregatedDemand, numActiveJobs := global[0], global[2]
	b.totalAvailVolume = float64(b.fleetSize)*b.loadFactor - numActiveJobs

	b.localAdjusted = make(map[id.JobId]float64, len(b.localDemands))
	for jobId, d := range b.localDemands {
		if d <= 0 {
			b.localAdjusted[jobId] = 0
			continue
		}
		metRatio := 0.0
		if aggregatedDemand > 0 {
			metRatio = b.totalAvailVolume * b.localPriorities[jobId] / aggregatedDemand
		}
		b.localAdjusted[jobId] = 1 + clamp01(metRatio)*float64(d-1)
	}

	b.kind = kindResources
	b.reduction = butterfly.NewReduction(butterfly.ReducePlan(b.rank, b.fleetSize), mergeHistogramBytes, butterfly.Contribution{Present: true, Data: b.encodeHistogramContribution()})
}

// finishResourcesPhase applies finishResourcesReduction's Case 1/2/3
// adjustment using the globally merged priority/demandedResources
// histogram, then either finishes (probabilistic rounding, applied
// locally with no further communication) or starts the remainder
// collection phase (bisection rounding).
func (b *Balancer) finishResourcesPhase(data []byte) {
	assignedSum, entries := decodeHistogram(data)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Priority > entries[j].Priority })

	demandedResources := make([]float64, len(entries))
	var running float64
	for i, e := range entries {
		running += e.AdditionalDemand
		demandedResources[i] = running
	}

	remainingResources := b.totalAvailVolume - assignedSum
	if remainingResources < 0.1 {
		remainingResources = 0
	}

	for jobId, demand := range b.localDemands {
		if demand == 1 {
			continue
		}
		priority := b.localPriorities[jobId]
		prioIndex := indexOfPriority(entries, priority)
		if prioIndex < 0 {
			continue
		}

		if b.localAdjusted[jobId] == float64(demand) || demandedResources[prioIndex] <= remainingResources {
			// Case 1: remaining resources cover this priority class fully.
			b.localAdjusted[jobId] = float64(demand)
		} else if prioIndex == 0 || demandedResources[prioIndex-1] >= remainingResources {
			// Case 2: this priority class would exceed what remains.
		} else {
			// Case 3: partially satisfied, proportional to the gap.
			ratio := (remainingResources - demandedResources[prioIndex-1]) / (demandedResources[prioIndex] - demandedResources[prioIndex-1])
			b.localAdjusted[jobId] += ratio * (float64(demand) - b.localAdjusted[jobId])
		}
	}

	if b.mode != balance.Bisection {
		b.result = roundLocalProbabilistic(b.localAdjusted, b.localDemands, b.seed)
		b.stage = stageDone
		return
	}

	var remainders []float64
	for jobId, x := range b.localAdjusted {
		if b.localDemands[jobId] <= 0 {
			continue
		}
		r := x - math.Floor(x)
		if r > 0 && r < 1 {
			remainders = append(remainders, r)
		}
	}
	sort.Float64s(remainders)
	remainders = dedupeSorted(remainders)

	b.kind = kindRemainders
	b.reduction = butterfly.NewReduction(butterfly.ReducePlan(b.rank, b.fleetSize), mergeFloatListBytes, butterfly.Contribution{Present: true, Data: encodeFloatList(remainders)})
}

// finishRemaindersPhase receives the fleet-wide sorted sequence of
// distinct nonzero fractional remainders (SortedDoubleSequence) and
// starts the first iteration of the bisection search, per
// finishRemaindersReduction.
func (b *Balancer) finishRemaindersPhase(data []byte) {
	list := decodeFloatList(data)
	sort.Float64s(list)
	b.remainders = dedupeSorted(list)
	b.lower, b.upper = 0, len(b.remainders)
	b.haveLastUtilization = false
	b.bestIdx = -1
	b.startRoundingIteration()
}

// startRoundingIteration bisects to the midpoint of [lower, upper],
// rounds this rank's own jobs at that threshold, and starts the
// all-reduce of the resulting local utilization sum, per
// continueRoundingUntilReduction.
func (b *Balancer) startRoundingIteration() {
	idx := (b.lower + b.upper) / 2
	b.pendingIdx = idx
	_, localSum := b.roundedAssignmentsAt(idx)

	b.kind = kindRounding
	b.reduction = butterfly.NewReduction(butterfly.ReducePlan(b.rank, b.fleetSize), sumScalarBytes, butterfly.Contribution{Present: true, Data: encodeScalar(localSum)})
}

// finishRoundingIteration processes one bisection iteration's globally
// reduced utilization, tracks the best trial seen so far, and either
// terminates (utilization stopped changing between iterations) or
// narrows the search range and starts another iteration, per
// continueRoundingFromReduction.
func (b *Balancer) finishRoundingIteration(utilization float64) {
	idx := b.pendingIdx
	target := float64(b.fleetSize) * b.loadFactor
	diffToOptimum := target - utilization

	if b.bestIdx == -1 ||
		(diffToOptimum > -1 && b.bestUtilizationDiff <= -1) ||
		(diffToOptimum <= -1 && b.bestUtilizationDiff <= -1 && diffToOptimum > b.bestUtilizationDiff) ||
		(diffToOptimum > -1 && math.Abs(diffToOptimum) < math.Abs(b.bestUtilizationDiff)) {
		b.bestUtilizationDiff = diffToOptimum
		b.bestIdx = idx
	}

	if b.haveLastUtilization && utilization == b.lastUtilization {
		b.result, _ = b.roundedAssignmentsAt(b.bestIdx)
		b.bestIdx = -1
		b.stage = stageDone
		return
	}

	if b.lower < b.upper {
		if utilization < target {
			b.upper = idx - 1
		}
		if utilization > target {
			b.lower = idx + 1
		}
	}
	b.lastUtilization = utilization
	b.haveLastUtilization = true
	b.startRoundingIteration()
}

// roundedAssignmentsAt rounds every one of this rank's local jobs at
// remainder threshold idx into b.remainders (1.0 if idx is past the
// end, matching getRoundedAssignments' right-hand limit), returning
// the rounded map and the sum of its values.
func (b *Balancer) roundedAssignmentsAt(idx int) (balance.Result, float64) {
	remainder := 1.0
	if idx < len(b.remainders) {
		remainder = b.remainders[idx]
	}
	out := make(balance.Result, len(b.localAdjusted))
	var sum float64
	for jobId, x := range b.localAdjusted {
		if b.localDemands[jobId] <= 0 {
			out[jobId] = 0
			continue
		}
		var v float64
		if x-math.Floor(x) < remainder {
			v = math.Floor(x)
		} else {
			v = math.Ceil(x)
		}
		out[jobId] = int(v)
		sum += v
	}
	return out, sum
}

// GetResult returns the most recently computed volumes for the jobs
// this rank roots.
func (b *Balancer) GetResult() balance.Result {
	return b.result
}

// Forget drops jobId's entry from the last computed result; cutoff
// carries no other per-job state between rounds, since every round
// recomputes demands/priorities from scratch via Begin's arguments.
func (b *Balancer) Forget(jobId id.JobId) {
	delete(b.result, jobId)
}

func clamp01(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < 0 {
		return 0
	}
	return x
}

func roundLocalProbabilistic(adjusted map[id.JobId]float64, demands map[id.JobId]int, seed int64) balance.Result {
	ids := make([]id.JobId, 0, len(adjusted))
	for jobId := range adjusted {
		ids = append(ids, jobId)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	r := rand.New(rand.NewSource(seed))
	result := make(balance.Result, len(ids))
	for _, jobId := range ids {
		x := adjusted[jobId]
		if demands[jobId] <= 0 {
			result[jobId] = 0
			continue
		}
		whole := int(x)
		frac := x - float64(whole)
		if r.Float64() < frac {
			whole++
		}
		if whole < 1 {
			whole = 1
		}
		result[jobId] = whole
	}
	return result
}

// histEntry is one job's contribution to the fleet-wide resources
// histogram: its priority and the additional demand (beyond its phase
// 1 fractional assignment) it still wants.
type histEntry struct {
	Priority         float64
	AdditionalDemand float64
}

func indexOfPriority(entries []histEntry, priority float64) int {
	for i, e := range entries {
		if e.Priority == priority {
			return i
		}
	}
	return -1
}

func (b *Balancer) encodeHistogramContribution() []byte {
	var assignedSum float64
	entries := make([]histEntry, 0, len(b.localDemands))
	for jobId, demand := range b.localDemands {
		assignedSum += b.localAdjusted[jobId] - 1
		entries = append(entries, histEntry{Priority: b.localPriorities[jobId], AdditionalDemand: float64(demand) - b.localAdjusted[jobId]})
	}
	return encodeHistogram(assignedSum, entries)
}

func encodeHistogram(assignedSum float64, entries []histEntry) []byte {
	buf := make([]byte, 0, 12+16*len(entries))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(assignedSum))
	buf = append(buf, tmp[:]...)
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(entries)))
	buf = append(buf, cnt[:]...)
	for _, e := range entries {
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(e.Priority))
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(e.AdditionalDemand))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func decodeHistogram(buf []byte) (float64, []histEntry) {
	if len(buf) < 12 {
		return 0, nil
	}
	assignedSum := math.Float64frombits(binary.LittleEndian.Uint64(buf))
	n := int(binary.LittleEndian.Uint32(buf[8:]))
	entries := make([]histEntry, 0, n)
	off := 12
	for i := 0; i < n && off+16 <= len(buf); i++ {
		priority := math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		demand := math.Float64frombits(binary.LittleEndian.Uint64(buf[off+8:]))
		entries = append(entries, histEntry{Priority: priority, AdditionalDemand: demand})
		off += 16
	}
	return assignedSum, entries
}

func mergeHistogramBytes(a, b []byte) []byte {
	sumA, entriesA := decodeHistogram(a)
	sumB, entriesB := decodeHistogram(b)
	return encodeHistogram(sumA+sumB, append(entriesA, entriesB...))
}

func encodeFloatList(list []float64) []byte {
	buf := make([]byte, 4, 4+8*len(list))
	binary.LittleEndian.PutUint32(buf, uint32(len(list)))
	for _, x := range list {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(x))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func decodeFloatList(buf []byte) []float64 {
	if len(buf) < 4 {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(buf))
	out := make([]float64, 0, n)
	off := 4
	for i := 0; i < n && off+8 <= len(buf); i++ {
		out = append(out, math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])))
		off += 8
	}
	return out
}

func mergeFloatListBytes(a, b []byte) []byte {
	return encodeFloatList(append(decodeFloatList(a), decodeFloatList(b)...))
}

func dedupeSorted(sorted []float64) []float64 {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, x := range sorted[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func encodeScalar(x float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
	return buf
}

func decodeScalar(buf []byte) float64 {
	if len(buf) < 8 {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}

func encodeVector(v ...float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(buf []byte) [3]float64 {
	var out [3]float64
	for i := range out {
		if (i+1)*8 > len(buf) {
			break
		}
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

func sumVectorBytes(a, b []byte) []byte {
	av, bv := decodeVector(a), decodeVector(b)
	return encodeVector(av[0]+bv[0], av[1]+bv[1], av[2]+bv[2])
}

func sumScalarBytes(a, b []byte) []byte {
	return encodeScalar(decodeScalar(a) + decodeScalar(b))
}

var _ balance.Balancer = (*Balancer)(nil)
