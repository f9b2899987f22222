// Package jobtree models the local fragment of one distributed job: its
// position in the job's binary tree, its lifecycle state, and the
// demand/temperature curves the balancer reads from it.
//
// Grounded on original_source/src/app/job.cpp for the state machine and
// formulas, and on the teacher's scheduler/server/job_state.go for the
// Go struct shape and doc density.
package jobtree

import (
	"fmt"
	"math"

	"github.com/twitter/fleet/clock"
	"github.com/twitter/fleet/id"
)

// State is one of the five states a job fragment can be in.
type State int

const (
	Inactive State = iota
	Committed
	Active
	Suspended
	Past
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Committed:
		return "COMMITTED"
	case Active:
		return "ACTIVE"
	case Suspended:
		return "SUSPENDED"
	case Past:
		return "PAST"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidTransition is returned when a caller drives the state
// machine through an edge not in the table of spec.md §4.1.
type ErrInvalidTransition struct {
	From  State
	Event string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("jobtree: invalid transition %q from state %s", e.Event, e.From)
}

// Description is the serialized problem payload plus its parsed header.
// Immutable except by appending amendments (new revisions).
type Description struct {
	Priority      float64
	FormulaSize   int
	AssumptionLen int
	Revision      int
	Payload       []byte

	// ClientRank identifies the rank a result must ultimately reach.
	// Only meaningful on the root fragment (index 0): every other
	// fragment reaches the client indirectly, by forwarding a found
	// result up to its RootRank.
	ClientRank id.Rank
}

// Job is the local fragment of one job on one worker.
type Job struct {
	Id    id.JobId
	Index id.TreeIndex
	state State

	RootRank        id.Rank
	ParentRank      id.Rank
	LeftChildRank   id.Rank
	RightChildRank  id.Rank
	hasLeftChild    bool
	hasRightChild   bool

	Description *Description // nil until ACTIVE/SUSPENDED (invariant I3)
	Volume      int

	TimeOfArrival   float64
	TimeOfActivation float64
	TimeOfAbort     float64

	LastVolumeCheck float64
	CPUTimeUsed     float64

	fleetSize      int
	growthPeriod   float64
	continuous     bool
	maxDemand      int
	frozenDemand   int
	lastTemp       float64
	constCooldownAge int
	haveConstCooldown bool

	clock clock.Clock
}

// Config bundles the per-job parameters read out of the job description
// and the worker's static configuration, mirroring the fields job.cpp
// pulls out of Parameters in its constructor.
type Config struct {
	FleetSize    int
	GrowthPeriod float64 // "g": <=0 means immediate growth
	Continuous   bool    // "cg": continuous vs discrete doubling
	MaxDemand    int     // "md": 0 means unbounded
}

// New creates a fragment in state INACTIVE, mirroring Job::Job.
func New(jobID id.JobId, index id.TreeIndex, cfg Config, clk clock.Clock) *Job {
	return &Job{
		Id:               jobID,
		Index:            index,
		state:            Inactive,
		RootRank:         id.NoRank,
		ParentRank:       id.NoRank,
		LeftChildRank:    id.NoRank,
		RightChildRank:   id.NoRank,
		TimeOfArrival:    clk.Elapsed(),
		fleetSize:        cfg.FleetSize,
		growthPeriod:     cfg.GrowthPeriod,
		continuous:       cfg.Continuous,
		maxDemand:        cfg.MaxDemand,
		constCooldownAge: -1,
		clock:            clk,
	}
}

func (j *Job) State() State { return j.state }

// UpdateTree sets root/parent for this fragment's position in the tree.
// Root fragments (index 0) never have a parent rank of their own tree.
func (j *Job) UpdateTree(rootRank, parentRank id.Rank) {
	if j.Index.IsRoot() {
		rootRank = id.NoRank
	}
	j.RootRank = rootRank
	j.ParentRank = parentRank
}

// SetLeftChild / SetRightChild / UnsetLeftChild / UnsetRightChild
// maintain invariant I2: a child pointer is set only while that child
// has acknowledged adoption and not yet defected.
func (j *Job) SetLeftChild(rank id.Rank) {
	j.LeftChildRank = rank
	j.hasLeftChild = true
}
func (j *Job) SetRightChild(rank id.Rank) {
	j.RightChildRank = rank
	j.hasRightChild = true
}
func (j *Job) UnsetLeftChild() {
	j.LeftChildRank = id.NoRank
	j.hasLeftChild = false
}
func (j *Job) UnsetRightChild() {
	j.RightChildRank = id.NoRank
	j.hasRightChild = false
}
func (j *Job) HasLeftChild() bool  { return j.hasLeftChild }
func (j *Job) HasRightChild() bool { return j.hasRightChild }

// Commit transitions INACTIVE -> COMMITTED. assert(state != ACTIVE/PAST)
// in the original becomes a returned error here.
func (j *Job) Commit(rootRank, parentRank id.Rank) error {
	if j.state == Active || j.state == Past {
		return &ErrInvalidTransition{j.state, "commit"}
	}
	j.UpdateTree(rootRank, parentRank)
	j.state = Committed
	return nil
}

// Uncommit transitions COMMITTED -> INACTIVE (rejection, or the
// requester giving up on a stale offer).
func (j *Job) Uncommit() error {
	if j.state == Active {
		return &ErrInvalidTransition{j.state, "uncommit"}
	}
	j.state = Inactive
	return nil
}

// Start transitions COMMITTED -> ACTIVE once the description has
// arrived, per spec.md's lifecycle table (the original's Job::start
// only asserts that the job isn't already ACTIVE/PAST; COMMITTED here
// captures "has an accepted, in-flight placement" the way the original
// tracks it via a pending JobRequest rather than a distinct state).
func (j *Job) Start(desc *Description) error {
	if j.state != Committed {
		return &ErrInvalidTransition{j.state, "start"}
	}
	if j.TimeOfActivation <= 0 {
		j.TimeOfActivation = j.clock.Elapsed()
	}
	j.LastVolumeCheck = j.clock.Elapsed()
	j.Volume = 1
	j.Description = desc
	j.state = Active
	return nil
}

// Stop transitions ACTIVE -> INACTIVE (result found, or interrupted).
func (j *Job) Stop() error {
	if j.state != Active {
		return &ErrInvalidTransition{j.state, "stop"}
	}
	j.state = Inactive
	return nil
}

// Suspend transitions ACTIVE -> SUSPENDED (volume shrink or preemption).
func (j *Job) Suspend() error {
	if j.state != Active {
		return &ErrInvalidTransition{j.state, "suspend"}
	}
	j.state = Suspended
	j.Volume = 0
	return nil
}

// Resume transitions SUSPENDED -> ACTIVE (adoption at an existing slot).
func (j *Job) Resume() error {
	if j.state != Suspended {
		return &ErrInvalidTransition{j.state, "resume"}
	}
	j.state = Active
	return nil
}

// Terminate transitions any non-PAST state to PAST. Per invariant I5
// this is terminal: no field but housekeeping timestamps mutates after.
func (j *Job) Terminate() error {
	if j.state == Past {
		return &ErrInvalidTransition{j.state, "terminate"}
	}
	j.state = Past
	j.Volume = 0
	j.UnsetLeftChild()
	j.UnsetRightChild()
	j.TimeOfAbort = j.clock.Elapsed()
	return nil
}

// Demand computes the job's current demand curve per spec.md §4.1.
// While not ACTIVE the demand is frozen at its previously reported
// value, exactly as Job::getDemand's "frozen" branch does.
func (j *Job) Demand(prevVolume int) int {
	if j.state != Active {
		return prevVolume
	}
	var demand int
	if j.growthPeriod <= 0 {
		demand = j.fleetSize
	} else {
		t := j.clock.Elapsed() - j.TimeOfActivation
		numPeriods := t / j.growthPeriod
		if numPeriods >= 62 {
			// 2^(numPeriods+1) no longer fits in an int; it exceeds
			// any fleet size long before that.
			demand = j.fleetSize
		} else if !j.continuous {
			// Discrete periodic growth.
			numPeriods = math.Floor(numPeriods)
			demand = minInt(j.fleetSize, (1<<uint(int(numPeriods)+1))-1)
		} else {
			// d(0) := 1; d := 2d+1 every growthPeriod seconds.
			demand = minInt(j.fleetSize, int(math.Pow(2, numPeriods+1))-1)
		}
	}
	if j.maxDemand > 0 {
		demand = minInt(demand, j.maxDemand)
	}
	return demand
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Temperature computes the convergence-damping scalar of spec.md §4.1:
// monotone strictly decreasing, switching to a linear epsilon-scale
// decay once successive values stop changing at double precision.
func (j *Job) Temperature() float64 {
	const (
		baseTemp = 0.95
		decay    = 0.99
	)
	age := int(j.clock.Elapsed() - j.TimeOfActivation)
	eps := 2 * epsilon

	temp := baseTemp + (1-baseTemp)*math.Pow(decay, float64(age+1))

	if !j.haveConstCooldown && j.lastTemp > 0 && j.lastTemp-temp <= eps {
		j.constCooldownAge = age
		j.haveConstCooldown = true
	}
	if j.haveConstCooldown {
		return baseTemp + (1-baseTemp)*math.Pow(decay, float64(j.constCooldownAge+1)) -
			float64(age-j.constCooldownAge+1)*eps
	}
	j.lastTemp = temp
	return temp
}

const epsilon = 2.220446049250313e-16 // float64 machine epsilon, math.Nextafter(1,2)-1
