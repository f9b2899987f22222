// Package placement implements the job-tree placement protocol of
// spec.md §4.2: JobRequest bouncing, hop caps, obsolescence, the
// three-way commit handshake, and root-slot preemption. It is pure
// decision logic — the worker package owns the transport wiring and
// calls into this package to decide what a received message means.
//
// Grounded on original_source/src/worker.cpp's handleFindNode and
// bounceJobRequest for the bounce/adopt/preempt decision tree, and
// worker.h for the JobRequest/epoch bookkeeping shape.
package placement

import (
	"math/rand"

	"github.com/nu7hatch/gouuid"

	"github.com/twitter/fleet/id"
)

// JobRequest is minted when a root activates, when the balancer raises
// a volume past a currently-vacant child index, or when a defection
// leaves an index vacant (spec.md §4.2 "Request origin").
type JobRequest struct {
	RequestId          string // correlates re-mints of the same logical request across log lines
	JobId              id.JobId
	RequestedIndex     id.TreeIndex
	RequestingNodeRank id.Rank
	RootRank           id.Rank
	NumHops            int
	Epoch              int
	TimeOfBirth        float64
	FullTransfer       bool
	Revision           int
}

// NewRequestId mints a correlation id for a freshly-minted JobRequest,
// the way runJob.go retries uuid.NewV4 until it succeeds.
func NewRequestId() string {
	u, err := uuid.NewV4()
	for err != nil {
		u, err = uuid.NewV4()
	}
	return u.String()
}

// JobSignature is the candidate's reply at commit-handshake step 1:
// enough information for the requester to decide whether it needs a
// full transfer or can resume locally from an existing description.
type JobSignature struct {
	JobId        id.JobId
	RootRank     id.Rank
	Revision     int
	TransferSize int
}

// MaxHops returns the hop cap of spec.md §4.2: N/2 for root-slot
// requests, 2N for any other index.
func MaxHops(fleetSize int, rootSlot bool) int {
	if rootSlot {
		return fleetSize / 2
	}
	return 2 * fleetSize
}

// ExceedsHopCap reports whether req has already been bounced past its
// cap and must be dropped.
func ExceedsHopCap(req JobRequest, fleetSize int) bool {
	return req.NumHops > MaxHops(fleetSize, req.RequestedIndex.IsRoot())
}

// EpochSource answers the two obsolescence questions bounceJobRequest's
// caller needs about a job it may already know of.
type EpochSource interface {
	// CurrentEpoch returns the newest epoch this node has observed for
	// jobId, or req.Epoch itself if the job is entirely unknown.
	CurrentEpoch(jobId id.JobId) int
	// IsPast reports whether this node already knows jobId to be PAST.
	IsPast(jobId id.JobId) bool
}

// IsObsolete reports whether req should be dropped without forwarding:
// a newer epoch exists for this job, or the job is already PAST here.
func IsObsolete(req JobRequest, src EpochSource) bool {
	if src.IsPast(req.JobId) {
		return true
	}
	return src.CurrentEpoch(req.JobId) > req.Epoch
}

// BouncePolicy picks the next candidate to forward a bounced request
// to, skipping the requester, the immediate sender, and (for the
// randomized policy) the node itself.
type BouncePolicy interface {
	Next(req JobRequest, senderRank, selfRank id.Rank, fleetSize int) id.Rank
}

var (
	_ BouncePolicy = Randomized{}
	_ BouncePolicy = Derandomized{}
)

// Randomized draws from a pseudorandom permutation of [0, fleetSize)
// seeded by (job_id, requested_index, requesting_node_rank); the
// permutation index advances by one per hop, per spec.md §4.2.
type Randomized struct{}

func (Randomized) Next(req JobRequest, senderRank, selfRank id.Rank, fleetSize int) id.Rank {
	seed := int64(3*int(req.JobId) + 7*int(req.RequestedIndex) + 11*int(req.RequestingNodeRank))
	perm := rand.New(rand.NewSource(seed)).Perm(fleetSize)
	idx := req.NumHops % fleetSize
	for {
		candidate := id.Rank(perm[idx])
		if candidate != selfRank && candidate != req.RequestingNodeRank && candidate != senderRank {
			return candidate
		}
		idx = (idx + 1) % fleetSize
	}
}

// Derandomized picks uniformly among a fixed window of bounce
// alternatives (a worker's neighbors in a fleet-wide permutation),
// skipping only the requester and the sender. The window is fixed at
// construction rather than derived from fleetSize/selfRank, so Next's
// signature still matches BouncePolicy exactly.
type Derandomized struct {
	Alternatives []id.Rank
	Rand         *rand.Rand
}

func (d Derandomized) Next(req JobRequest, senderRank, _ id.Rank, _ int) id.Rank {
	r := d.Rand
	if r == nil {
		r = rand.New(rand.NewSource(1))
	}
	for {
		candidate := d.Alternatives[r.Intn(len(d.Alternatives))]
		if candidate != req.RequestingNodeRank && candidate != senderRank {
			return candidate
		}
	}
}

// Bounce increments NumHops and returns the request ready to forward.
// Callers still choose nextRank via a BouncePolicy and send it
// themselves; Bounce only owns the hop-count bookkeeping so both
// policies share it identically.
func Bounce(req JobRequest) JobRequest {
	req.NumHops++
	return req
}

// CandidateState is the subset of a job fragment's local state the
// adoption decision needs, kept narrow so this package doesn't import
// jobtree just to read six fields.
type CandidateState struct {
	Idle            bool
	HasCommitments  bool
	CurrentActive   bool
	CurrentIsRoot   bool
	CurrentHasLeft  bool
	CurrentHasRight bool
}

// Decision is the outcome of evaluating a FIND_NODE arrival.
type Decision int

const (
	// Bounce forwards the request onward unchanged (besides hop count).
	DecisionBounce Decision = iota
	// Drop discards the request silently (obsolete or over hop cap).
	DecisionDrop
	// Adopt commits to the request as-is.
	DecisionAdopt
	// Preempt suspends the current job first, then adopts.
	DecisionPreempt
)

// Evaluate implements handleFindNode's decision tree: adopt if idle
// and uncommitted; drop if over the hop cap (unless this is a starving
// root request that can preempt); preempt a childless non-root leaf to
// make room for a starving root; otherwise bounce.
func Evaluate(req JobRequest, fleetSize int, state CandidateState) Decision {
	if state.Idle && !state.HasCommitments {
		return DecisionAdopt
	}

	overCap := ExceedsHopCap(req, fleetSize)
	if !overCap {
		return DecisionBounce
	}

	if !req.RequestedIndex.IsRoot() {
		return DecisionDrop
	}
	if state.HasCommitments {
		return DecisionDrop
	}
	if state.CurrentActive && !state.CurrentIsRoot && !state.CurrentHasLeft && !state.CurrentHasRight {
		return DecisionPreempt
	}
	return DecisionDrop
}

// Defection is the WORKER_DEFECTING notice a preempted or dropped
// child sends its parent so the parent can re-mint a JobRequest for
// the now-vacant index.
type Defection struct {
	JobId id.JobId
	Index id.TreeIndex
}

// AckStep is the requester's reply at commit-handshake step 2: either
// it needs the full description transferred, or it already holds a
// matching one and can resume locally without waiting on step 3.
type AckStep struct {
	NeedsTransfer bool
	Signature     JobSignature
}

// DecideAck implements step 2 of the three-way handshake: a full
// transfer is needed unless the requester already has a description
// for this exact job and revision.
func DecideAck(sig JobSignature, haveDescription bool, knownRevision int) AckStep {
	needsTransfer := !haveDescription || knownRevision != sig.Revision
	return AckStep{NeedsTransfer: needsTransfer, Signature: sig}
}

// RevisionNotice is what a root sends down its job's tree when the
// client amends a job's assumptions or payload mid-search, minting a
// new Description revision that already-active descendants must catch
// up to. Carried over transport.SendJobDescription the same as the
// original transfer, distinguished by Revision > 0's target fragment
// already being ACTIVE rather than freshly adopted.
type RevisionNotice struct {
	JobId    id.JobId
	Revision int
	Epoch    int
}

// NotifyRevision decides whether an incoming RevisionNotice should be
// acted on, epoch-gated the same way IsObsolete guards FIND_NODE: a
// notice that doesn't strictly advance both the epoch and the revision
// this fragment already knows is a stale duplicate and must be dropped,
// since accepting it could revert a fragment to an older assumption set.
func NotifyRevision(notice RevisionNotice, knownRevision, knownEpoch int) bool {
	return notice.Epoch > knownEpoch && notice.Revision > knownRevision
}

// FetchRevision is the reply to an accepted RevisionNotice: it reuses
// the exact JobSignature/AckStep negotiation the commit handshake's
// step 1/2 already do, since retrieving a new revision's payload is the
// same full-transfer decision as retrieving the original description,
// just against the fragment's already-known revision instead of "none".
func FetchRevision(sig JobSignature, knownRevision int) AckStep {
	return DecideAck(sig, true, knownRevision)
}
