// Package transport supplies the message-transport adapter of
// spec.md's component list item 1: typed envelopes, asynchronous
// send/receive queues, and deferred delivery, plus Fabric, a
// deterministic in-process implementation used by tests and the
// single-process demo binary in place of a real network substrate.
//
// Grounded on the teacher's async package for the "spawn a goroutine,
// deliver through a channel" shape, and on the message tag table of
// spec.md §6 for Tag's values.
package transport

import (
	"bytes"
	"encoding/gob"

	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/solver"
)

// Tag identifies a message's handler, per spec.md §6.
type Tag int

const (
	FindNode Tag = iota
	RequestBecomeChild
	AcceptBecomeChild
	RejectBecomeChild
	AckAcceptBecomeChild
	SendJobDescription
	UpdateVolume
	QueryVolume
	WorkerDefecting
	JobCommunication
	WorkerFoundResult
	ForwardClientRank
	QueryJobResult
	SendJobResult
	Terminate
	Interrupt
	Abort
	Collectives
	AnytimeReduction
	AnytimeBroadcast
	Warmup
	Exit
)

func (t Tag) String() string {
	switch t {
	case FindNode:
		return "FIND_NODE"
	case RequestBecomeChild:
		return "REQUEST_BECOME_CHILD"
	case AcceptBecomeChild:
		return "ACCEPT_BECOME_CHILD"
	case RejectBecomeChild:
		return "REJECT_BECOME_CHILD"
	case AckAcceptBecomeChild:
		return "ACK_ACCEPT_BECOME_CHILD"
	case SendJobDescription:
		return "SEND_JOB_DESCRIPTION"
	case UpdateVolume:
		return "UPDATE_VOLUME"
	case QueryVolume:
		return "QUERY_VOLUME"
	case WorkerDefecting:
		return "WORKER_DEFECTING"
	case JobCommunication:
		return "JOB_COMMUNICATION"
	case WorkerFoundResult:
		return "WORKER_FOUND_RESULT"
	case ForwardClientRank:
		return "FORWARD_CLIENT_RANK"
	case QueryJobResult:
		return "QUERY_JOB_RESULT"
	case SendJobResult:
		return "SEND_JOB_RESULT"
	case Terminate:
		return "TERMINATE"
	case Interrupt:
		return "INTERRUPT"
	case Abort:
		return "ABORT"
	case Collectives:
		return "COLLECTIVES"
	case AnytimeReduction:
		return "ANYTIME_REDUCTION"
	case AnytimeBroadcast:
		return "ANYTIME_BROADCAST"
	case Warmup:
		return "WARMUP"
	case Exit:
		return "EXIT"
	default:
		return "UNKNOWN_TAG"
	}
}

// JobResult is the payload carried WORKER_FOUND_RESULT (relayed parent
// by parent up to the job's root) -> SEND_JOB_RESULT (from the root to
// the client rank and any querying ranks): the same solver.Result a
// solving worker produced, plus the job identity and revision needed
// once it's no longer traveling alongside the job fragment that
// produced it.
type JobResult struct {
	JobId             id.JobId
	Revision          int
	Verdict           solver.Verdict
	Solution          []byte
	FailedAssumptions []int32
}

// NewJobResult builds a JobResult from a solve's outcome, the way a
// worker reacts to Solver.Solve's result channel firing.
func NewJobResult(jobID id.JobId, revision int, r solver.Result) JobResult {
	return JobResult{
		JobId:             jobID,
		Revision:          revision,
		Verdict:           r.Verdict,
		Solution:          r.Solution,
		FailedAssumptions: r.FailedAssumptions,
	}
}

// Envelope is the length-prefixed, tagged byte payload spec.md §6
// requires every message to be. The length prefix itself is handled by
// the codec (gob self-delimits); Payload is already the encoded bytes.
type Envelope struct {
	Tag     Tag
	SrcRank id.Rank
	Payload []byte
}

// Encode gob-encodes v into Payload. The codec is the adapter's
// concern, not the protocol's: swapping it never touches placement or
// balance logic, which only ever see decoded Go values.
func Encode(tag Tag, src id.Rank, v interface{}) (Envelope, error) {
	var buf bytes.Buffer
	if v != nil {
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return Envelope{}, err
		}
	}
	return Envelope{Tag: tag, SrcRank: src, Payload: buf.Bytes()}, nil
}

// Decode gob-decodes an Envelope's Payload into v.
func Decode(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return nil
	}
	return gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(v)
}
