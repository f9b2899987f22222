// Package clauseshare implements spec.md §4.7: the per-job clause-
// exchange overlay that gathers learned clauses up a job's placement
// tree, merges them at each internal node once both children (that
// exist) have reported in, and broadcasts the merged set back down —
// separate from balance/butterfly's fleet-wide reduction, since this
// tree is the job's own placement tree (jobtree.Job's parent/children),
// not a rank-indexed communicator spanning the whole fleet.
//
// Grounded on original_source/src/app/sat_clause_communicator.cpp's
// initiateCommunication/continueCommunication/
// learnAndDistributeClausesDownwards/shareCollectedClauses. Its merge
// step interleaves clauses by a "VIP" tier recorded as a length prefix
// in its own wire format; solver.ClauseBuffer (established in the
// solver package) carries no such prefix, so mergeBuffers here is a
// plain fair round-robin across buffers instead of a length-tiered
// one — the tiering structure has nothing to key off without that
// prefix.
package clauseshare

import (
	"bytes"
	"encoding/gob"
	"math"

	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/solver"
)

// InitialSize and Multiplier mirror CLAUSE_EXCHANGE_INITIAL_SIZE and
// CLAUSE_EXCHANGE_MULTIPLIER: the clause budget starts small and grows
// geometrically with the number of tree layers a gather has passed
// through, so a deep subtree doesn't starve a shallow one.
const (
	InitialSize = 1000
	Multiplier  = 2
)

// Tag distinguishes the two message shapes this overlay sends, both
// carried over transport.JobCommunication.
type Tag int

const (
	TagGather Tag = iota
	TagDistribute
)

// wireMessage is what travels over transport.JobCommunication.
type wireMessage struct {
	JobId        id.JobId
	Epoch        int
	Tag          Tag
	PassedLayers int
	Clauses      solver.ClauseBuffer
}

// OutMessage is a wireMessage this communicator needs the worker to
// transmit to another rank, encoded and ready to hand to
// transport.Endpoint.Send under the JobCommunication tag.
type OutMessage struct {
	To      id.Rank
	Payload []byte
}

// Communicator runs one job's clause-exchange overlay.
type Communicator struct {
	job    *jobtree.Job
	solver solver.Solver

	lastSharedEpoch int
	buffers         []solver.ClauseBuffer
	numSources      int

	outbox []OutMessage
}

// New builds a communicator for one job fragment. solver may be nil
// (the fragment has no attached solver yet, e.g. still initializing),
// in which case every gather it contributes is empty.
func New(job *jobtree.Job, sv solver.Solver) *Communicator {
	return &Communicator{job: job, solver: sv, lastSharedEpoch: -1}
}

// DrainOutbox returns and clears every message queued since the last
// drain.
func (c *Communicator) DrainOutbox() []OutMessage {
	out := c.outbox
	c.outbox = nil
	return out
}

// InitiateCommunication starts one clause-exchange round for the given
// job communication epoch, per initiateCommunication.
func (c *Communicator) InitiateCommunication(epoch int) {
	if c.job.Index.IsRoot() {
		if c.job.State() == jobtree.Active {
			payload := c.collectFromSolver(InitialSize)
			c.learnFromAbove(payload)
		}
		c.lastSharedEpoch = epoch
		return
	}
	payload := c.collectFromSolver(InitialSize)
	c.send(c.job.ParentRank, wireMessage{
		JobId: c.job.Id, Epoch: epoch, Tag: TagGather, PassedLayers: 0, Clauses: payload,
	})
}

// ContinueCommunication handles one incoming gather or distribute
// message, per continueCommunication.
func (c *Communicator) ContinueCommunication(payload []byte) {
	if c.job.State() != jobtree.Active {
		return
	}
	var msg wireMessage
	if err := decode(payload, &msg); err != nil {
		return
	}

	switch msg.Tag {
	case TagGather:
		if c.lastSharedEpoch >= msg.Epoch {
			// Already shared upward this epoch: this arrival must be a
			// stray duplicate hop; treat it as the merged set instead.
			c.learnAndDistributeDownwards(msg.Clauses, msg.Epoch)
			return
		}
		c.collectFromBelow(msg.Clauses)
		if c.canShare() {
			shared := c.shareCollected(msg.PassedLayers + 1)
			if c.job.Index.IsRoot() {
				c.learnAndDistributeDownwards(shared, msg.Epoch)
			} else {
				c.send(c.job.ParentRank, wireMessage{
					JobId: c.job.Id, Epoch: msg.Epoch, Tag: TagGather,
					PassedLayers: msg.PassedLayers + 1, Clauses: shared,
				})
			}
			c.lastSharedEpoch = msg.Epoch
		}
	case TagDistribute:
		c.learnAndDistributeDownwards(msg.Clauses, msg.Epoch)
	}
}

func (c *Communicator) learnAndDistributeDownwards(clauses solver.ClauseBuffer, epoch int) {
	if c.job.HasLeftChild() {
		c.send(c.job.LeftChildRank, wireMessage{JobId: c.job.Id, Epoch: epoch, Tag: TagDistribute, Clauses: clauses})
	}
	if c.job.HasRightChild() {
		c.send(c.job.RightChildRank, wireMessage{JobId: c.job.Id, Epoch: epoch, Tag: TagDistribute, Clauses: clauses})
	}
	if len(clauses) > 0 {
		c.learnFromAbove(clauses)
	}
}

func (c *Communicator) collectFromSolver(maxSize int) solver.ClauseBuffer {
	if c.solver == nil {
		return nil
	}
	return c.solver.PrepareSharing(maxSize)
}

func (c *Communicator) learnFromAbove(clauses solver.ClauseBuffer) {
	if c.solver == nil || len(clauses) == 0 {
		return
	}
	c.solver.DigestSharing(clauses)
}

func (c *Communicator) collectFromBelow(clauses solver.ClauseBuffer) {
	c.buffers = append(c.buffers, clauses)
	c.numSources++
}

// canShare reports whether every existing child has reported in.
func (c *Communicator) canShare() bool {
	numChildren := 0
	if c.job.HasLeftChild() {
		numChildren++
	}
	if c.job.HasRightChild() {
		numChildren++
	}
	return numChildren == c.numSources
}

func (c *Communicator) shareCollected(passedLayers int) solver.ClauseBuffer {
	maxSize := int(float64(InitialSize) * math.Pow(Multiplier, float64(passedLayers)))
	self := c.collectFromSolver(maxSize)
	buffers := append(append([]solver.ClauseBuffer{}, c.buffers...), self)
	merged := mergeBuffers(buffers, maxSize*Multiplier)
	c.buffers = nil
	c.numSources = 0
	return merged
}

func (c *Communicator) send(to id.Rank, msg wireMessage) {
	payload, err := encode(msg)
	if err != nil {
		return
	}
	c.outbox = append(c.outbox, OutMessage{To: to, Payload: payload})
}

// mergeBuffers fairly interleaves clauses from every buffer, round-
// robin, until maxLiterals literals (including zero separators) would
// be exceeded.
func mergeBuffers(buffers []solver.ClauseBuffer, maxLiterals int) solver.ClauseBuffer {
	clauseLists := make([][][]int32, len(buffers))
	for i, buf := range buffers {
		clauseLists[i] = splitClauses(buf)
	}

	var result solver.ClauseBuffer
	usedLiterals := 0
	positions := make([]int, len(buffers))
	remaining := len(buffers)
	for remaining > 0 {
		remaining = 0
		for i := range clauseLists {
			if positions[i] >= len(clauseLists[i]) {
				continue
			}
			remaining++
			clause := clauseLists[i][positions[i]]
			if usedLiterals+len(clause)+1 > maxLiterals {
				return result
			}
			result = appendClause(result, clause)
			usedLiterals += len(clause) + 1
			positions[i]++
		}
	}
	return result
}

func splitClauses(buf solver.ClauseBuffer) [][]int32 {
	var clauses [][]int32
	var cur []int32
	for i := 0; i+3 < len(buf); i += 4 {
		lit := int32(buf[i]) | int32(buf[i+1])<<8 | int32(buf[i+2])<<16 | int32(buf[i+3])<<24
		if lit == 0 {
			clauses = append(clauses, cur)
			cur = nil
			continue
		}
		cur = append(cur, lit)
	}
	return clauses
}

func appendClause(buf solver.ClauseBuffer, clause []int32) solver.ClauseBuffer {
	for _, lit := range clause {
		buf = append(buf, byte(lit), byte(lit>>8), byte(lit>>16), byte(lit>>24))
	}
	return append(buf, 0, 0, 0, 0)
}

func encode(msg wireMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(payload []byte, msg *wireMessage) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(msg)
}
