// Package worker implements spec.md §4.4's control loop: the single
// goroutine per rank that dispatches incoming transport messages by
// tag, drives the configured balancer variant and the clause-exchange overlay,
// applies computed volumes to local job fragments per §4.5, and backs
// off when there is nothing to do.
//
// Grounded on original_source/src/worker.cpp's main loop (advanceBalancing
// / updateVolume / checkActiveJob dispatched from a single select-style
// poll) and on the teacher's scheduler/server poll loops for the
// Go shape: a struct holding every collaborator, a Step that does one
// bounded unit of work, and a Run that calls Step until told to stop.
package worker

import (
	"context"
	"runtime"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/fleet/balance/cutoff"
	"github.com/twitter/fleet/balance/eventdriven"
	"github.com/twitter/fleet/clauseshare"
	"github.com/twitter/fleet/clock"
	"github.com/twitter/fleet/config"
	"github.com/twitter/fleet/exitcode"
	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	"github.com/twitter/fleet/placement"
	"github.com/twitter/fleet/solver"
	"github.com/twitter/fleet/stats"
	"github.com/twitter/fleet/transport"
)

// SolverFactory builds a fresh solver for a newly adopted job fragment.
type SolverFactory func(jobID id.JobId) solver.Solver

// fragment bundles everything the worker tracks about one locally
// hosted job fragment: its lifecycle state, its solver (once ACTIVE),
// its clause-exchange communicator, and the bookkeeping the placement
// protocol needs (known epoch, outstanding request, pending waiters).
type fragment struct {
	job    *jobtree.Job
	solver solver.Solver
	comm   *clauseshare.Communicator

	epoch int

	pendingRequest *placement.JobRequest // the FIND_NODE this rank itself minted, if any
	resultWaiters  []id.Rank              // ranks asking this fragment's root for a result
	result         *transport.JobResult   // set once this job's root has a verdict

	commEpoch int

	solving  bool
	resultCh <-chan solver.Result
}

// Worker drives one rank's share of the fleet.
type Worker struct {
	rank      id.Rank
	endpoint  *transport.Endpoint
	cfg       config.Parameters
	clock     clock.Clock
	newSolver SolverFactory
	stats     stats.StatsReceiver
	bounce    placement.BouncePolicy

	fragments map[id.JobId]*fragment

	cutoffBalancer *cutoff.Balancer
	eventBalancer  *eventdriven.Balancer
	cutoffActive   bool
	eventActive    bool
	lastDemand     map[id.JobId]int
	lastPriority   map[id.JobId]float64

	clauseExchangeTicker clock.Ticker

	idleBackoff backoff.BackOff

	outstandingSince time.Time // when the oldest unresolved transport wait began
	haveOutstanding  bool

	exitCode exitcode.Code
	stopped  bool

	deliveredResults map[id.JobId]transport.JobResult // landed here because this rank was named as a client rank
}

// New builds a Worker for one rank. bounce chooses which policy
// decides FIND_NODE's next hop; tests typically pass
// placement.Randomized{}.
func New(rank id.Rank, endpoint *transport.Endpoint, cfg config.Parameters, clk clock.Clock, newSolver SolverFactory, st stats.StatsReceiver, bounce placement.BouncePolicy) *Worker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.IdleBackoffInitial
	b.MaxInterval = cfg.IdleBackoffMax
	b.MaxElapsedTime = 0 // never give up; the caller decides when to stop

	return &Worker{
		rank:                 rank,
		endpoint:             endpoint,
		cfg:                  cfg,
		clock:                clk,
		newSolver:            newSolver,
		stats:                st,
		bounce:               bounce,
		fragments:            make(map[id.JobId]*fragment),
		cutoffBalancer:       cutoff.New(rank, cfg.FleetSize, cfg.LoadFactor, cfg.CutoffPeriod.Seconds(), cfg.Mode(), cfg.RoundingSeed),
		eventBalancer:        eventdriven.New(rank, cfg.FleetSize, cfg.LoadFactor, cfg.Mode(), cfg.RoundingSeed),
		lastDemand:           make(map[id.JobId]int),
		lastPriority:         make(map[id.JobId]float64),
		clauseExchangeTicker: clk.NewTicker(cfg.ClauseExchangePeriod),
		idleBackoff:          b,
		deliveredResults:     make(map[id.JobId]transport.JobResult),
	}
}

// SubmitRoot installs jobID as a freshly submitted root job on this
// rank, the way a client's initial request lands directly on whichever
// rank accepts it.
func (w *Worker) SubmitRoot(jobID id.JobId, desc *jobtree.Description) error {
	f := w.newFragment(jobID, id.RootIndex)
	if err := f.job.Commit(id.NoRank, id.NoRank); err != nil {
		return errors.Wrap(err, "worker: commit root")
	}
	if err := f.job.Start(desc); err != nil {
		return errors.Wrap(err, "worker: start root")
	}
	w.attachSolver(f)
	return nil
}

func (w *Worker) newFragment(jobID id.JobId, index id.TreeIndex) *fragment {
	job := jobtree.New(jobID, index, jobtree.Config{
		FleetSize:    w.cfg.FleetSize,
		GrowthPeriod: w.cfg.GrowthPeriod,
		Continuous:   w.cfg.Continuous,
		MaxDemand:    w.cfg.MaxDemand,
	}, w.clock)
	f := &fragment{job: job}
	w.fragments[jobID] = f
	return f
}

func (w *Worker) attachSolver(f *fragment) {
	f.solver = w.newSolver(f.job.Id)
	f.comm = clauseshare.New(f.job, f.solver)
	f.solving = true
	f.resultCh = f.solver.Solve(context.Background(), assumptionsOf(f.job.Description))
}

func assumptionsOf(desc *jobtree.Description) []int32 {
	if desc == nil {
		return nil
	}
	return nil // the assumption literals travel inside Payload, backend-specific to parse
}

// Step performs one bounded unit of work: watchdog check, one message
// dispatch, balancer/clause-share driving, volume application, and (if
// nothing at all happened) one pass through the idle suspension point,
// which yields, sleeps for the backoff interval, or spins per the
// Yield/Sleep flags (see suspend). It returns
// false once the worker has received EXIT and should stop.
func (w *Worker) Step(ctx context.Context) bool {
	if code, breached := w.checkWatchdog(); breached {
		w.exitCode = code
		w.stopped = true
		return false
	}

	progressed := false

	if env, ok := w.endpoint.TryRecv(); ok {
		w.haveOutstanding = false
		w.dispatch(env)
		progressed = true
	} else if !w.haveOutstanding {
		w.outstandingSince = w.clock.Now()
		w.haveOutstanding = true
	}

	if w.driveBalancers() {
		progressed = true
	}
	if w.driveResults() {
		progressed = true
	}
	if w.driveClauseExchange() {
		progressed = true
	}
	if w.applyVolumeUpdates() {
		progressed = true
	}

	if w.stopped {
		return false
	}

	if progressed {
		w.idleBackoff.Reset()
	} else if !w.suspend(ctx) {
		return false
	}
	return true
}

// suspend is the control loop's one suspension point (spec.md §4.4):
// yield hands the scheduler a chance to run another goroutine without
// measuring elapsed time; otherwise it sleeps for the current backoff
// interval. It returns false if ctx ended while suspended.
func (w *Worker) suspend(ctx context.Context) bool {
	switch {
	case w.cfg.Yield:
		runtime.Gosched()
		return ctx.Err() == nil
	case w.cfg.Sleep:
		select {
		case <-time.After(w.idleBackoff.NextBackOff()):
			return true
		case <-ctx.Done():
			return false
		}
	default:
		return ctx.Err() == nil // busy-spin: no suspension at all
	}
}

// Run calls Step until it returns false or ctx is done, returning the
// process exit code the way worker.cpp's main loop's exit value does.
func (w *Worker) Run(ctx context.Context) exitcode.Code {
	for {
		select {
		case <-ctx.Done():
			return exitcode.Clean
		default:
		}
		if !w.Step(ctx) {
			return w.exitCode
		}
	}
}

// checkWatchdog implements spec.md §7's transport-stuck condition: a
// single outstanding receive left open past WatchdogTimeout.
func (w *Worker) checkWatchdog() (exitcode.Code, bool) {
	if !w.haveOutstanding {
		return exitcode.Clean, false
	}
	if w.clock.Since(w.outstandingSince) > w.cfg.WatchdogTimeout.Seconds() {
		log.WithFields(log.Fields{"rank": w.rank}).Error("transport stuck: no message received past watchdog timeout")
		return exitcode.TransportStuck, true
	}
	return exitcode.Clean, false
}

func (w *Worker) dispatch(env transport.Envelope) {
	switch env.Tag {
	case transport.FindNode:
		w.handleFindNode(env)
	case transport.RequestBecomeChild:
		w.handleRequestBecomeChild(env)
	case transport.AcceptBecomeChild:
		w.handleAcceptBecomeChild(env)
	case transport.RejectBecomeChild:
		w.handleRejectBecomeChild(env)
	case transport.AckAcceptBecomeChild:
		w.handleAckAcceptBecomeChild(env)
	case transport.SendJobDescription:
		w.handleSendJobDescription(env)
	case transport.UpdateVolume:
		w.handleUpdateVolume(env)
	case transport.QueryVolume:
		w.handleQueryVolume(env)
	case transport.WorkerDefecting:
		w.handleWorkerDefecting(env)
	case transport.JobCommunication:
		w.handleJobCommunication(env)
	case transport.WorkerFoundResult:
		w.handleWorkerFoundResult(env)
	case transport.ForwardClientRank:
		w.handleForwardClientRank(env)
	case transport.QueryJobResult:
		w.handleQueryJobResult(env)
	case transport.SendJobResult:
		w.handleSendJobResult(env)
	case transport.Terminate, transport.Abort:
		w.handleTerminate(env)
	case transport.Interrupt:
		w.handleInterrupt(env)
	case transport.Collectives, transport.AnytimeReduction, transport.AnytimeBroadcast:
		w.handleCollectives(env)
	case transport.Exit:
		w.stopped = true
	case transport.Warmup:
		// No-op: a warmup message only exists to prime the transport
		// path before real traffic starts.
	default:
		log.WithField("tag", env.Tag).Warn("worker: unrecognized tag, dropping")
	}
}

// Warmup sends a WARMUP message to a peer, priming the transport path
// before real placement traffic starts (spec.md §6's warmup flag).
func (w *Worker) Warmup(to id.Rank) {
	w.send(to, transport.Warmup, nil)
}

func (w *Worker) send(to id.Rank, tag transport.Tag, v interface{}) {
	if err := w.endpoint.Send(to, tag, v); err != nil {
		log.WithError(err).WithFields(log.Fields{"to": to, "tag": tag}).Error("worker: send failed")
	}
}
