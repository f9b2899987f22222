// Command fleetd runs a fleet of workers cooperatively solving the
// jobs submitted to it, the way worker.cpp's mainProgram drives one
// MPI rank's share of the computation. Because the physical transport
// substrate and the SAT-solver portfolio are both out of scope (§1),
// this binary simulates a whole fleet in one OS process over an
// in-memory transport.Fabric and a solver.Fake per job, exercising the
// same placement/balancing/clause-sharing/result-propagation code a
// real multi-host deployment would run unmodified.
//
// Grounded on worker/workerserver/main.go and binaries/scoot-snapshot-db/main.go
// for the logrus-hook-plus-cobra wiring shape.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/fleet/clock"
	"github.com/twitter/fleet/config"
	"github.com/twitter/fleet/exitcode"
	"github.com/twitter/fleet/id"
	"github.com/twitter/fleet/jobtree"
	_ "github.com/twitter/fleet/logging"
	"github.com/twitter/fleet/placement"
	"github.com/twitter/fleet/solver"
	"github.com/twitter/fleet/stats"
	"github.com/twitter/fleet/transport"
	"github.com/twitter/fleet/worker"
)

func main() {
	cfg := config.Default()

	var formulaSize int
	var priority float64
	var seed int64

	root := &cobra.Command{
		Use:   "fleetd",
		Short: "run a simulated fleet of workers solving one demo job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, formulaSize, priority, seed)
		},
	}
	cfg.RegisterFlags(root)
	root.PersistentFlags().IntVar(&formulaSize, "formula-size", 64, "literal count of the demo job submitted at rank 0")
	root.PersistentFlags().Float64Var(&priority, "priority", 1.0, "priority of the demo job submitted at rank 0")
	root.PersistentFlags().Int64Var(&seed, "seed", time.Now().UnixNano(), "seed for the demo job's formula")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config.Parameters, formulaSize int, priority float64, seed int64) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if cfg.FleetSize < 1 {
		return fmt.Errorf("fleet-size must be >= 1, got %d", cfg.FleetSize)
	}

	clk := clock.New()
	stat := stats.DefaultStatsReceiver()
	fabric := transport.NewFabric(cfg.FleetSize)

	workers := make([]*worker.Worker, cfg.FleetSize)
	for r := 0; r < cfg.FleetSize; r++ {
		rank := id.Rank(r)
		rankCfg := cfg
		rankCfg.Rank = r
		workers[r] = worker.New(rank, fabric.Endpoint(rank), rankCfg, clk, demoSolverFactory(), stat.Scope(fmt.Sprintf("rank%d", r)), bouncePolicy(cfg, rank))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	codes := make([]exitcode.Code, cfg.FleetSize)
	for r, w := range workers {
		wg.Add(1)
		go func(r int, w *worker.Worker) {
			defer wg.Done()
			codes[r] = w.Run(ctx)
		}(r, w)
	}

	if cfg.Warmup {
		warmup(workers)
	}

	jobID := id.JobId(rand.New(rand.NewSource(seed)).Int63())
	desc := &jobtree.Description{
		Priority:    priority,
		FormulaSize: formulaSize,
		Revision:    1,
		Payload:     demoFormula(formulaSize, seed),
		ClientRank:  id.Rank(0),
	}
	if err := workers[0].SubmitRoot(jobID, desc); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	log.WithFields(log.Fields{"job": jobID, "fleet_size": cfg.FleetSize}).Info("fleetd: submitted demo job")

	go awaitResult(ctx, cancel, workers[0], jobID)

	wg.Wait()

	worst := exitcode.Clean
	for _, c := range codes {
		if c != exitcode.Clean {
			worst = c
		}
	}
	if worst != exitcode.Clean {
		os.Exit(int(worst))
	}
	return nil
}

// demoSolverFactory stands in for the external SAT-solver portfolio
// (§4.6): the core never sees a concrete backend, only this interface,
// so a deterministic in-memory Solver exercises the exact same adapter
// boundary a real one would.
func demoSolverFactory() worker.SolverFactory {
	return func(jobID id.JobId) solver.Solver {
		return solver.NewFake()
	}
}

func bouncePolicy(cfg config.Parameters, self id.Rank) placement.BouncePolicy {
	if !cfg.Derandomize || cfg.BounceAlternatives <= 0 {
		return placement.Randomized{}
	}
	n := cfg.BounceAlternatives
	if n > cfg.FleetSize {
		n = cfg.FleetSize
	}
	alternatives := make([]id.Rank, n)
	for i := range alternatives {
		alternatives[i] = id.Rank((int(self) + i) % cfg.FleetSize)
	}
	return placement.Derandomized{Alternatives: alternatives, Rand: rand.New(rand.NewSource(int64(self) + 1))}
}

// warmup exchanges one round-trip of WARMUP messages between every
// pair of ranks, priming the transport path before real placement
// traffic starts.
func warmup(workers []*worker.Worker) {
	for i, w := range workers {
		for j := range workers {
			if i == j {
				continue
			}
			w.Warmup(id.Rank(j))
		}
	}
	log.WithField("fleet_size", len(workers)).Debug("fleetd: warmup round-trip sent")
}

// awaitResult polls rank 0 for the demo job's verdict and shuts the
// whole simulated fleet down once it lands, the way a real deployment
// would hand the verdict to the client and tear down its job tree.
func awaitResult(ctx context.Context, cancel context.CancelFunc, rank0 *worker.Worker, jobID id.JobId) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res, ok := rank0.Result(jobID); ok {
				log.WithFields(log.Fields{"job": jobID, "verdict": res.Verdict}).Info("fleetd: demo job resolved")
				cancel()
				return
			}
		}
	}
}

// demoFormula fabricates a trivial satisfiable formula payload of the
// requested literal count, backend-specific in shape the way §4.6
// treats every description payload: opaque to the core, meaningful
// only to the solver adapter that eventually parses it.
func demoFormula(formulaSize int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, formulaSize)
	r.Read(buf)
	return buf
}
