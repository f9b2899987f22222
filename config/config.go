// Package config binds the tunables of spec.md §6 to command-line
// flags via cobra, the way scheduler/client/cli's *Params types bind
// theirs, so a fleetd process can be configured entirely from its
// invocation without a separate config file format.
package config

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/twitter/fleet/balance"
)

// Parameters is every tunable a fleetd process needs, gathered in one
// place the way scheduler/client/cli/sched_alg_params.go gathers its
// scheduling knobs.
type Parameters struct {
	Rank      int
	FleetSize int

	LoadFactor float64 // "l": target load per node

	CutoffPeriod  time.Duration // "p" in seconds
	RoundingMode  string        // "probabilistic" or "bisection"
	RoundingSeed  int64
	BalancerKind  string // "cutoff" or "eventdriven"

	GrowthPeriod float64 // "g": <=0 means immediate growth to full demand
	Continuous   bool    // "cg"
	MaxDemand    int     // "md": 0 means unbounded

	ClauseExchangePeriod time.Duration

	BounceAlternatives int  // size of the derandomized bounce window; 0 disables it
	Derandomize        bool // use placement.Derandomized instead of placement.Randomized
	Warmup             bool // send a WARMUP round-trip to every peer before accepting work
	Sleep              bool // sleep (vs. spin) the idle loop's suspension point
	Yield              bool // yield the idle loop's suspension point instead of sleeping

	WatchdogTimeout    time.Duration
	MemoryCapBytes     int64
	IdleBackoffInitial time.Duration
	IdleBackoffMax     time.Duration

	LogLevel string
}

// Default returns Parameters with the values worker.cpp and
// event_driven_balancer.hpp fall back to absent an explicit override.
func Default() Parameters {
	return Parameters{
		FleetSize:            1,
		LoadFactor:           1.0,
		CutoffPeriod:         5 * time.Second,
		RoundingMode:         "probabilistic",
		RoundingSeed:         1,
		BalancerKind:         "cutoff",
		GrowthPeriod:         1.0,
		Continuous:           false,
		MaxDemand:            0,
		ClauseExchangePeriod: time.Second,
		BounceAlternatives:   0,
		Derandomize:          false,
		Warmup:               false,
		Sleep:                true,
		Yield:                false,
		WatchdogTimeout:      60 * time.Second,
		MemoryCapBytes:       0,
		IdleBackoffInitial:   10 * time.Millisecond,
		IdleBackoffMax:       time.Second,
		LogLevel:             "info",
	}
}

// RegisterFlags binds p's fields onto cmd's persistent flag set, the
// way scootapi/client/cli.go's commands bind their own params.
func (p *Parameters) RegisterFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.IntVar(&p.Rank, "rank", p.Rank, "this process's rank in the fleet")
	f.IntVar(&p.FleetSize, "fleet-size", p.FleetSize, "number of ranks in the fleet")
	f.Float64Var(&p.LoadFactor, "load-factor", p.LoadFactor, "target number of active jobs per rank")
	f.DurationVar(&p.CutoffPeriod, "cutoff-period", p.CutoffPeriod, "cutoff-priority balancing round period")
	f.StringVar(&p.RoundingMode, "rounding-mode", p.RoundingMode, "volume rounding policy: probabilistic|bisection")
	f.Int64Var(&p.RoundingSeed, "rounding-seed", p.RoundingSeed, "seed for probabilistic rounding's coin flips")
	f.StringVar(&p.BalancerKind, "balancer", p.BalancerKind, "balancing strategy: cutoff|eventdriven")
	f.Float64Var(&p.GrowthPeriod, "growth-period", p.GrowthPeriod, "seconds between demand doublings, <=0 for immediate")
	f.BoolVar(&p.Continuous, "continuous-growth", p.Continuous, "use continuous instead of discrete demand growth")
	f.IntVar(&p.MaxDemand, "max-demand", p.MaxDemand, "cap on any job's demand, 0 for unbounded")
	f.DurationVar(&p.ClauseExchangePeriod, "clause-exchange-period", p.ClauseExchangePeriod, "clause-sharing round period")
	f.IntVar(&p.BounceAlternatives, "bounce-alternatives", p.BounceAlternatives, "derandomized bounce window size, 0 to stay randomized")
	f.BoolVar(&p.Derandomize, "derandomize", p.Derandomize, "use a fixed derandomized bounce window instead of a random permutation")
	f.BoolVar(&p.Warmup, "warmup", p.Warmup, "exchange a warmup round-trip with every peer before accepting work")
	f.BoolVar(&p.Sleep, "sleep", p.Sleep, "sleep the idle loop's suspension point (default) instead of spinning")
	f.BoolVar(&p.Yield, "yield", p.Yield, "yield the idle loop's suspension point instead of sleeping")
	f.DurationVar(&p.WatchdogTimeout, "watchdog-timeout", p.WatchdogTimeout, "max time an outstanding transport call may stay open")
	f.Int64Var(&p.MemoryCapBytes, "memory-cap-bytes", p.MemoryCapBytes, "hard memory cap, 0 for unbounded")
	f.DurationVar(&p.IdleBackoffInitial, "idle-backoff-initial", p.IdleBackoffInitial, "initial idle-loop backoff")
	f.DurationVar(&p.IdleBackoffMax, "idle-backoff-max", p.IdleBackoffMax, "max idle-loop backoff")
	f.StringVar(&p.LogLevel, "log-level", p.LogLevel, "log level: debug|info|warn|error")
}

// Mode resolves RoundingMode's string form to balance.RoundingMode,
// falling back to Probabilistic on an unrecognized value.
func (p *Parameters) Mode() balance.RoundingMode {
	if p.RoundingMode == "bisection" {
		return balance.Bisection
	}
	return balance.Probabilistic
}
