package stats

// Stat name constants used across worker/balance/placement, collected
// here the way the teacher collects its stat names in stats_names.go.
const (
	MemoryUsageBytes     = "memory_usage_bytes"
	ActiveJobs           = "active_jobs"
	KnownJobs            = "known_jobs"
	BalancingEpoch       = "balancing_epoch"
	PlacementHopsLatency = "placement_hops"
	JobsForgotten        = "jobs_forgotten"
	VolumeChangesApplied = "volume_changes_applied"
	ClauseExchangeRounds = "clause_exchange_rounds"
)
