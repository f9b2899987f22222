// Package balance defines the balancer contract shared by the
// cutoff-priority and event-driven variants (spec.md §4.3), plus the
// EventMap merge structure the event-driven variant reduces across the
// fleet.
//
// EventMap is ported near-verbatim from
// original_source/src/balancing/event_driven_balancer.hpp's Event and
// EventMap classes: same dominance rule (larger epoch wins), same
// insert/filter/update/remove operations, and the same per-key merge
// result as the original's sorted two-pointer walk, computed here by
// folding one Go map into a copy of the other.
package balance

import (
	"github.com/twitter/fleet/id"
)

// Event is one job's demand/priority announcement at a given epoch.
// Epoch is a Lamport-style counter: any two events for the same job
// are totally ordered by Epoch alone, and a strictly larger epoch
// always wins a merge (Dominates).
type Event struct {
	JobId    id.JobId
	Epoch    int
	Demand   int
	Priority float64
}

// Dominates reports whether e should win a merge against other for the
// same job id.
func (e Event) Dominates(other Event) bool {
	return e.Epoch > other.Epoch
}

// EventMap is a job-id-keyed set of Events, reduced across the fleet
// by repeated pairwise Merge calls. It is deliberately a plain map
// wrapper, not a tree: original_source keeps it sorted by job id only
// so Merge can walk both sides with two pointers, which Go's map
// iteration order can't give us for free, so Merge here copies one map
// and folds the other into it — same result, no sorting needed.
type EventMap struct {
	entries map[id.JobId]Event
}

// NewEventMap returns an empty EventMap.
func NewEventMap() *EventMap {
	return &EventMap{entries: make(map[id.JobId]Event)}
}

// IsEmpty reports whether the map has no entries.
func (m *EventMap) IsEmpty() bool { return len(m.entries) == 0 }

// Entries returns the map's entries. Callers must not mutate the
// returned map.
func (m *EventMap) Entries() map[id.JobId]Event { return m.entries }

// InsertIfNovel adds ev if there is no entry for its job yet, or if ev
// dominates the existing entry and actually changes demand/priority.
// Negative epochs mark a terminated job and are always rejected.
func (m *EventMap) InsertIfNovel(ev Event) bool {
	if ev.Epoch < 0 {
		return false
	}
	existing, ok := m.entries[ev.JobId]
	if !ok || (ev.Dominates(existing) && (ev.Demand != existing.Demand || ev.Priority != existing.Priority)) {
		m.entries[ev.JobId] = ev
		return true
	}
	return false
}

// Remove deletes the entry for jobId, if any.
func (m *EventMap) Remove(jobId id.JobId) {
	delete(m.entries, jobId)
}

// RemoveOldZeros strips entries whose demand and priority have both
// settled to zero (a job that finished or was forgotten), returning
// the job ids removed.
func (m *EventMap) RemoveOldZeros() []id.JobId {
	var removed []id.JobId
	for jobId, ev := range m.entries {
		if ev.Demand == 0 && ev.Priority <= 0 {
			removed = append(removed, jobId)
		}
	}
	for _, jobId := range removed {
		delete(m.entries, jobId)
	}
	return removed
}

// FilterBy drops any entry whose epoch is already reflected in other
// (other's epoch for that job is >= this map's), the way a reduction
// stage discards entries a sibling has already accounted for.
func (m *EventMap) FilterBy(other *EventMap) {
	var toErase []id.JobId
	for jobId, ev := range m.entries {
		if otherEv, ok := other.entries[jobId]; ok && otherEv.Epoch >= ev.Epoch {
			toErase = append(toErase, jobId)
		}
	}
	for _, jobId := range toErase {
		delete(m.entries, jobId)
	}
}

// UpdateBy folds every entry of other into m via InsertIfNovel,
// reporting whether anything changed.
func (m *EventMap) UpdateBy(other *EventMap) bool {
	changed := false
	for _, ev := range other.entries {
		if m.InsertIfNovel(ev) {
			changed = true
		}
	}
	return changed
}

// Merge combines m and other into a new EventMap, keeping the
// dominant Event per job id. On an epoch tie the entry from b is kept.
// Merge is associative; it is commutative as long as entries with the
// same job id and epoch agree on demand and priority.
func Merge(a, b *EventMap) *EventMap {
	result := NewEventMap()
	for jobId, ev := range a.entries {
		result.entries[jobId] = ev
	}
	for jobId, ev := range b.entries {
		existing, ok := result.entries[jobId]
		if !ok || !existing.Dominates(ev) {
			result.entries[jobId] = ev
		}
	}
	return result
}

// Equal reports whether two EventMaps hold the same entries.
func (m *EventMap) Equal(other *EventMap) bool {
	if len(m.entries) != len(other.entries) {
		return false
	}
	for jobId, ev := range m.entries {
		otherEv, ok := other.entries[jobId]
		if !ok || ev != otherEv {
			return false
		}
	}
	return true
}
