package balance

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/twitter/fleet/id"
)

func genEvent() gopter.Gen {
	return gen.Struct(reflect.TypeOf(Event{}), map[string]gopter.Gen{
		"JobId":    gen.IntRange(0, 20).Map(func(i int) id.JobId { return id.JobId(i) }),
		"Epoch":    gen.IntRange(0, 50),
		"Demand":   gen.IntRange(0, 100),
		"Priority": gen.Float64Range(0, 10),
	})
}

func genEventSlice() gopter.Gen {
	return gen.SliceOfN(9, genEvent())
}

func TestEventMapMergeIsAssociative(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("merge(merge(a,b),c) == merge(a,merge(b,c))", prop.ForAll(
		func(evs []Event) bool {
			third := len(evs) / 3
			a := mapFromEvents(evs[:third])
			b := mapFromEvents(evs[third : 2*third])
			c := mapFromEvents(evs[2*third:])
			left := Merge(Merge(a, b), c)
			right := Merge(a, Merge(b, c))
			return left.Equal(right)
		},
		genEventSlice(),
	))
	properties.TestingRun(t)
}

func TestEventMapMergeKeepsLargerEpochPerJob(t *testing.T) {
	a := NewEventMap()
	a.InsertIfNovel(Event{JobId: 1, Epoch: 2, Demand: 4, Priority: 1})
	b := NewEventMap()
	b.InsertIfNovel(Event{JobId: 1, Epoch: 5, Demand: 9, Priority: 2})

	merged := Merge(a, b)
	got := merged.Entries()[1]
	if got.Epoch != 5 || got.Demand != 9 {
		t.Fatalf("expected the larger-epoch event to win, got %+v", got)
	}
}

func TestInsertIfNovelRejectsNegativeEpoch(t *testing.T) {
	m := NewEventMap()
	if m.InsertIfNovel(Event{JobId: 1, Epoch: -1}) {
		t.Fatal("a negative epoch must never be inserted")
	}
}

func TestInsertIfNovelRejectsNonDominatingSameContent(t *testing.T) {
	m := NewEventMap()
	m.InsertIfNovel(Event{JobId: 1, Epoch: 3, Demand: 5, Priority: 1})
	if m.InsertIfNovel(Event{JobId: 1, Epoch: 3, Demand: 5, Priority: 1}) {
		t.Fatal("an equal-epoch, identical event should not count as novel")
	}
}

func TestRemoveOldZerosStripsSettledJobs(t *testing.T) {
	m := NewEventMap()
	m.InsertIfNovel(Event{JobId: 1, Epoch: 1, Demand: 0, Priority: 0})
	m.InsertIfNovel(Event{JobId: 2, Epoch: 1, Demand: 3, Priority: 1})
	removed := m.RemoveOldZeros()
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("expected only job 1 removed, got %v", removed)
	}
	if _, ok := m.Entries()[2]; !ok {
		t.Fatal("job 2 should remain")
	}
}

func mapFromEvents(evs []Event) *EventMap {
	m := NewEventMap()
	for _, ev := range evs {
		m.InsertIfNovel(ev)
	}
	return m
}
