package market

import (
	"testing"
	"time"

	"github.com/oddswatch/oddswatch/internal/models"
)

func testSnapshot(instrument string, a, b float64, observed time.Time) models.Snapshot {
	return models.Snapshot{
		InstrumentID: instrument,
		GroupKey:     "premier-league",
		SideALabel:   "Home",
		SideBLabel:   "Away",
		SideAValue:   a,
		SideBValue:   b,
		ObservedAt:   observed,
		ScheduledAt:  observed.Add(24 * time.Hour),
		Provider:     "test",
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(100, testRange, testThresholds())
}

func TestStore_FirstUpsertYieldsNoMovements(t *testing.T) {
	s := newTestStore(t)
	if got := s.Upsert(testSnapshot("m1", 2.10, 1.75, time.Now())); got != nil {
		t.Errorf("first upsert produced %d movements, want none", len(got))
	}
	if s.Len() != 1 {
		t.Errorf("store tracks %d fixtures, want 1", s.Len())
	}
}

func TestStore_UpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	snap := testSnapshot("m1", 2.10, 1.75, time.Now())
	s.Upsert(snap)
	if got := s.Upsert(snap); len(got) != 0 {
		t.Errorf("identical upsert produced %d movements, want 0", len(got))
	}
}

func TestStore_UpsertClassifiesBothSides(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.Upsert(testSnapshot("m1", 2.10, 1.75, now))
	movements := s.Upsert(testSnapshot("m1", 1.65, 2.05, now.Add(time.Minute)))

	if len(movements) != 2 {
		t.Fatalf("got %d movements, want 2", len(movements))
	}
	if movements[0].Side != models.SideA || movements[0].Type != models.MovementEnteringRange {
		t.Errorf("side A: got %s/%s, want a/entering", movements[0].Side, movements[0].Type)
	}
	if movements[1].Side != models.SideB || movements[1].Type != models.MovementExitingRange {
		t.Errorf("side B: got %s/%s, want b/exiting", movements[1].Side, movements[1].Type)
	}
}

func TestStore_SupersedesCurrent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	first := testSnapshot("m1", 2.10, 1.75, now)
	second := testSnapshot("m1", 1.65, 2.05, now.Add(time.Minute))
	s.Upsert(first)
	s.Upsert(second)

	v, ok := s.CurrentValue(second.Key(), models.SideA)
	if !ok {
		t.Fatal("expected current value")
	}
	if v != 1.65 {
		t.Errorf("got current value %.2f, want 1.65", v)
	}

	h := s.History(second.Key())
	if len(h) != 2 {
		t.Fatalf("history has %d entries, want 2", len(h))
	}
	if h[0].SideAValue != 2.10 || h[1].SideAValue != 1.65 {
		t.Error("history is not ordered oldest first")
	}
}

func TestStore_HistoryBounded(t *testing.T) {
	s := NewStore(10, testRange, testThresholds())
	now := time.Now()
	for i := 0; i < 25; i++ {
		s.Upsert(testSnapshot("m1", 1.50, 2.50, now.Add(time.Duration(i)*time.Minute)))
	}
	h := s.History("premier-league:m1")
	if len(h) != 10 {
		t.Fatalf("history has %d entries, want 10", len(h))
	}
	// Oldest entries must have been dropped.
	if got := h[0].ObservedAt; !got.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("oldest retained entry observed at %v, want %v", got, now.Add(15*time.Minute))
	}
}

func TestStore_KeysSorted(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	for _, id := range []string{"m3", "m1", "m2"} {
		s.Upsert(testSnapshot(id, 1.50, 2.50, now))
	}

	keys := s.Keys()
	want := []string{"premier-league:m1", "premier-league:m2", "premier-league:m3"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestStore_CurrentValueUnknownKey(t *testing.T) {
	s := newTestStore(t)
	if _, ok := s.CurrentValue("nope", models.SideA); ok {
		t.Error("expected no value for unknown key")
	}
}
