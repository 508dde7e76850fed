package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oddswatch/oddswatch/internal/models"
)

type fakeProvider struct {
	name  string
	snaps map[string][]models.Snapshot
	err   error
	calls atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchGroup(ctx context.Context, groupID string) ([]models.Snapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.snaps[groupID], nil
}

func fixtureSnapshot(instrument string, a, b float64, scheduled time.Time) models.Snapshot {
	return models.Snapshot{
		InstrumentID: instrument,
		SideALabel:   "Home",
		SideBLabel:   "Away",
		SideAValue:   a,
		SideBValue:   b,
		ObservedAt:   time.Now().UTC(),
		ScheduledAt:  scheduled,
	}
}

func schedulerConfig(groups ...string) Config {
	return Config{
		Groups:        groups,
		FetchTimeout:  time.Second,
		MaxConcurrent: 2,
		Lookback:      4 * time.Hour,
		Lookahead:     48 * time.Hour,
	}
}

func TestRunCycle_FetchesAllGroups(t *testing.T) {
	scheduled := time.Now().UTC().Add(6 * time.Hour)
	p := &fakeProvider{name: "primary", snaps: map[string][]models.Snapshot{
		"premier-league": {fixtureSnapshot("m1", 1.65, 2.60, scheduled)},
		"serie-a":        {fixtureSnapshot("m2", 2.10, 1.75, scheduled)},
	}}
	s := NewScheduler(schedulerConfig("premier-league", "serie-a"), []Provider{p})

	res := s.RunCycle(context.Background())
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(res.Snapshots))
	}
	// Results come back in configured group order with group and provider set.
	if res.Snapshots[0].GroupKey != "premier-league" || res.Snapshots[1].GroupKey != "serie-a" {
		t.Errorf("groups out of order: %s, %s", res.Snapshots[0].GroupKey, res.Snapshots[1].GroupKey)
	}
	if res.Snapshots[0].Provider != "primary" {
		t.Errorf("got provider %q, want primary", res.Snapshots[0].Provider)
	}
	if res.Requests != 2 || res.Failures != 0 {
		t.Errorf("got %d requests / %d failures, want 2/0", res.Requests, res.Failures)
	}
}

func TestRunCycle_GroupFailureIsolated(t *testing.T) {
	scheduled := time.Now().UTC().Add(6 * time.Hour)
	p := &fakeProvider{name: "flaky", snaps: map[string][]models.Snapshot{
		"premier-league": {fixtureSnapshot("m1", 1.65, 2.60, scheduled)},
	}}
	s := NewScheduler(schedulerConfig("premier-league", "serie-a"), []Provider{p})

	// serie-a has no data and a second scheduler whose provider errors shows
	// the same isolation: a failed group never aborts the others.
	failing := &fakeProvider{name: "down", err: errors.New("connection refused")}
	both := NewScheduler(schedulerConfig("premier-league"), []Provider{failing})

	res := s.RunCycle(context.Background())
	if len(res.Snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(res.Snapshots))
	}

	down := both.RunCycle(context.Background())
	if len(down.Snapshots) != 0 {
		t.Fatalf("failed provider yielded %d snapshots", len(down.Snapshots))
	}
	err, ok := down.Errors["premier-league"]
	if !ok {
		t.Fatal("expected an error recorded for the failed group")
	}
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Errorf("got %T, want *ProviderError", err)
	}
	if down.Failures != 1 {
		t.Errorf("got %d failures, want 1", down.Failures)
	}
}

func TestRunCycle_WindowFilter(t *testing.T) {
	now := time.Now().UTC()
	p := &fakeProvider{name: "primary", snaps: map[string][]models.Snapshot{
		"premier-league": {
			fixtureSnapshot("past", 1.65, 2.60, now.Add(-10*time.Hour)),
			fixtureSnapshot("soon", 1.65, 2.60, now.Add(6*time.Hour)),
			fixtureSnapshot("far", 1.65, 2.60, now.Add(80*time.Hour)),
		},
	}}
	s := NewScheduler(schedulerConfig("premier-league"), []Provider{p})

	res := s.RunCycle(context.Background())
	if len(res.Snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1 inside the window", len(res.Snapshots))
	}
	if res.Snapshots[0].InstrumentID != "soon" {
		t.Errorf("got %s, want soon", res.Snapshots[0].InstrumentID)
	}
}

func TestRunCycle_DropsInvalidSnapshots(t *testing.T) {
	scheduled := time.Now().UTC().Add(6 * time.Hour)
	p := &fakeProvider{name: "primary", snaps: map[string][]models.Snapshot{
		"premier-league": {
			fixtureSnapshot("good", 1.65, 2.60, scheduled),
			fixtureSnapshot("bad", 0.95, 2.60, scheduled),
		},
	}}
	s := NewScheduler(schedulerConfig("premier-league"), []Provider{p})

	res := s.RunCycle(context.Background())
	if len(res.Snapshots) != 1 || res.Snapshots[0].InstrumentID != "good" {
		t.Fatalf("invalid snapshot leaked through: %+v", res.Snapshots)
	}
}

func TestRunCycle_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	failing := &fakeProvider{name: "down", err: errors.New("connection refused")}
	s := NewScheduler(schedulerConfig("premier-league"), []Provider{failing})

	for i := 0; i < 3; i++ {
		s.RunCycle(context.Background())
	}
	state, err := s.BreakerState("down")
	if err != nil {
		t.Fatal(err)
	}
	if state != "open" {
		t.Errorf("got breaker state %q after three failed cycles, want open", state)
	}

	// An open breaker short-circuits without calling the provider.
	calls := failing.calls.Load()
	s.RunCycle(context.Background())
	if got := failing.calls.Load(); got != calls {
		t.Errorf("open breaker still reached the provider (%d calls)", got-calls)
	}

	if _, err := s.BreakerState("unknown"); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}
