package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_FetchGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/premier-league/odds" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"m1","home":"Arsenal","away":"Chelsea","home_price":1.65,"away_price":2.60,"start_time":"2026-09-01T15:00:00Z"},
			{"id":"m2","home":"Leeds","away":"Everton","home_price":2.10,"away_price":1.75,"start_time":"not-a-time"}
		]`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("primary", srv.URL, 5*time.Second)
	snaps, err := p.FetchGroup(context.Background(), "premier-league")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	// The malformed fixture is skipped, not fatal.
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}

	got := snaps[0]
	if got.InstrumentID != "m1" || got.SideALabel != "Arsenal" || got.SideBLabel != "Chelsea" {
		t.Errorf("identity fields mangled: %+v", got)
	}
	if got.SideAValue != 1.65 || got.SideBValue != 2.60 {
		t.Errorf("prices mangled: %.2f / %.2f", got.SideAValue, got.SideBValue)
	}
	want := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	if !got.ScheduledAt.Equal(want) {
		t.Errorf("got scheduled %v, want %v", got.ScheduledAt, want)
	}
	if got.Provider != "primary" {
		t.Errorf("got provider %q, want primary", got.Provider)
	}
}

func TestHTTPProvider_EmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("primary", srv.URL, 5*time.Second)
	snaps, err := p.FetchGroup(context.Background(), "serie-a")
	if err != nil {
		t.Fatalf("empty feed must not error: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("got %d snapshots, want 0", len(snaps))
	}
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("primary", srv.URL, 5*time.Second)
	if _, err := p.FetchGroup(context.Background(), "serie-a"); err != nil {
		t.Fatalf("fetch must succeed after retries: %v", err)
	}
	if hits != 3 {
		t.Errorf("got %d requests, want 3", hits)
	}
}

func TestHTTPProvider_ClientErrorNotRetried(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewHTTPProvider("primary", srv.URL, 5*time.Second)
	if _, err := p.FetchGroup(context.Background(), "serie-a"); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if hits != 1 {
		t.Errorf("got %d requests, want 1 (no retry on client errors)", hits)
	}
}
