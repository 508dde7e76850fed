// Package market holds the in-memory snapshot store and the movement
// classifier. The store is a pure data structure with no I/O.
package market

import (
	"sort"
	"sync"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Store keeps the current snapshot per fixture plus a bounded per-fixture
// history. Updates are single-writer per key; reads may happen concurrently.
type Store struct {
	mu           sync.RWMutex
	current      map[string]models.Snapshot
	history      map[string][]models.Snapshot
	historyLimit int
	targetRange  models.TargetRange
	thresholds   Thresholds
}

// NewStore creates a snapshot store. historyLimit bounds the per-key history;
// the oldest entry is dropped on overflow.
func NewStore(historyLimit int, r models.TargetRange, th Thresholds) *Store {
	if historyLimit < 1 {
		historyLimit = 100
	}
	return &Store{
		current:      make(map[string]models.Snapshot),
		history:      make(map[string][]models.Snapshot),
		historyLimit: historyLimit,
		targetRange:  r,
		thresholds:   th,
	}
}

// Upsert atomically replaces the current snapshot for the fixture key and
// returns the movements classified against the previous snapshot. The first
// snapshot for a key yields no movements; an identical snapshot yields none
// either.
func (s *Store) Upsert(snap models.Snapshot) []models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snap.Key()
	prev, existed := s.current[key]
	s.current[key] = snap

	h := append(s.history[key], snap)
	if len(h) > s.historyLimit {
		h = h[len(h)-s.historyLimit:]
	}
	s.history[key] = h

	if !existed {
		return nil
	}

	var movements []models.Movement
	for _, side := range []models.Side{models.SideA, models.SideB} {
		oldValue := prev.Value(side)
		newValue := snap.Value(side)
		mt, sig, ok := Classify(oldValue, newValue, s.targetRange, s.thresholds)
		if !ok {
			continue
		}
		movements = append(movements, models.Movement{
			InstrumentID: snap.InstrumentID,
			GroupKey:     snap.GroupKey,
			Side:         side,
			OldValue:     oldValue,
			NewValue:     newValue,
			Delta:        newValue - oldValue,
			ObservedAt:   snap.ObservedAt,
			Type:         mt,
			Significance: sig,
		})
	}
	return movements
}

// Current returns the current snapshot for the key.
func (s *Store) Current(key string) (models.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.current[key]
	return snap, ok
}

// CurrentValue returns the current price of one side of the fixture.
func (s *Store) CurrentValue(key string, side models.Side) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.current[key]
	if !ok {
		return 0, false
	}
	return snap.Value(side), true
}

// History returns a copy of the bounded history for the key, oldest first.
func (s *Store) History(key string) []models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[key]
	out := make([]models.Snapshot, len(h))
	copy(out, h)
	return out
}

// Keys returns the tracked fixture keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.current))
	for k := range s.current {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked fixtures.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}
