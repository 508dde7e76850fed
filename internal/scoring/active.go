package scoring

import (
	"sort"
	"sync"
	"time"

	"github.com/oddswatch/oddswatch/internal/models"
)

// ActiveSet holds the live opportunities, keyed by opportunity ID. A new score
// for the same (instrument, side) pair replaces the prior entry; entries whose
// scheduled time has passed or whose age exceeds the TTL are evicted each
// cycle.
type ActiveSet struct {
	mu     sync.Mutex
	byID   map[string]models.Opportunity
	byPair map[string]string // pair key -> opportunity ID
	ttl    time.Duration
}

// NewActiveSet creates an active set with the given entry TTL.
func NewActiveSet(ttl time.Duration) *ActiveSet {
	return &ActiveSet{
		byID:   make(map[string]models.Opportunity),
		byPair: make(map[string]string),
		ttl:    ttl,
	}
}

// Add inserts an opportunity, replacing any prior entry for the same
// (instrument, side) pair.
func (a *ActiveSet) Add(o models.Opportunity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pair := o.PairKey()
	if prevID, ok := a.byPair[pair]; ok {
		delete(a.byID, prevID)
	}
	a.byPair[pair] = o.ID
	a.byID[o.ID] = o
}

// List returns the active opportunities ordered by priority score descending.
func (a *ActiveSet) List() []models.Opportunity {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Opportunity, 0, len(a.byID))
	for _, o := range a.byID {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PriorityScore > out[j].PriorityScore
	})
	return out
}

// Len returns the number of active opportunities.
func (a *ActiveSet) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

// EvictExpired removes and returns opportunities whose scheduled time has
// passed or whose age exceeds the TTL.
func (a *ActiveSet) EvictExpired(now time.Time) []models.Opportunity {
	a.mu.Lock()
	defer a.mu.Unlock()

	var evicted []models.Opportunity
	for id, o := range a.byID {
		if now.After(o.ScheduledAt) || now.Sub(o.DetectedAt) > a.ttl {
			evicted = append(evicted, o)
			delete(a.byID, id)
			delete(a.byPair, o.PairKey())
		}
	}
	return evicted
}
