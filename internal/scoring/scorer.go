// Package scoring turns in-range snapshots into scored opportunities and
// maintains the active-opportunity set.
package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Config holds the scoring parameters.
type Config struct {
	TargetRange       models.TargetRange
	GroupTiers        map[string]int // group key -> 1 (best) .. 3
	SignificantChange float64        // movement-velocity normalization
}

// Scorer decides which (fixture, side) pairs qualify as opportunities and
// computes stake sizing, urgency, and priority.
type Scorer struct {
	cfg     Config
	staking StakingFunc
	prob    ProbFunc
	now     func() time.Time
}

// New creates a scorer. staking and prob are pluggable strategies; prob
// defaults to NoVigProbability when nil.
func New(cfg Config, staking StakingFunc, prob ProbFunc) *Scorer {
	if prob == nil {
		prob = NoVigProbability
	}
	return &Scorer{cfg: cfg, staking: staking, prob: prob, now: time.Now}
}

// Score evaluates one side of a snapshot against its movements. It returns
// false when the side does not qualify: price outside the target range, or a
// non-positive recommended stake.
func (sc *Scorer) Score(snap models.Snapshot, side models.Side, movements []models.Movement) (models.Opportunity, bool) {
	value := snap.Value(side)
	if !sc.cfg.TargetRange.Contains(value) {
		return models.Opportunity{}, false
	}

	stake, edge := sc.staking(value, sc.prob(snap, side))
	if stake <= 0 || edge < 0 {
		return models.Opportunity{}, false
	}

	now := sc.now().UTC()
	matched, hasMovement := matchMovement(movements, side)
	previous := value
	direction := "none"
	if hasMovement {
		previous = matched.OldValue
		if matched.Delta > 0 {
			direction = "increase"
		} else if matched.Delta < 0 {
			direction = "decrease"
		}
	}

	timeToEvent := snap.ScheduledAt.Sub(now)
	points := sc.urgencyPoints(edge, snap.GroupKey, matched, hasMovement, timeToEvent, value)
	urgency := urgencyBucket(points)

	return models.Opportunity{
		ID:                uuid.New().String(),
		InstrumentID:      snap.InstrumentID,
		Side:              side,
		CounterSide:       side.Opposite(),
		Value:             value,
		PreviousValue:     previous,
		GroupKey:          snap.GroupKey,
		ScheduledAt:       snap.ScheduledAt,
		DetectedAt:        now,
		RecommendedStake:  stake,
		ConfidenceLabel:   confidenceLabel(edge),
		EdgeEstimate:      edge,
		Urgency:           urgency,
		PriorityScore:     sc.priorityScore(edge, snap.GroupKey, urgency, matched, hasMovement, value),
		TimeSensitivity:   sc.timeSensitivity(timeToEvent, matched, hasMovement),
		MovementDirection: direction,
	}, true
}

// matchMovement picks the most significant movement for the side.
func matchMovement(movements []models.Movement, side models.Side) (models.Movement, bool) {
	var best models.Movement
	found := false
	for _, m := range movements {
		if m.Side != side {
			continue
		}
		if !found || m.Significance > best.Significance {
			best = m
			found = true
		}
	}
	return best, found
}

// urgencyPoints implements the weighted urgency score: edge magnitude 0-3,
// group quality tier 0-2, movement significance 0-3, time to event 0-2,
// range-boundary proximity 0-1.
func (sc *Scorer) urgencyPoints(edge float64, group string, matched models.Movement, hasMovement bool, timeToEvent time.Duration, value float64) int {
	points := 0

	switch {
	case edge >= 0.08:
		points += 3
	case edge >= 0.05:
		points += 2
	case edge >= 0.02:
		points += 1
	}

	switch sc.tier(group) {
	case 1:
		points += 2
	case 2:
		points += 1
	}

	if hasMovement {
		points += int(matched.Significance)
	}

	switch {
	case timeToEvent <= 3*time.Hour:
		points += 2
	case timeToEvent <= 12*time.Hour:
		points += 1
	}

	if sc.nearBoundary(value) {
		points++
	}

	return points
}

func urgencyBucket(points int) models.UrgencyLevel {
	switch {
	case points >= 7:
		return models.UrgencyCritical
	case points >= 5:
		return models.UrgencyHigh
	case points >= 3:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// priorityScore is the continuous ranking value used only for ordering.
func (sc *Scorer) priorityScore(edge float64, group string, urgency models.UrgencyLevel, matched models.Movement, hasMovement bool, value float64) float64 {
	base := edge * 100 * 2.0

	tierWeight := 1.0
	switch sc.tier(group) {
	case 1:
		tierWeight = 1.5
	case 2:
		tierWeight = 1.2
	}

	urgencyMult := 1.0
	switch urgency {
	case models.UrgencyMedium:
		urgencyMult = 1.1
	case models.UrgencyHigh:
		urgencyMult = 1.25
	case models.UrgencyCritical:
		urgencyMult = 1.5
	}

	moveBonus := 0.0
	if hasMovement {
		moveBonus = float64(matched.Significance) * 0.5
	}

	return base*tierWeight*urgencyMult + moveBonus + sc.boundaryCentering(value)
}

// timeSensitivity is a 0-1 score driven by proximity to the scheduled event
// and movement velocity; the dispatcher uses it to favor expiring
// opportunities.
func (sc *Scorer) timeSensitivity(timeToEvent time.Duration, matched models.Movement, hasMovement bool) float64 {
	proximity := 1.0 - timeToEvent.Hours()/48.0
	proximity = clamp01(proximity)

	velocity := 0.0
	if hasMovement && sc.cfg.SignificantChange > 0 {
		velocity = clamp01(math.Abs(matched.Delta) / sc.cfg.SignificantChange)
	}

	return clamp01(0.7*proximity + 0.3*velocity)
}

func (sc *Scorer) tier(group string) int {
	if t, ok := sc.cfg.GroupTiers[group]; ok {
		return t
	}
	return 3
}

// nearBoundary reports whether the value sits within 10% of the range width
// from either boundary.
func (sc *Scorer) nearBoundary(value float64) bool {
	margin := sc.cfg.TargetRange.Width() * 0.10
	return value-sc.cfg.TargetRange.Min <= margin || sc.cfg.TargetRange.Max-value <= margin
}

// boundaryCentering is 1 at the range center, falling to 0 at the boundaries.
func (sc *Scorer) boundaryCentering(value float64) float64 {
	half := sc.cfg.TargetRange.Width() / 2
	if half <= 0 {
		return 0
	}
	return clamp01(1.0 - math.Abs(value-sc.cfg.TargetRange.Center())/half)
}

func confidenceLabel(edge float64) string {
	switch {
	case edge > 0.05:
		return "high"
	case edge < 0.02:
		return "low"
	default:
		return "medium"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
