package market

import (
	"math"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Thresholds holds the delta magnitudes that drive movement classification.
type Thresholds struct {
	MinChange         float64
	SignificantChange float64
	CriticalChange    float64
}

// Classify compares a side's previous and current price and returns the
// movement type and significance. ok is false when the movement is below the
// minimum change threshold or classifies as a plain normal movement; neither
// is surfaced further.
//
// Range membership deliberately dominates raw magnitude in the significance
// ordering: a movement that ends inside the actionable range is worth more
// than an equally sized one that ends outside it.
func Classify(oldValue, newValue float64, r models.TargetRange, th Thresholds) (models.MovementType, models.Significance, bool) {
	delta := newValue - oldValue
	if math.Abs(delta) < th.MinChange {
		return models.MovementNormal, models.SignificanceLow, false
	}

	oldIn := r.Contains(oldValue)
	newIn := r.Contains(newValue)

	var mt models.MovementType
	switch {
	case !oldIn && newIn:
		mt = models.MovementEnteringRange
	case oldIn && !newIn:
		mt = models.MovementExitingRange
	case math.Abs(delta) >= th.SignificantChange && delta > 0:
		mt = models.MovementLargeIncrease
	case math.Abs(delta) >= th.SignificantChange && delta < 0:
		mt = models.MovementLargeDecrease
	default:
		return models.MovementNormal, models.SignificanceLow, false
	}

	return mt, classifySignificance(delta, newIn, th), true
}

func classifySignificance(delta float64, newInRange bool, th Thresholds) models.Significance {
	abs := math.Abs(delta)
	switch {
	case newInRange && abs >= th.CriticalChange:
		return models.SignificanceCritical
	case newInRange && abs >= th.SignificantChange:
		return models.SignificanceHigh
	case newInRange || abs >= th.CriticalChange:
		return models.SignificanceMedium
	default:
		return models.SignificanceLow
	}
}
