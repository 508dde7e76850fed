package scoring

import (
	"math"

	"github.com/oddswatch/oddswatch/internal/models"
)

// StakingFunc sizes a stake from a decimal price and an estimated true win
// probability. It returns the recommended stake and the edge estimate
// (expected value per unit staked). A non-positive stake rejects the
// opportunity.
type StakingFunc func(value, prob float64) (stake, edge float64)

// ProbFunc estimates the true win probability of one side of a fixture. The
// probability model is a replaceable strategy; the scorer only consumes its
// output.
type ProbFunc func(snap models.Snapshot, side models.Side) float64

// KellyStaking returns a fractional-Kelly staking function: the full Kelly
// percentage is scaled by fraction and capped at maxPct of bankroll.
func KellyStaking(bankroll, fraction, maxPct float64) StakingFunc {
	return func(value, prob float64) (float64, float64) {
		if value <= 1.0 || prob <= 0 || prob >= 1 {
			return 0, 0
		}
		edge := value*prob - 1.0
		if edge <= 0 {
			return 0, 0
		}

		b := value - 1.0 // net odds
		kelly := (b*prob - (1.0 - prob)) / b
		if kelly <= 0 {
			return 0, edge
		}

		pct := kelly * fraction
		if pct > maxPct {
			pct = maxPct
		}
		return round2(bankroll * pct), edge
	}
}

// NoVigProbability estimates the true probability of a side by removing the
// bookmaker margin from the two-sided line. With merged best prices across
// providers the combined book can go overbroke, which is exactly when a side
// carries positive expected value.
func NoVigProbability(snap models.Snapshot, side models.Side) float64 {
	ia := 1.0 / snap.SideAValue
	ib := 1.0 / snap.SideBValue
	total := ia + ib
	if total <= 0 {
		return 0
	}
	return (1.0 / snap.Value(side)) / total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
