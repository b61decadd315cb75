package zscore

import (
	"math"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Thresholds are the z-score decision boundaries.
type Thresholds struct {
	EntryLong     float64
	EntryShort    float64
	ExitLong      float64
	ExitShort     float64
	StopLossLong  float64
	StopLossShort float64
}

// DefaultThresholds returns the shipped boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EntryLong:     -1.5,
		EntryShort:    1.5,
		ExitLong:      -0.1,
		ExitShort:     0.1,
		StopLossLong:  -3.0,
		StopLossShort: 3.0,
	}
}

// Classify maps z to a signal. Rules are checked in a fixed order and the
// first match wins, so with entry thresholds inside the stop-loss thresholds
// the stop-loss signals are never produced.
func Classify(z float64, t Thresholds) domain.Signal {
	switch {
	case math.IsNaN(z):
		return domain.SignalNone
	case z < t.EntryLong:
		return domain.SignalBuy
	case z > t.EntryShort:
		return domain.SignalSellShort
	case t.EntryLong < z && z < t.ExitLong:
		return domain.SignalExitLong
	case t.EntryShort > z && z > t.ExitShort:
		return domain.SignalExitShort
	case z < t.StopLossLong:
		return domain.SignalStopLossLong
	case z > t.StopLossShort:
		return domain.SignalStopLossShort
	default:
		return domain.SignalNone
	}
}

// ClassifyScore classifies s, treating an undefined score as no signal.
func ClassifyScore(s Score, t Thresholds) domain.Signal {
	if !s.Defined() {
		return domain.SignalNone
	}
	return Classify(s.Value, t)
}
