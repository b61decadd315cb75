// Package zscore computes rolling z-scores over daily closes and maps them to
// trading signals.
package zscore

import (
	"fmt"
	"iter"
	"math"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Score is one element of a rolling z-score sequence.
type Score struct {
	// Value is NaN when the score is undefined.
	Value float64
	// Filled is true when Value was carried forward over a zero-variance
	// window.
	Filled bool
}

// Defined reports whether the score carries a usable value.
func (s Score) Defined() bool { return !math.IsNaN(s.Value) }

// Rolling returns the z-score of every element of series against the mean
// and sample standard deviation of the trailing window ending at it. Elements
// before the first full window are undefined. A window with zero spread has
// no z-score of its own and repeats the last defined value instead, if any.
//
// The returned sequence is lazy and may be ranged over more than once.
func Rolling(series []float64, window int) (iter.Seq2[int, Score], error) {
	if window < 2 {
		return nil, fmt.Errorf("zscore: window %d: %w", window, domain.ErrInsufficientData)
	}
	if len(series) < window {
		return nil, fmt.Errorf("zscore: %d points for window %d: %w", len(series), window, domain.ErrInsufficientData)
	}

	return func(yield func(int, Score) bool) {
		last := math.NaN()
		for i := range series {
			s := Score{Value: math.NaN()}
			if i >= window-1 {
				if z, ok := windowZ(series[i-window+1:i+1], series[i]); ok {
					last = z
					s.Value = z
				} else if !math.IsNaN(last) {
					s = Score{Value: last, Filled: true}
				}
			}
			if !yield(i, s) {
				return
			}
		}
	}, nil
}

// Latest returns the final element of Rolling(series, window).
func Latest(series []float64, window int) (Score, error) {
	seq, err := Rolling(series, window)
	if err != nil {
		return Score{}, err
	}
	out := Score{Value: math.NaN()}
	for _, s := range seq {
		out = s
	}
	return out, nil
}

// windowZ scores x against w. It returns false when w has zero spread or
// contains a non-finite value.
func windowZ(w []float64, x float64) (float64, bool) {
	lo, hi := w[0], w[0]
	var sum float64
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		lo = min(lo, v)
		hi = max(hi, v)
		sum += v
	}
	if lo == hi {
		return 0, false
	}
	mean := sum / float64(len(w))

	var ss float64
	for _, v := range w {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(w)-1))
	if std == 0 {
		return 0, false
	}
	return (x - mean) / std, true
}
