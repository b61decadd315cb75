package zscore

import (
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/revbot/internal/domain"
)

func TestClassifyThresholdTable(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		z    float64
		want domain.Signal
	}{
		{-2.0, domain.SignalBuy},
		{2.0, domain.SignalSellShort},
		{-0.5, domain.SignalExitLong},
		{0.5, domain.SignalExitShort},
		{0.0, domain.SignalNone},
		// Entry rules are checked first, so deep readings still enter.
		{-3.5, domain.SignalBuy},
		{3.5, domain.SignalSellShort},
		// Boundaries are strict.
		{-1.5, domain.SignalNone},
		{1.5, domain.SignalNone},
		{-0.1, domain.SignalNone},
		{0.1, domain.SignalNone},
		{math.NaN(), domain.SignalNone},
	}
	for _, tt := range tests {
		if got := Classify(tt.z, th); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.z, got, tt.want)
		}
	}
}

func TestClassifyStopLossReachableWithWideEntries(t *testing.T) {
	th := Thresholds{EntryLong: -5, EntryShort: 5, ExitLong: -4, ExitShort: 4, StopLossLong: -3, StopLossShort: 3}
	if got := Classify(-3.5, th); got != domain.SignalStopLossLong {
		t.Fatalf("Classify(-3.5) = %s, want stop_loss_long", got)
	}
	if got := Classify(3.5, th); got != domain.SignalStopLossShort {
		t.Fatalf("Classify(3.5) = %s, want stop_loss_short", got)
	}
	if got := Classify(-4.5, th); got != domain.SignalExitLong {
		t.Fatalf("Classify(-4.5) = %s, want exit_long", got)
	}
}

func TestRollingInsufficientData(t *testing.T) {
	if _, err := Rolling([]float64{1, 2, 3}, 5); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if _, err := Rolling([]float64{1, 2, 3}, 1); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("window 1: err = %v, want ErrInsufficientData", err)
	}
}

func TestRollingSampleStd(t *testing.T) {
	// Window [1 2 3 4 5]: mean 3, sample std sqrt(2.5).
	series := []float64{1, 2, 3, 4, 5}
	s, err := Latest(series, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := 2 / math.Sqrt(2.5)
	if math.Abs(s.Value-want) > 1e-12 {
		t.Fatalf("z = %v, want %v", s.Value, want)
	}
	if s.Filled {
		t.Fatal("score should not be forward-filled")
	}
}

func TestRollingAlignedAndUndefinedBeforeWindow(t *testing.T) {
	series := []float64{10, 11, 12, 11, 10, 9, 10}
	seq, err := Rolling(series, 3)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for i, s := range seq {
		if i != n {
			t.Fatalf("index %d out of order, want %d", i, n)
		}
		if i < 2 && s.Defined() {
			t.Fatalf("index %d defined before the window filled", i)
		}
		if i >= 2 && !s.Defined() {
			t.Fatalf("index %d undefined", i)
		}
		n++
	}
	if n != len(series) {
		t.Fatalf("yielded %d scores, want %d", n, len(series))
	}
}

func TestRollingIsRestartable(t *testing.T) {
	seq, err := Rolling([]float64{3, 1, 4, 1, 5, 9, 2, 6}, 4)
	if err != nil {
		t.Fatal(err)
	}
	collect := func() []float64 {
		var out []float64
		for _, s := range seq {
			out = append(out, s.Value)
		}
		return out
	}
	a, b := collect(), collect()
	for i := range a {
		if !(a[i] == b[i] || (math.IsNaN(a[i]) && math.IsNaN(b[i]))) {
			t.Fatalf("pass 2 differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRollingZeroVarianceGuard(t *testing.T) {
	series := make([]float64, 40)
	for i := range series {
		series[i] = 100
	}
	seq, err := Rolling(series, 30)
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range seq {
		if s.Defined() {
			t.Fatalf("constant series produced defined z %v at %d", s.Value, i)
		}
		if sig := ClassifyScore(s, DefaultThresholds()); sig != domain.SignalNone {
			t.Fatalf("constant series fired %s at %d", sig, i)
		}
	}
}

func TestRollingForwardFillsAfterSpreadCollapses(t *testing.T) {
	// Windows ending at 4 and 5 have spread; the one ending at 6 is flat.
	series := []float64{5, 5, 5, 5, 1, 1, 1}
	seq, err := Rolling(series, 3)
	if err != nil {
		t.Fatal(err)
	}
	var got []Score
	for _, s := range seq {
		got = append(got, s)
	}
	if got[2].Defined() || got[3].Defined() {
		t.Fatal("flat leading windows must stay undefined")
	}
	if !got[4].Defined() || got[4].Filled {
		t.Fatalf("index 4 should be computed: %+v", got[4])
	}
	if !got[6].Filled || got[6].Value != got[5].Value {
		t.Fatalf("index 6 should carry index 5 forward: %+v vs %+v", got[6], got[5])
	}
	if ClassifyScore(Score{Value: math.NaN()}, DefaultThresholds()) != domain.SignalNone {
		t.Fatal("undefined score must not signal")
	}
}
