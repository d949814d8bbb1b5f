package model

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"globalwarming.dev/internal/sim/climate/curve"
)

func testModels(t *testing.T) map[string]TemperatureModel {
	t.Helper()
	lin, err := NewLinear(15, 0.002)
	if err != nil {
		t.Fatalf("linear: %v", err)
	}
	pw, err := NewPiecewise([]curve.Point{{Temperature: -5000, Value: 10}, {Temperature: 0, Value: 15}, {Temperature: 1000, Value: 16}, {Temperature: 5000, Value: 22}, {Temperature: 20000, Value: 30}})
	if err != nil {
		t.Fatalf("piecewise: %v", err)
	}
	lg, err := NewLogistic(15, 10, 2500)
	if err != nil {
		t.Fatalf("logistic: %v", err)
	}
	return map[string]TemperatureModel{"linear": lin, "piecewise": pw, "logistic": lg}
}

func TestTemperatureModels_Monotonic(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	scores := make([]int64, 0, 2000)
	for i := 0; i < 2000; i++ {
		scores = append(scores, r.Int63n(100000)-50000)
	}
	scores = append(scores, math.MinInt32, 0, math.MaxInt32)
	sort.Slice(scores, func(i, j int) bool { return scores[i] < scores[j] })

	for name, m := range testModels(t) {
		prev := math.Inf(-1)
		for _, s := range scores {
			got := m.TemperatureFor(s)
			if got < prev {
				t.Fatalf("%s: score %d gave %v below previous %v", name, s, got, prev)
			}
			prev = got
		}
	}
}

func TestTemperatureModels_BaselineAtZero(t *testing.T) {
	for name, m := range testModels(t) {
		if got := m.TemperatureFor(0); got != 15.0 {
			t.Fatalf("%s: TemperatureFor(0)=%v want 15", name, got)
		}
		if got := m.DefaultTemperature(); got != 15.0 {
			t.Fatalf("%s: DefaultTemperature=%v want 15", name, got)
		}
		if got := m.TemperatureFor(1000); got <= 15.0 {
			t.Fatalf("%s: TemperatureFor(1000)=%v should warm", name, got)
		}
	}
}

func TestTemperatureModels_RejectCooling(t *testing.T) {
	if _, err := NewLinear(15, -0.1); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("linear negative slope: %v", err)
	}
	if _, err := NewLogistic(15, -1, 10); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("logistic negative amplitude: %v", err)
	}
	if _, err := NewLogistic(15, 1, 0); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("logistic zero scale: %v", err)
	}
	if _, err := NewPiecewise([]curve.Point{{Temperature: 0, Value: 15}, {Temperature: 100, Value: 14}}); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("piecewise cooling: %v", err)
	}
	if _, err := NewPiecewise([]curve.Point{{Temperature: 100, Value: 15}, {Temperature: 0, Value: 16}}); !errors.Is(err, curve.ErrMalformedCurve) {
		t.Fatalf("piecewise unsorted: %v", err)
	}
}

func TestNewTemperatureModel(t *testing.T) {
	m, err := NewTemperatureModel(Spec{Kind: "Logistic", Baseline: 14, Amplitude: 6, Scale: 100})
	if err != nil {
		t.Fatalf("logistic spec: %v", err)
	}
	if _, ok := m.(Logistic); !ok {
		t.Fatalf("got %T want Logistic", m)
	}
	if m, err := NewTemperatureModel(Spec{Baseline: 14, DegreesPerPoint: 0.01}); err != nil || m.DefaultTemperature() != 14 {
		t.Fatalf("default kind should be linear: %v %v", m, err)
	}
	if _, err := NewTemperatureModel(Spec{Kind: "piecewise"}); !errors.Is(err, curve.ErrMalformedCurve) {
		t.Fatalf("empty piecewise: %v", err)
	}
	if _, err := NewTemperatureModel(Spec{Kind: "cubic"}); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}
