package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"globalwarming.dev/internal/sim/climate/curve"
)

var ErrNonMonotonic = errors.New("temperature model not monotonic")

// TemperatureModel converts an aggregate carbon score into a temperature.
// Implementations must be monotonic non-decreasing in score.
type TemperatureModel interface {
	TemperatureFor(score int64) float64
	DefaultTemperature() float64
}

// Linear warms by DegreesPerPoint for every score point.
type Linear struct {
	Baseline        float64
	DegreesPerPoint float64
}

func NewLinear(baseline, degreesPerPoint float64) (Linear, error) {
	if !finite(baseline) || !finite(degreesPerPoint) {
		return Linear{}, fmt.Errorf("%w: linear parameters not finite", ErrNonMonotonic)
	}
	if degreesPerPoint < 0 {
		return Linear{}, fmt.Errorf("%w: degrees_per_point %v < 0", ErrNonMonotonic, degreesPerPoint)
	}
	return Linear{Baseline: baseline, DegreesPerPoint: degreesPerPoint}, nil
}

func (m Linear) TemperatureFor(score int64) float64 {
	return m.Baseline + float64(score)*m.DegreesPerPoint
}

func (m Linear) DefaultTemperature() float64 { return m.Baseline }

// Piecewise interpolates over (score, temperature) samples. The baseline is
// whatever the samples give at score 0.
type Piecewise struct {
	c *curve.Curve
}

func NewPiecewise(points []curve.Point) (Piecewise, error) {
	c, err := curve.New(points)
	if err != nil {
		return Piecewise{}, err
	}
	for i := 1; i < len(points); i++ {
		if points[i].Value < points[i-1].Value {
			return Piecewise{}, fmt.Errorf("%w: score %v maps below score %v", ErrNonMonotonic, points[i].Temperature, points[i-1].Temperature)
		}
	}
	return Piecewise{c: c}, nil
}

func (m Piecewise) TemperatureFor(score int64) float64 {
	return m.c.Value(float64(score))
}

func (m Piecewise) DefaultTemperature() float64 { return m.c.Value(0) }

// Logistic saturates at Baseline±Amplitude and equals Baseline at score 0.
type Logistic struct {
	Baseline  float64
	Amplitude float64
	Scale     float64
}

func NewLogistic(baseline, amplitude, scale float64) (Logistic, error) {
	if !finite(baseline) || !finite(amplitude) || !finite(scale) {
		return Logistic{}, fmt.Errorf("%w: logistic parameters not finite", ErrNonMonotonic)
	}
	if amplitude < 0 || scale <= 0 {
		return Logistic{}, fmt.Errorf("%w: logistic needs amplitude >= 0 and scale > 0", ErrNonMonotonic)
	}
	return Logistic{Baseline: baseline, Amplitude: amplitude, Scale: scale}, nil
}

func (m Logistic) TemperatureFor(score int64) float64 {
	// 2/(1+e^-x) - 1 == tanh(x/2)
	return m.Baseline + m.Amplitude*math.Tanh(float64(score)/(2*m.Scale))
}

func (m Logistic) DefaultTemperature() float64 { return m.Baseline }

// Spec is the tuning-file description of a temperature model.
type Spec struct {
	Kind            string        `yaml:"kind" json:"kind"`
	Baseline        float64       `yaml:"baseline" json:"baseline"`
	DegreesPerPoint float64       `yaml:"degrees_per_point,omitempty" json:"degrees_per_point,omitempty"`
	Amplitude       float64       `yaml:"amplitude,omitempty" json:"amplitude,omitempty"`
	Scale           float64       `yaml:"scale,omitempty" json:"scale,omitempty"`
	Points          []curve.Point `yaml:"-" json:"points,omitempty"`
}

func NewTemperatureModel(s Spec) (TemperatureModel, error) {
	var (
		m   TemperatureModel
		err error
	)
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "", "linear":
		m, err = NewLinear(s.Baseline, s.DegreesPerPoint)
	case "logistic":
		m, err = NewLogistic(s.Baseline, s.Amplitude, s.Scale)
	case "piecewise":
		if len(s.Points) == 0 {
			return nil, fmt.Errorf("%w: piecewise model has no samples", curve.ErrMalformedCurve)
		}
		m, err = NewPiecewise(s.Points)
	default:
		return nil, fmt.Errorf("unknown temperature model kind %q", s.Kind)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
