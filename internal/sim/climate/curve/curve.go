package curve

import (
	"errors"
	"fmt"
	"math"
)

var ErrMalformedCurve = errors.New("malformed curve")

// Point is one (temperature, value) control sample.
type Point struct {
	Temperature float64 `json:"t"`
	Value       float64 `json:"v"`
}

// Curve maps a temperature to a value by linear interpolation over its
// control samples. Inputs outside the sampled domain clamp to the nearest
// endpoint. A Curve is immutable after New returns.
type Curve struct {
	points []Point

	hasRange bool
	lo, hi   float64
}

type Option func(*Curve)

// WithRange declares the value range every sample must fall in.
func WithRange(lo, hi float64) Option {
	return func(c *Curve) {
		c.hasRange = true
		c.lo, c.hi = lo, hi
	}
}

func New(points []Point, opts ...Option) (*Curve, error) {
	c := &Curve{}
	for _, o := range opts {
		o(c)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no control samples", ErrMalformedCurve)
	}
	if c.hasRange {
		if !finite(c.lo) || !finite(c.hi) || c.lo > c.hi {
			return nil, fmt.Errorf("%w: empty value range [%v, %v]", ErrMalformedCurve, c.lo, c.hi)
		}
	}
	for i, p := range points {
		if !finite(p.Temperature) || !finite(p.Value) {
			return nil, fmt.Errorf("%w: sample %d is not finite", ErrMalformedCurve, i)
		}
		if i > 0 && p.Temperature <= points[i-1].Temperature {
			return nil, fmt.Errorf("%w: sample %d temperature %v not above %v", ErrMalformedCurve, i, p.Temperature, points[i-1].Temperature)
		}
		if c.hasRange && (p.Value < c.lo || p.Value > c.hi) {
			return nil, fmt.Errorf("%w: sample %d value %v outside [%v, %v]", ErrMalformedCurve, i, p.Value, c.lo, c.hi)
		}
	}
	c.points = append([]Point(nil), points...)
	return c, nil
}

// MustNew is New for package-level fixtures; it panics on malformed input.
func MustNew(points []Point, opts ...Option) *Curve {
	c, err := New(points, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Value evaluates the curve at t. NaN evaluates to the first sample.
func (c *Curve) Value(t float64) float64 {
	pts := c.points
	first, last := pts[0], pts[len(pts)-1]
	if math.IsNaN(t) || t <= first.Temperature {
		return first.Value
	}
	if t >= last.Temperature {
		return last.Value
	}
	// Binary search for the first sample strictly above t.
	lo, hi := 0, len(pts)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if pts[mid].Temperature <= t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	a, b := pts[lo-1], pts[lo]
	if t == a.Temperature {
		return a.Value
	}
	frac := (t - a.Temperature) / (b.Temperature - a.Temperature)
	return a.Value + frac*(b.Value-a.Value)
}

// Domain returns the first and last sampled temperatures.
func (c *Curve) Domain() (lo, hi float64) {
	return c.points[0].Temperature, c.points[len(c.points)-1].Temperature
}

// Range returns the declared value range, if any.
func (c *Curve) Range() (lo, hi float64, ok bool) {
	return c.lo, c.hi, c.hasRange
}

func (c *Curve) Points() []Point {
	return append([]Point(nil), c.points...)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
