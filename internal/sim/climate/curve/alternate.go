package curve

import (
	"fmt"
	"strings"
)

// Source supplies uniform draws in [0,1). *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Alternate is a substitute outcome with a relative weight. When Curve is
// set the weight is Curve evaluated at the current temperature instead.
type Alternate struct {
	Outcome string
	Weight  float64
	Curve   *Curve
}

// AlternateCurve is a Curve that may name substitute outcomes for an
// action it suppresses.
type AlternateCurve struct {
	*Curve
	alternates []Alternate
}

func NewAlternate(c *Curve, alts []Alternate) (*AlternateCurve, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil base curve", ErrMalformedCurve)
	}
	out := make([]Alternate, 0, len(alts))
	seen := map[string]bool{}
	for i, a := range alts {
		a.Outcome = strings.TrimSpace(a.Outcome)
		if a.Outcome == "" {
			return nil, fmt.Errorf("%w: alternate %d has empty outcome", ErrMalformedCurve, i)
		}
		if seen[a.Outcome] {
			return nil, fmt.Errorf("%w: duplicate alternate %q", ErrMalformedCurve, a.Outcome)
		}
		seen[a.Outcome] = true
		if !finite(a.Weight) || a.Weight < 0 {
			return nil, fmt.Errorf("%w: alternate %q weight %v", ErrMalformedCurve, a.Outcome, a.Weight)
		}
		out = append(out, a)
	}
	return &AlternateCurve{Curve: c, alternates: out}, nil
}

// Plain wraps c with no alternates.
func Plain(c *Curve) *AlternateCurve {
	return &AlternateCurve{Curve: c}
}

func (a *AlternateCurve) HasAlternates() bool {
	return len(a.alternates) > 0
}

func (a *AlternateCurve) Alternates() []Alternate {
	return append([]Alternate(nil), a.alternates...)
}

// PickAlternate draws one alternate outcome, weighted, from src. It never
// consumes a draw and always returns false when there are no alternates.
func (a *AlternateCurve) PickAlternate(t float64, src Source) (string, bool) {
	if len(a.alternates) == 0 || src == nil {
		return "", false
	}
	weights := make([]float64, len(a.alternates))
	var total float64
	for i, alt := range a.alternates {
		w := alt.Weight
		if alt.Curve != nil {
			w = alt.Curve.Value(t)
		}
		if w > 0 && finite(w) {
			weights[i] = w
			total += w
		}
	}
	if total <= 0 {
		return "", false
	}

	target := src.Float64() * total
	var acc float64
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		acc += w
		if target < acc {
			return a.alternates[i].Outcome, true
		}
	}
	return a.alternates[last].Outcome, true
}
