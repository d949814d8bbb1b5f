package effects

import (
	"fmt"
	"math"
	"time"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
)

type Band uint8

const (
	BandLow Band = iota + 1
	BandAverage
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "LOW"
	case BandAverage:
		return "AVERAGE"
	case BandHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("Band(%d)", b)
	}
}

// Bands splits temperatures into LOW (< LowUpper), AVERAGE (< HighLower)
// and HIGH.
type Bands struct {
	LowUpper  float64 `yaml:"low_upper" json:"low_upper"`
	HighLower float64 `yaml:"high_lower" json:"high_lower"`
}

func (b Bands) Validate() error {
	if math.IsNaN(b.LowUpper) || math.IsNaN(b.HighLower) || b.LowUpper > b.HighLower {
		return fmt.Errorf("bands: low_upper %v must be <= high_lower %v", b.LowUpper, b.HighLower)
	}
	return nil
}

func (b Bands) Of(t float64) Band {
	switch {
	case t < b.LowUpper:
		return BandLow
	case t < b.HighLower:
		return BandAverage
	default:
		return BandHigh
	}
}

type Slot uint8

const (
	SlotAdverseLow Slot = iota + 1
	SlotAverage
	SlotAdverseHigh
)

func (s Slot) String() string {
	switch s {
	case SlotAdverseLow:
		return "ADVERSE_LOW"
	case SlotAverage:
		return "AVERAGE"
	case SlotAdverseHigh:
		return "ADVERSE_HIGH"
	default:
		return fmt.Sprintf("Slot(%d)", s)
	}
}

// SelectSlot is total: non-adverse verdicts always use the AVERAGE slot.
func SelectSlot(adverse bool, band Band) Slot {
	if !adverse {
		return SlotAverage
	}
	switch band {
	case BandLow:
		return SlotAdverseLow
	case BandHigh:
		return SlotAdverseHigh
	default:
		return SlotAverage
	}
}

func (m Messages) Pick(s Slot) string {
	switch s {
	case SlotAdverseLow:
		return m.Low
	case SlotAdverseHigh:
		return m.High
	default:
		return m.Average
	}
}

// Assessment is the outcome of steps 1-5 of the decision procedure.
type Assessment struct {
	Kind        climate.Kind
	Subject     string
	Temperature float64
	Baseline    float64
	Value       float64
	BaseValue   float64
	Adverse     bool
	Band        Band
	Slot        Slot
}

// Assess evaluates subject's curve for kind e in region r. ok is false when
// the effect is disabled for the region or the subject has no curve; the
// effect is then inert.
func Assess(r *climate.Region, e *Effect, bands Bands, subject string) (Assessment, bool) {
	if r == nil || e == nil || !r.IsEffectEnabled(e.Kind) {
		return Assessment{}, false
	}
	c, ok := e.CurveFor(r, subject)
	if !ok {
		return Assessment{}, false
	}
	return assessCurve(r, e, bands, subject, c.Curve), true
}

func assessCurve(r *climate.Region, e *Effect, bands Bands, subject string, c *curve.Curve) Assessment {
	t := r.Temperature()
	tBase := r.DefaultTemperature()
	et, eBase := t, tBase
	if e.Quantize {
		et, eBase = math.Trunc(t), math.Trunc(tBase)
	}
	v := c.Value(et)
	vBase := c.Value(eBase)
	adverse := e.Direction.Adverse(v, vBase)
	band := bands.Of(t)
	return Assessment{
		Kind:        e.Kind,
		Subject:     subject,
		Temperature: t,
		Baseline:    tBase,
		Value:       v,
		BaseValue:   vBase,
		Adverse:     adverse,
		Band:        band,
		Slot:        SelectSlot(adverse, band),
	}
}

type Action uint8

const (
	Allow Action = iota + 1
	Suppress
	Substitute
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "ALLOW"
	case Suppress:
		return "SUPPRESS"
	case Substitute:
		return "SUBSTITUTE"
	default:
		return fmt.Sprintf("Action(%d)", a)
	}
}

type Decision struct {
	Action     Action
	Outcome    string
	Roll       float64
	Assessment Assessment
	// Active is false when the effect was inert for this region/subject.
	Active bool
}

// Decide runs the full procedure for a gameplay action. The curve value is
// read as a percentage chance that the action goes ahead: a fresh draw from
// src scaled to [0,100) at or above it suppresses the action, and a
// suppressed action with alternates is substituted instead.
func Decide(r *climate.Region, e *Effect, bands Bands, subject string, src curve.Source) Decision {
	if r == nil || e == nil || !r.IsEffectEnabled(e.Kind) {
		return Decision{Action: Allow}
	}
	c, ok := e.CurveFor(r, subject)
	if !ok {
		return Decision{Action: Allow}
	}
	a := assessCurve(r, e, bands, subject, c.Curve)
	d := Decision{Action: Allow, Assessment: a, Active: true}
	if !e.Gameplay || src == nil {
		return d
	}

	d.Roll = src.Float64() * 100
	if a.Value > d.Roll {
		return d
	}
	d.Action = Suppress
	if outcome, ok := c.PickAlternate(a.Temperature, src); ok {
		d.Action = Substitute
		d.Outcome = outcome
	}
	return d
}

// DecisionEntry is the journal form of a decision.
type DecisionEntry struct {
	At          time.Time        `json:"at"`
	Region      climate.RegionID `json:"region"`
	Kind        climate.Kind     `json:"kind"`
	Subject     string           `json:"subject"`
	Action      string           `json:"action"`
	Outcome     string           `json:"outcome,omitempty"`
	Active      bool             `json:"active"`
	Roll        float64          `json:"roll"`
	Value       float64          `json:"value"`
	BaseValue   float64          `json:"base_value"`
	Temperature float64          `json:"temperature"`
	Adverse     bool             `json:"adverse"`
	Band        string           `json:"band,omitempty"`
}

func (d Decision) Entry(region climate.RegionID, kind climate.Kind, subject string, at time.Time) DecisionEntry {
	e := DecisionEntry{
		At:      at.UTC(),
		Region:  region,
		Kind:    kind,
		Subject: normalizeSubject(subject),
		Action:  d.Action.String(),
		Outcome: d.Outcome,
		Active:  d.Active,
		Roll:    d.Roll,
	}
	if d.Active {
		e.Value = d.Assessment.Value
		e.BaseValue = d.Assessment.BaseValue
		e.Temperature = d.Assessment.Temperature
		e.Adverse = d.Assessment.Adverse
		e.Band = d.Assessment.Band.String()
	}
	return e
}
