package effects

import (
	"fmt"
	"sort"
	"strings"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
)

// Direction says which change of a curve's value is bad for players. It
// belongs to the effect kind and never changes after registration.
type Direction uint8

const (
	AdverseWhenLower Direction = iota + 1
	AdverseWhenHigher
	AdverseWhenChanged
)

func (d Direction) String() string {
	switch d {
	case AdverseWhenLower:
		return "LOWER"
	case AdverseWhenHigher:
		return "HIGHER"
	case AdverseWhenChanged:
		return "CHANGED"
	default:
		return fmt.Sprintf("Direction(%d)", d)
	}
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOWER":
		return AdverseWhenLower, nil
	case "HIGHER":
		return AdverseWhenHigher, nil
	case "CHANGED":
		return AdverseWhenChanged, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Adverse compares the value now with the value at the baseline.
func (d Direction) Adverse(v, vBase float64) bool {
	switch d {
	case AdverseWhenLower:
		return v < vBase
	case AdverseWhenHigher:
		return v > vBase
	case AdverseWhenChanged:
		return v != vBase
	default:
		return false
	}
}

// Messages holds the three guidance slots for one effect.
type Messages struct {
	Low     string `yaml:"low" json:"low"`
	Average string `yaml:"ok" json:"ok"`
	High    string `yaml:"high" json:"high"`
}

// Effect is the data a kind needs to run the shared decision procedure.
type Effect struct {
	Kind      climate.Kind
	Direction Direction
	// Gameplay effects may suppress or substitute actions; the rest only
	// drive notifications.
	Gameplay bool
	// Quantize truncates temperatures to whole degrees before evaluating.
	Quantize bool
	// NotifyBelow is the roll threshold used by the notification cascade.
	NotifyBelow float64
	// NotifySubject pins the subject the cascade reports on. Empty means a
	// random subject per notification.
	NotifySubject string
	Messages      Messages

	// Curves are effect-owned subject curves. Regions may override any
	// subject with their own curve.
	Curves map[string]*curve.AlternateCurve
}

func (e *Effect) validate() error {
	if e == nil {
		return fmt.Errorf("nil effect")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("effect has invalid kind %s", e.Kind)
	}
	switch e.Direction {
	case AdverseWhenLower, AdverseWhenHigher, AdverseWhenChanged:
	default:
		return fmt.Errorf("effect %s has no direction", e.Kind)
	}
	if e.NotifyBelow < 0 || e.NotifyBelow > 1 {
		return fmt.Errorf("effect %s notify threshold %v outside [0,1]", e.Kind, e.NotifyBelow)
	}
	for name, c := range e.Curves {
		if c == nil {
			return fmt.Errorf("effect %s subject %q has nil curve", e.Kind, name)
		}
	}
	return nil
}

// CurveFor resolves a subject's curve, preferring the region's own.
func (e *Effect) CurveFor(r *climate.Region, subject string) (*curve.AlternateCurve, bool) {
	if r != nil {
		if c, ok := r.Curve(e.Kind, subject); ok {
			return c, true
		}
	}
	c, ok := e.Curves[normalizeSubject(subject)]
	return c, ok
}

// Subjects lists every subject with a curve, region-owned ones included.
func (e *Effect) Subjects(r *climate.Region) []string {
	set := map[string]struct{}{}
	for name := range e.Curves {
		set[name] = struct{}{}
	}
	if r != nil {
		for _, name := range r.Subjects(e.Kind) {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeSubject(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
