package notify

import (
	"fmt"
	"strings"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
	"globalwarming.dev/internal/sim/climate/effects"
)

// Message is one periodic guidance line for a region.
type Message struct {
	Region      climate.RegionID `json:"region"`
	Kind        climate.Kind     `json:"kind,omitempty"`
	Subject     string           `json:"subject,omitempty"`
	Temperature float64          `json:"temperature"`
	Band        string           `json:"band,omitempty"`
	Slot        string           `json:"slot,omitempty"`
	Text        string           `json:"text"`
	Disabled    bool             `json:"disabled,omitempty"`
}

// Guide picks the notification for a region. The cascade draws one roll per
// call and walks the effects in catalogue order; the first enabled effect
// whose threshold is above the roll supplies the message. When none fires the
// default messages are keyed on the temperature band alone.
type Guide struct {
	Regions        *climate.Registry
	Effects        *effects.Registry
	Bands          effects.Bands
	Default        effects.Messages
	EngineDisabled string
}

func (g *Guide) Message(id climate.RegionID, src curve.Source) Message {
	r, ok := g.Regions.Lookup(id)
	if !ok || !r.Enabled() {
		return Message{Region: id, Text: g.EngineDisabled, Disabled: true}
	}

	t := r.Temperature()
	band := g.Bands.Of(t)
	msg := Message{Region: id, Temperature: t, Band: band.String()}

	if a, e, ok := g.cascade(r, src); ok {
		msg.Kind = e.Kind
		msg.Subject = a.Subject
		msg.Slot = a.Slot.String()
		msg.Text = g.format(e.Messages.Pick(a.Slot), t, a.Subject)
		return msg
	}

	slot := effects.SelectSlot(band != effects.BandAverage, band)
	msg.Slot = slot.String()
	msg.Text = g.format(g.Default.Pick(slot), t, "")
	return msg
}

func (g *Guide) cascade(r *climate.Region, src curve.Source) (effects.Assessment, *effects.Effect, bool) {
	if g.Effects == nil || src == nil {
		return effects.Assessment{}, nil, false
	}
	roll := src.Float64()
	for _, k := range g.Effects.Kinds() {
		if !r.IsEffectEnabled(k) {
			continue
		}
		e := g.Effects.MustGet(k)
		if roll >= e.NotifyBelow {
			continue
		}
		subject, ok := pickSubject(e, r, src)
		if !ok {
			return effects.Assessment{}, nil, false
		}
		a, ok := effects.Assess(r, e, g.Bands, subject)
		return a, e, ok
	}
	return effects.Assessment{}, nil, false
}

func pickSubject(e *effects.Effect, r *climate.Region, src curve.Source) (string, bool) {
	if e.NotifySubject != "" {
		return e.NotifySubject, true
	}
	subjects := e.Subjects(r)
	if len(subjects) == 0 {
		return "", false
	}
	i := int(src.Float64() * float64(len(subjects)))
	if i >= len(subjects) {
		i = len(subjects) - 1
	}
	return subjects[i], true
}

func (g *Guide) format(text string, t float64, subject string) string {
	return strings.NewReplacer(
		"{temperature}", TemperatureLabel(t, g.Bands),
		"{subject}", DisplayName(subject),
	).Replace(text)
}

// TemperatureLabel renders t with a word for how it feels relative to the
// bands, e.g. "17.2°C (warm)".
func TemperatureLabel(t float64, b effects.Bands) string {
	var word string
	switch {
	case t < b.LowUpper-2:
		word = "cold"
	case t < b.LowUpper:
		word = "cool"
	case t < b.HighLower:
		word = "mild"
	case t < b.HighLower+2:
		word = "warm"
	default:
		word = "hot"
	}
	return fmt.Sprintf("%.1f°C (%s)", t, word)
}

// DisplayName turns a subject key like CAVE_SPIDER into "cavespider".
func DisplayName(subject string) string {
	return strings.ReplaceAll(strings.ToLower(subject), "_", "")
}
