package effects

import (
	"fmt"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
)

// Settings is the per-kind configuration of an effect.
type Settings struct {
	Direction     Direction
	Gameplay      bool
	Quantize      bool
	NotifyBelow   float64
	NotifySubject string
	Messages      Messages
}

// DefaultSettings is the stock catalogue. Notification thresholds are
// cumulative: a roll of 0.25 skips FARM_YIELD and ICE_FORMATION and lands on
// MOB_SPAWN_RATE if that effect is enabled.
func DefaultSettings() map[climate.Kind]Settings {
	return map[climate.Kind]Settings{
		climate.KindFarmYield: {
			Direction:   AdverseWhenLower,
			Gameplay:    true,
			NotifyBelow: 0.1,
			Messages: Messages{
				Low:     "It is {temperature} and too cold for {subject}; expect poor harvests.",
				Average: "It is {temperature}; {subject} is growing normally.",
				High:    "It is {temperature} and too hot for {subject}; expect poor harvests.",
			},
		},
		climate.KindIceFormation: {
			Direction:   AdverseWhenChanged,
			NotifyBelow: 0.2,
			Messages: Messages{
				Low:     "It is {temperature}; ice is spreading further than usual.",
				Average: "It is {temperature}; ice is forming normally.",
				High:    "It is {temperature}; ice is melting away.",
			},
		},
		climate.KindMobSpawnRate: {
			Direction:   AdverseWhenLower,
			Gameplay:    true,
			NotifyBelow: 0.3,
			Messages: Messages{
				Low:     "It is {temperature}; fewer {subject} can survive the cold.",
				Average: "It is {temperature}; {subject} numbers are stable.",
				High:    "It is {temperature}; fewer {subject} can survive the heat.",
			},
		},
		climate.KindWeather: {
			Direction:     AdverseWhenHigher,
			Gameplay:      true,
			NotifyBelow:   0.4,
			NotifySubject: "STORM",
			Messages: Messages{
				Low:     "It is {temperature}; cold fronts are bringing more storms.",
				Average: "It is {temperature}; the weather is calm.",
				High:    "It is {temperature}; heat is fuelling more storms.",
			},
		},
		climate.KindSeaLevelRise: {
			Direction:   AdverseWhenHigher,
			Quantize:    true,
			NotifyBelow: 0.5,
			Messages: Messages{
				Low:     "It is {temperature}; the sea is receding.",
				Average: "It is {temperature}; the sea level is normal.",
				High:    "It is {temperature}; the sea is rising over the coast.",
			},
		},
		climate.KindSnowFormation: {
			Direction:   AdverseWhenChanged,
			NotifyBelow: 0.6,
			Messages: Messages{
				Low:     "It is {temperature}; snow is piling up.",
				Average: "It is {temperature}; snowfall is normal.",
				High:    "It is {temperature}; the snow is thinning out.",
			},
		},
	}
}

// Build registers one effect per configured kind and freezes the registry.
func Build(settings map[climate.Kind]Settings, curves map[climate.Kind]map[string]*curve.AlternateCurve) (*Registry, error) {
	reg := NewRegistry()
	for _, k := range climate.Kinds() {
		s, ok := settings[k]
		if !ok {
			continue
		}
		e := &Effect{
			Kind:          k,
			Direction:     s.Direction,
			Gameplay:      s.Gameplay,
			Quantize:      s.Quantize,
			NotifyBelow:   s.NotifyBelow,
			NotifySubject: normalizeSubject(s.NotifySubject),
			Messages:      s.Messages,
			Curves:        map[string]*curve.AlternateCurve{},
		}
		for name, c := range curves[k] {
			e.Curves[normalizeSubject(name)] = c
		}
		if err := reg.Register(e); err != nil {
			return nil, fmt.Errorf("effect catalogue: %w", err)
		}
	}
	for k := range settings {
		if !k.Valid() {
			return nil, fmt.Errorf("effect catalogue: %w: %s", ErrUnknownEffect, k)
		}
	}
	reg.Freeze()
	return reg, nil
}
