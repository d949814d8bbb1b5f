package tuning

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/climate/model"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TemperatureModel model.Spec    `yaml:"temperature_model"`
	Bands            effects.Bands `yaml:"bands"`

	Notifications Notifications           `yaml:"notifications"`
	Effects       map[string]EffectTuning `yaml:"effects"`

	Contribution Contribution `yaml:"contribution"`
	Reduction    Reduction    `yaml:"reduction"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type Notifications struct {
	IntervalSeconds int              `yaml:"interval_seconds"`
	DurationSeconds int              `yaml:"duration_seconds"`
	Default         effects.Messages `yaml:"default_messages"`
	EngineDisabled  string           `yaml:"engine_disabled"`
}

// EffectTuning overrides the stock settings of one effect kind. Unset
// fields keep the stock value.
type EffectTuning struct {
	Direction     string            `yaml:"direction,omitempty"`
	Gameplay      *bool             `yaml:"gameplay,omitempty"`
	Quantize      *bool             `yaml:"quantize,omitempty"`
	NotifyBelow   *float64          `yaml:"notify_below,omitempty"`
	NotifySubject string            `yaml:"notify_subject,omitempty"`
	Messages      *effects.Messages `yaml:"messages,omitempty"`
}

type Contribution struct {
	DefaultValue int64 `yaml:"default_value"`
}

type Reduction struct {
	PerBlock    int64            `yaml:"per_block"`
	Multipliers map[string]int64 `yaml:"multipliers,omitempty"`
}

type RateLimits struct {
	EventsWindowMs  int `yaml:"events_window_ms"`
	EventsMax       int `yaml:"events_max"`
	RecordsWindowMs int `yaml:"records_window_ms"`
	RecordsMax      int `yaml:"records_max"`
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TemperatureModel: model.Spec{
			Kind:            "linear",
			Baseline:        14.0,
			DegreesPerPoint: 0.0005,
		},
		Bands: effects.Bands{LowUpper: 13.5, HighLower: 15.5},
		Notifications: Notifications{
			IntervalSeconds: 300,
			DurationSeconds: 60,
			Default: effects.Messages{
				Low:     "It is {temperature}; the climate is cooling.",
				Average: "It is {temperature}; the climate is stable.",
				High:    "It is {temperature}; the climate is warming.",
			},
			EngineDisabled: "The climate engine is disabled in this region.",
		},
		Contribution: Contribution{DefaultValue: 1},
		Reduction:    Reduction{PerBlock: 1},
		RateLimits: RateLimits{
			EventsWindowMs:  1000,
			EventsMax:       200,
			RecordsWindowMs: 1000,
			RecordsMax:      100,
		},
	}
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if len(t.Effects) > 0 {
		norm := make(map[string]EffectTuning, len(t.Effects))
		for k, v := range t.Effects {
			norm[strings.ToUpper(strings.TrimSpace(k))] = v
		}
		t.Effects = norm
	}
	if len(t.Reduction.Multipliers) > 0 {
		norm := make(map[string]int64, len(t.Reduction.Multipliers))
		for k, v := range t.Reduction.Multipliers {
			norm[strings.ToUpper(strings.TrimSpace(k))] = v
		}
		t.Reduction.Multipliers = norm
	}
	if t.Notifications.IntervalSeconds <= 0 {
		t.Notifications.IntervalSeconds = 300
	}
	if t.Notifications.DurationSeconds <= 0 || t.Notifications.DurationSeconds > t.Notifications.IntervalSeconds {
		t.Notifications.DurationSeconds = t.Notifications.IntervalSeconds
	}
}

func (t Tuning) Validate() error {
	if _, err := model.NewTemperatureModel(t.TemperatureModel); err != nil {
		// Piecewise samples come from the catalog; only the kind is checked here.
		if !strings.EqualFold(strings.TrimSpace(t.TemperatureModel.Kind), "piecewise") {
			return fmt.Errorf("temperature_model: %w", err)
		}
	}
	if err := t.Bands.Validate(); err != nil {
		return err
	}
	if t.Reduction.PerBlock < 0 {
		return fmt.Errorf("reduction.per_block must be >= 0")
	}
	keys := make([]string, 0, len(t.Effects))
	for k := range t.Effects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := climate.ParseKind(k); err != nil {
			return fmt.Errorf("effects: %w", err)
		}
		e := t.Effects[k]
		if e.Direction != "" {
			if _, err := effects.ParseDirection(e.Direction); err != nil {
				return fmt.Errorf("effects.%s: %w", k, err)
			}
		}
		if e.NotifyBelow != nil && (math.IsNaN(*e.NotifyBelow) || *e.NotifyBelow < 0 || *e.NotifyBelow > 1) {
			return fmt.Errorf("effects.%s notify_below must be in [0,1]", k)
		}
	}
	return nil
}

// EffectSettings merges the overrides into the stock catalogue.
func (t Tuning) EffectSettings() map[climate.Kind]effects.Settings {
	out := effects.DefaultSettings()
	for name, o := range t.Effects {
		k, err := climate.ParseKind(name)
		if err != nil {
			continue
		}
		s := out[k]
		if d, err := effects.ParseDirection(o.Direction); err == nil {
			s.Direction = d
		}
		if o.Gameplay != nil {
			s.Gameplay = *o.Gameplay
		}
		if o.Quantize != nil {
			s.Quantize = *o.Quantize
		}
		if o.NotifyBelow != nil {
			s.NotifyBelow = *o.NotifyBelow
		}
		if o.NotifySubject != "" {
			s.NotifySubject = o.NotifySubject
		}
		if o.Messages != nil {
			s.Messages = *o.Messages
		}
		out[k] = s
	}
	return out
}

func (n Notifications) Interval() time.Duration {
	return time.Duration(n.IntervalSeconds) * time.Second
}

func (n Notifications) Duration() time.Duration {
	return time.Duration(n.DurationSeconds) * time.Second
}
