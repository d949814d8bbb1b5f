package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/climate/model"
)

func TestLoad_TuningYAML(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.TemperatureModel.Kind != "linear" || tu.TemperatureModel.Baseline != 14 {
		t.Fatalf("temperature_model=%+v", tu.TemperatureModel)
	}
	if tu.Bands.LowUpper != 13.5 || tu.Bands.HighLower != 15.5 {
		t.Fatalf("bands=%+v", tu.Bands)
	}
	if tu.Notifications.Interval().Minutes() != 5 || tu.Notifications.Duration().Seconds() != 60 {
		t.Fatalf("notifications=%+v", tu.Notifications)
	}
	if !strings.Contains(tu.Notifications.Default.High, "{temperature}") {
		t.Fatalf("default high message=%q", tu.Notifications.Default.High)
	}
	if tu.Reduction.Multipliers["DARK_OAK"] != 2 {
		t.Fatalf("multipliers should be upper-cased: %+v", tu.Reduction.Multipliers)
	}

	settings := tu.EffectSettings()
	if len(settings) != len(climate.Kinds()) {
		t.Fatalf("settings=%d", len(settings))
	}
	if settings[climate.KindWeather].NotifySubject != "STORM" {
		t.Fatalf("weather=%+v", settings[climate.KindWeather])
	}
	if !settings[climate.KindSeaLevelRise].Quantize {
		t.Fatalf("sea level should quantize")
	}
}

func TestEffectSettings_Overrides(t *testing.T) {
	below := 0.05
	off := false
	tu := Defaults()
	tu.Effects = map[string]EffectTuning{
		"mob_spawn_rate": {Direction: "higher", Gameplay: &off, NotifyBelow: &below, Messages: &effects.Messages{Average: "calm"}},
	}
	tu.Normalize()
	if err := tu.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s := tu.EffectSettings()[climate.KindMobSpawnRate]
	if s.Direction != effects.AdverseWhenHigher || s.Gameplay || s.NotifyBelow != 0.05 || s.Messages.Average != "calm" {
		t.Fatalf("settings=%+v", s)
	}
	if farm := tu.EffectSettings()[climate.KindFarmYield]; farm.Direction != effects.AdverseWhenLower {
		t.Fatalf("untouched kinds keep stock settings: %+v", farm)
	}
}

func TestLoad_RejectsBadTuning(t *testing.T) {
	cases := map[string]string{
		"unknown effect": "effects:\n  TORNADO: {}\n",
		"bad direction":  "effects:\n  WEATHER:\n    direction: sideways\n",
		"bad threshold":  "effects:\n  WEATHER:\n    notify_below: 1.5\n",
		"inverted bands": "bands:\n  low_upper: 20\n  high_lower: 10\n",
		"cooling model":  "temperature_model:\n  kind: linear\n  baseline: 14\n  degrees_per_point: -1\n",
		"unknown model":  "temperature_model:\n  kind: cubic\n",
	}
	dir := t.TempDir()
	for name, body := range cases {
		p := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNormalize_NotificationWindow(t *testing.T) {
	tu := Tuning{Notifications: Notifications{IntervalSeconds: 30, DurationSeconds: 90}}
	tu.Normalize()
	if tu.Notifications.DurationSeconds != 30 {
		t.Fatalf("duration should be capped at interval: %+v", tu.Notifications)
	}
	tu = Tuning{}
	tu.Normalize()
	if tu.Notifications.IntervalSeconds != 300 || tu.Notifications.DurationSeconds != 300 {
		t.Fatalf("defaults: %+v", tu.Notifications)
	}
}

func TestLoad_ZeroPerBlockDisablesReductions(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("reduction:\n  per_block: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Reduction.PerBlock != 0 {
		t.Fatalf("per_block=%d want 0", tu.Reduction.PerBlock)
	}
	if got := (model.ReductionModel{PerBlock: tu.Reduction.PerBlock}).Reduction("OAK", 4); got != 0 {
		t.Fatalf("reduction=%d want 0", got)
	}
}
