package effects

import (
	"math/rand"
	"testing"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
	"globalwarming.dev/internal/sim/climate/model"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

var testBands = Bands{LowUpper: 14, HighLower: 16}

type harness struct {
	score  int64
	reg    *climate.Registry
	region *climate.Region
}

// newHarness builds a region whose temperature is 15 + score/64, so a score
// of 960 lands exactly on 30 degrees.
func newHarness(t *testing.T, regionCurves map[climate.Kind]map[string]*curve.AlternateCurve) *harness {
	t.Helper()
	h := &harness{}
	temp, err := model.NewLinear(15, 1.0/64)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	h.reg = climate.NewRegistry(
		climate.ScoreFunc(func(climate.RegionID) int64 { return h.score }),
		climate.ModelFunc(func(climate.RegionID) (climate.Models, error) {
			return climate.Models{Temperature: temp, Curves: regionCurves}, nil
		}),
		nil,
	)
	h.region, err = h.reg.Register("overworld")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return h
}

func scenarioCurve() *curve.Curve {
	return curve.MustNew([]curve.Point{{Temperature: 0, Value: 80}, {Temperature: 15, Value: 50}, {Temperature: 30, Value: 10}})
}

func mobEffect(t *testing.T, alts []curve.Alternate) *Effect {
	t.Helper()
	c, err := curve.NewAlternate(scenarioCurve(), alts)
	if err != nil {
		t.Fatalf("NewAlternate: %v", err)
	}
	s := DefaultSettings()[climate.KindMobSpawnRate]
	return &Effect{
		Kind:        climate.KindMobSpawnRate,
		Direction:   s.Direction,
		Gameplay:    true,
		NotifyBelow: s.NotifyBelow,
		Messages:    Messages{Low: "low", Average: "ok", High: "high"},
		Curves:      map[string]*curve.AlternateCurve{"ZOMBIE": c},
	}
}

func TestAssess_EndToEndScenario(t *testing.T) {
	h := newHarness(t, nil)
	e := mobEffect(t, nil)
	h.region.SetEffectEnabled(climate.KindMobSpawnRate, true)

	if got := h.region.Temperature(); got != 15.0 {
		t.Fatalf("score 0 temperature=%v want 15", got)
	}
	a, ok := Assess(h.region, e, testBands, "zombie")
	if !ok {
		t.Fatalf("assessment should be active")
	}
	if a.Value != 50 || a.BaseValue != 50 || a.Adverse || a.Band != BandAverage || a.Slot != SlotAverage {
		t.Fatalf("baseline assessment=%+v", a)
	}

	h.score = 960
	if got := h.region.Temperature(); got <= 15.0 {
		t.Fatalf("score 960 temperature=%v should warm", got)
	}
	a, ok = Assess(h.region, e, testBands, "ZOMBIE")
	if !ok {
		t.Fatalf("assessment should be active")
	}
	if a.Temperature != 30 || a.Value != 10 || a.BaseValue != 50 {
		t.Fatalf("warm assessment=%+v", a)
	}
	if !a.Adverse || a.Band != BandHigh || a.Slot != SlotAdverseHigh {
		t.Fatalf("verdict=%v band=%s slot=%s", a.Adverse, a.Band, a.Slot)
	}
	if msg := e.Messages.Pick(a.Slot); msg != "high" {
		t.Fatalf("message=%q", msg)
	}

	h.score = 1600 // 40 degrees
	a, _ = Assess(h.region, e, testBands, "ZOMBIE")
	if a.Value != 10 {
		t.Fatalf("out-of-domain value=%v want clamp to 10", a.Value)
	}
}

func TestAssess_InertWhenDisabled(t *testing.T) {
	h := newHarness(t, nil)
	e := mobEffect(t, nil)
	if _, ok := Assess(h.region, e, testBands, "ZOMBIE"); ok {
		t.Fatalf("disabled effect must be inert")
	}
	d := Decide(h.region, e, testBands, "ZOMBIE", fixedSource(0.99))
	if d.Action != Allow || d.Active {
		t.Fatalf("disabled decide=%+v", d)
	}
	h.region.SetEffectEnabled(climate.KindMobSpawnRate, true)
	if _, ok := Assess(h.region, e, testBands, "CREEPER"); ok {
		t.Fatalf("subject without a curve must be inert")
	}
	if d := Decide(nil, e, testBands, "ZOMBIE", fixedSource(0.99)); d.Action != Allow {
		t.Fatalf("nil region decide=%+v", d)
	}
}

func TestDecide_SuppressAndSubstitute(t *testing.T) {
	h := newHarness(t, nil)
	h.score = 960 // 30 degrees, chance 10%
	plain := mobEffect(t, nil)
	withAlts := mobEffect(t, []curve.Alternate{{Outcome: "HUSK", Weight: 1}})
	h.region.SetEffectEnabled(climate.KindMobSpawnRate, true)

	if d := Decide(h.region, plain, testBands, "ZOMBIE", fixedSource(0.05)); d.Action != Allow {
		t.Fatalf("roll 5 < chance 10 should allow: %+v", d)
	}
	if d := Decide(h.region, plain, testBands, "ZOMBIE", fixedSource(0.10)); d.Action != Suppress {
		t.Fatalf("roll equal to chance should suppress: %+v", d)
	}
	d := Decide(h.region, plain, testBands, "ZOMBIE", fixedSource(0.5))
	if d.Action != Suppress || d.Outcome != "" {
		t.Fatalf("no alternates should suppress outright: %+v", d)
	}
	d = Decide(h.region, withAlts, testBands, "ZOMBIE", fixedSource(0.5))
	if d.Action != Substitute || d.Outcome != "HUSK" {
		t.Fatalf("alternates should substitute: %+v", d)
	}
	if d := Decide(h.region, withAlts, testBands, "ZOMBIE", fixedSource(0.01)); d.Action != Allow || d.Outcome != "" {
		t.Fatalf("allowed action must not substitute: %+v", d)
	}
}

func TestDecide_NotificationOnlyEffectsNeverSuppress(t *testing.T) {
	h := newHarness(t, nil)
	h.score = 960
	e := mobEffect(t, nil)
	e.Gameplay = false
	h.region.SetEffectEnabled(climate.KindMobSpawnRate, true)
	d := Decide(h.region, e, testBands, "ZOMBIE", fixedSource(0.99))
	if d.Action != Allow || !d.Active || !d.Assessment.Adverse {
		t.Fatalf("decide=%+v", d)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	h := newHarness(t, nil)
	h.score = 600
	e := mobEffect(t, []curve.Alternate{{Outcome: "HUSK", Weight: 1}, {Outcome: "STRAY", Weight: 2}})
	h.region.SetEffectEnabled(climate.KindMobSpawnRate, true)

	r1 := rand.New(rand.NewSource(2024))
	r2 := rand.New(rand.NewSource(2024))
	for i := 0; i < 500; i++ {
		a := Decide(h.region, e, testBands, "ZOMBIE", r1)
		b := Decide(h.region, e, testBands, "ZOMBIE", r2)
		if a != b {
			t.Fatalf("iteration %d diverged: %+v vs %+v", i, a, b)
		}
	}
}

func TestDecide_RegionCurveOverridesEffectCurve(t *testing.T) {
	cold := curve.Plain(curve.MustNew([]curve.Point{{Temperature: 0, Value: 100}, {Temperature: 30, Value: 100}}))
	h := newHarness(t, map[climate.Kind]map[string]*curve.AlternateCurve{
		climate.KindMobSpawnRate: {"ZOMBIE": cold},
	})
	h.score = 960
	e := mobEffect(t, nil)
	h.region.SetEffectEnabled(climate.KindMobSpawnRate, true)
	d := Decide(h.region, e, testBands, "ZOMBIE", fixedSource(0.99))
	if d.Action != Allow || d.Assessment.Value != 100 {
		t.Fatalf("region curve should win: %+v", d)
	}
	if subs := e.Subjects(h.region); len(subs) != 1 || subs[0] != "ZOMBIE" {
		t.Fatalf("subjects=%v", subs)
	}
}

func TestAssess_QuantizedEffect(t *testing.T) {
	h := newHarness(t, nil)
	sea := &Effect{
		Kind:      climate.KindSeaLevelRise,
		Direction: AdverseWhenHigher,
		Quantize:  true,
		Curves: map[string]*curve.AlternateCurve{
			"SEA": curve.Plain(curve.MustNew([]curve.Point{{Temperature: 15, Value: 0}, {Temperature: 16, Value: 2}, {Temperature: 30, Value: 12}})),
		},
	}
	h.region.SetEffectEnabled(climate.KindSeaLevelRise, true)
	h.score = 60 // 15.9375 degrees truncates to 15
	a, ok := Assess(h.region, sea, testBands, "SEA")
	if !ok || a.Value != 0 || a.Adverse {
		t.Fatalf("quantized below a whole degree: %+v", a)
	}
	h.score = 100 // 16.5625 degrees
	a, _ = Assess(h.region, sea, testBands, "SEA")
	if a.Value != 2 || !a.Adverse || a.Slot != SlotAdverseHigh {
		t.Fatalf("quantized above: %+v", a)
	}
}

func TestSelectSlot_Total(t *testing.T) {
	cases := []struct {
		adverse bool
		band    Band
		want    Slot
	}{
		{false, BandLow, SlotAverage},
		{false, BandAverage, SlotAverage},
		{false, BandHigh, SlotAverage},
		{true, BandLow, SlotAdverseLow},
		{true, BandAverage, SlotAverage},
		{true, BandHigh, SlotAdverseHigh},
		{true, Band(0), SlotAverage},
	}
	for _, tc := range cases {
		if got := SelectSlot(tc.adverse, tc.band); got != tc.want {
			t.Fatalf("SelectSlot(%v,%s)=%s want %s", tc.adverse, tc.band, got, tc.want)
		}
	}
}

func TestBands(t *testing.T) {
	if err := (Bands{LowUpper: 16, HighLower: 14}).Validate(); err == nil {
		t.Fatalf("inverted bands should fail")
	}
	cases := map[float64]Band{13.9: BandLow, 14: BandAverage, 15.99: BandAverage, 16: BandHigh, 99: BandHigh}
	for temp, want := range cases {
		if got := testBands.Of(temp); got != want {
			t.Fatalf("Of(%v)=%s want %s", temp, got, want)
		}
	}
}

func TestDirection_Adverse(t *testing.T) {
	if !AdverseWhenLower.Adverse(1, 2) || AdverseWhenLower.Adverse(2, 1) {
		t.Fatalf("LOWER comparator wrong")
	}
	if !AdverseWhenHigher.Adverse(2, 1) || AdverseWhenHigher.Adverse(1, 1) {
		t.Fatalf("HIGHER comparator wrong")
	}
	if !AdverseWhenChanged.Adverse(1, 2) || AdverseWhenChanged.Adverse(2, 2) {
		t.Fatalf("CHANGED comparator wrong")
	}
	if d, err := ParseDirection("higher"); err != nil || d != AdverseWhenHigher {
		t.Fatalf("ParseDirection: %v %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatalf("bad direction should fail")
	}
}
