package climate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"globalwarming.dev/internal/sim/climate/curve"
	"globalwarming.dev/internal/sim/climate/model"
)

type scoreBoard struct {
	mu     sync.Mutex
	scores map[RegionID]int64
}

func (s *scoreBoard) CurrentScore(id RegionID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[id]
}

func (s *scoreBoard) set(id RegionID, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores == nil {
		s.scores = map[RegionID]int64{}
	}
	s.scores[id] = v
}

func testModels(t *testing.T) ModelSource {
	t.Helper()
	temp, err := model.NewLinear(15, 0.01)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	zombie, err := curve.NewAlternate(curve.MustNew([]curve.Point{{Temperature: 0, Value: 80}, {Temperature: 15, Value: 50}, {Temperature: 30, Value: 10}}), []curve.Alternate{{Outcome: "HUSK", Weight: 1}})
	if err != nil {
		t.Fatalf("NewAlternate: %v", err)
	}
	idx, err := model.NewCarbonIndexModel([]curve.Point{{Temperature: 0, Value: 5}, {Temperature: 1000, Value: 0}})
	if err != nil {
		t.Fatalf("NewCarbonIndexModel: %v", err)
	}
	return ModelFunc(func(id RegionID) (Models, error) {
		return Models{
			Temperature:  temp,
			Contribution: model.NewContributionModel(map[string]int64{"COAL": 8}, 1),
			Reduction:    model.ReductionModel{PerBlock: 1},
			CarbonIndex:  idx,
			Curves: map[Kind]map[string]*curve.AlternateCurve{
				KindMobSpawnRate: {"zombie": zombie},
			},
		}, nil
	})
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry(&scoreBoard{}, testModels(t), nil)
	a, err := reg.Register("overworld")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := reg.Register("overworld")
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if a != b {
		t.Fatalf("second Register returned a different instance")
	}

	reg.Unregister("overworld")
	if a.State() != StateTornDown {
		t.Fatalf("state after unregister=%s", a.State())
	}
	if _, ok := reg.Lookup("overworld"); ok {
		t.Fatalf("lookup after unregister should miss")
	}
	c, err := reg.Register("overworld")
	if err != nil {
		t.Fatalf("Register after unregister: %v", err)
	}
	if c == a {
		t.Fatalf("re-register returned the torn-down instance")
	}
	if c.State() != StateActive {
		t.Fatalf("new instance state=%s", c.State())
	}
}

func TestRegistry_UnknownRegionIsInert(t *testing.T) {
	reg := NewRegistry(&scoreBoard{}, testModels(t), nil)
	for _, k := range Kinds() {
		if reg.IsEffectEnabled("nowhere", k) {
			t.Fatalf("%s enabled for unknown region", k)
		}
	}
	if reg.SetEffectEnabled("nowhere", KindWeather, true) {
		t.Fatalf("SetEffectEnabled should report unknown region")
	}
	if _, err := reg.Temperature("nowhere"); !errors.Is(err, ErrRegionNotRegistered) {
		t.Fatalf("Temperature err=%v", err)
	}
	reg.Unregister("nowhere")
}

func TestRegistry_EffectFlags(t *testing.T) {
	reg := NewRegistry(&scoreBoard{}, testModels(t), nil)
	r, err := reg.Register("w")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.IsEffectEnabled("w", KindMobSpawnRate) {
		t.Fatalf("effects should default to disabled")
	}
	if !reg.SetEffectEnabled("w", KindMobSpawnRate, true) {
		t.Fatalf("SetEffectEnabled on registered region failed")
	}
	if !reg.IsEffectEnabled("w", KindMobSpawnRate) || reg.IsEffectEnabled("w", KindWeather) {
		t.Fatalf("flags mismatch: %v", r.EnabledEffects())
	}
	r.SetEnabled(false)
	if r.IsEffectEnabled(KindMobSpawnRate) {
		t.Fatalf("disabled engine must disable every effect")
	}
	r.SetEnabled(true)
	if !r.IsEffectEnabled(KindMobSpawnRate) {
		t.Fatalf("re-enabling engine should restore effect flags")
	}
	r.SetEffectEnabled(KindUnknown, true)
	if r.IsEffectEnabled(KindUnknown) {
		t.Fatalf("unknown kind must stay disabled")
	}

	reg.Unregister("w")
	r.SetEffectEnabled(KindWeather, true)
	if r.IsEffectEnabled(KindWeather) || r.Enabled() {
		t.Fatalf("torn-down region must be inert")
	}
}

func TestRegion_TemperatureFollowsScore(t *testing.T) {
	scores := &scoreBoard{}
	reg := NewRegistry(scores, testModels(t), nil)
	r, err := reg.Register("w")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := r.Temperature(); got != 15.0 {
		t.Fatalf("baseline temperature=%v want 15", got)
	}
	scores.set("w", 1000)
	if got := r.Temperature(); got <= 15.0 {
		t.Fatalf("score 1000 temperature=%v should warm", got)
	}
	if a, b := r.Temperature(), r.Temperature(); a != b {
		t.Fatalf("temperature not stable between score changes: %v %v", a, b)
	}
	scores.set("w", 0)
	if got := r.Temperature(); got != 15.0 {
		t.Fatalf("temperature did not follow score reset: %v", got)
	}
}

func TestRegion_ScoringRecords(t *testing.T) {
	reg := NewRegistry(&scoreBoard{}, testModels(t), nil)
	r, err := reg.Register("w")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	before := r.Temperature()

	c := r.FurnaceBurn("steve", "coal")
	if c.Kind != RecordContribution || c.Value != 8 || c.Delta() != 8 || c.Region != "w" || c.Source != "COAL" {
		t.Fatalf("contribution=%+v", c)
	}
	red := r.TreeGrow("alex", "oak", 12)
	if red.Kind != RecordReduction || red.Value != 12 || red.Delta() != -12 {
		t.Fatalf("reduction=%+v", red)
	}
	if c.ID == red.ID {
		t.Fatalf("record ids must be unique")
	}
	if r.Temperature() != before {
		t.Fatalf("producing records must not change temperature")
	}
	if got := r.CarbonIndex(500); got != 2.5 {
		t.Fatalf("CarbonIndex(500)=%v", got)
	}
}

func TestRegion_Curves(t *testing.T) {
	reg := NewRegistry(&scoreBoard{}, testModels(t), nil)
	r, err := reg.Register("w")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := r.Curve(KindMobSpawnRate, "Zombie"); !ok {
		t.Fatalf("subject lookup should be case-insensitive")
	}
	if subs := r.Subjects(KindMobSpawnRate); len(subs) != 1 || subs[0] != "ZOMBIE" {
		t.Fatalf("subjects=%v", subs)
	}
	if _, ok := r.Curve(KindFarmYield, "WHEAT"); ok {
		t.Fatalf("unexpected farm curve")
	}
}

func TestRegistry_ModelErrorsSurface(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry(nil, ModelFunc(func(RegionID) (Models, error) { return Models{}, boom }), nil)
	if _, err := reg.Register("w"); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	reg = NewRegistry(nil, ModelFunc(func(RegionID) (Models, error) { return Models{}, nil }), nil)
	if _, err := reg.Register("w"); err == nil {
		t.Fatalf("missing temperature model should fail")
	}
	if _, err := reg.Register(""); err == nil {
		t.Fatalf("empty id should fail")
	}
}

func TestRegistry_ConcurrentRegisterAndFlags(t *testing.T) {
	var built atomic.Int32
	base := testModels(t)
	reg := NewRegistry(&scoreBoard{}, ModelFunc(func(id RegionID) (Models, error) {
		built.Add(1)
		return base.ModelsFor(id)
	}), nil)

	var wg sync.WaitGroup
	seen := make([]*Region, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.Register("shared")
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			seen[i] = r
			for j := 0; j < 100; j++ {
				k := Kinds()[j%len(Kinds())]
				r.SetEffectEnabled(k, j%2 == 0)
				_ = reg.IsEffectEnabled("shared", k)
				_ = r.Temperature()
			}
			_, _ = reg.Register(RegionID(fmt.Sprintf("r%d", i)))
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(seen); i++ {
		if seen[i] != seen[0] {
			t.Fatalf("goroutine %d saw a different region instance", i)
		}
	}
	if got := len(reg.IDs()); got != 33 {
		t.Fatalf("IDs=%d want 33", got)
	}
	if got := built.Load(); got != 33 {
		t.Fatalf("models built %d times want 33", got)
	}
}
