package climate

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"globalwarming.dev/internal/sim/climate/curve"
	"globalwarming.dev/internal/sim/climate/model"
)

var ErrRegionNotRegistered = errors.New("region not registered")

// ScoreSource supplies a region's live aggregate carbon score. Calls must
// not block on I/O.
type ScoreSource interface {
	CurrentScore(id RegionID) int64
}

type ScoreFunc func(id RegionID) int64

func (f ScoreFunc) CurrentScore(id RegionID) int64 { return f(id) }

// Models is everything a region evaluates against. Curves holds the
// region-owned subject curves per effect kind (entity fitness for
// MOB_SPAWN_RATE, for example).
type Models struct {
	Temperature  model.TemperatureModel
	Contribution *model.ContributionModel
	Reduction    model.ReductionModel
	CarbonIndex  *model.CarbonIndexModel
	Curves       map[Kind]map[string]*curve.AlternateCurve
}

type ModelSource interface {
	ModelsFor(id RegionID) (Models, error)
}

type ModelFunc func(id RegionID) (Models, error)

func (f ModelFunc) ModelsFor(id RegionID) (Models, error) { return f(id) }

type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateTornDown:
		return "TORN_DOWN"
	default:
		return "UNINITIALIZED"
	}
}

// flags is published as a whole; readers never see a half-applied update.
type flags struct {
	engine  bool
	effects [len(kindNames)]bool
}

// Region is the climate engine for one region.
type Region struct {
	id     RegionID
	models Models
	scores ScoreSource
	now    func() time.Time

	mu    sync.Mutex // serializes flag writers
	flags atomic.Pointer[flags]
	state atomic.Int32
}

func newRegion(id RegionID, models Models, scores ScoreSource) *Region {
	owned := models
	owned.Curves = make(map[Kind]map[string]*curve.AlternateCurve, len(models.Curves))
	for k, byName := range models.Curves {
		m := make(map[string]*curve.AlternateCurve, len(byName))
		for name, c := range byName {
			if c != nil {
				m[normalizeSubject(name)] = c
			}
		}
		owned.Curves[k] = m
	}
	r := &Region{
		id:     id,
		models: owned,
		scores: scores,
		now:    time.Now,
	}
	r.flags.Store(&flags{engine: true})
	r.state.Store(int32(StateActive))
	return r
}

func (r *Region) ID() RegionID { return r.id }

func (r *Region) State() State { return State(r.state.Load()) }

func (r *Region) Score() int64 {
	if r.scores == nil {
		return 0
	}
	return r.scores.CurrentScore(r.id)
}

// Temperature is derived from the live score on every call.
func (r *Region) Temperature() float64 {
	return r.models.Temperature.TemperatureFor(r.Score())
}

func (r *Region) DefaultTemperature() float64 {
	return r.models.Temperature.DefaultTemperature()
}

func (r *Region) TemperatureModel() model.TemperatureModel {
	return r.models.Temperature
}

func (r *Region) Enabled() bool {
	return r.State() == StateActive && r.flags.Load().engine
}

func (r *Region) SetEnabled(on bool) {
	r.update(func(f *flags) { f.engine = on })
}

func (r *Region) IsEffectEnabled(kind Kind) bool {
	if !kind.Valid() || r.State() != StateActive {
		return false
	}
	f := r.flags.Load()
	return f.engine && f.effects[kind]
}

func (r *Region) SetEffectEnabled(kind Kind, on bool) {
	if !kind.Valid() {
		return
	}
	r.update(func(f *flags) { f.effects[kind] = on })
}

// EnabledEffects lists enabled kinds in catalogue order.
func (r *Region) EnabledEffects() []Kind {
	var out []Kind
	for _, k := range Kinds() {
		if r.IsEffectEnabled(k) {
			out = append(out, k)
		}
	}
	return out
}

func (r *Region) update(fn func(*flags)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != StateActive {
		return
	}
	next := *r.flags.Load()
	fn(&next)
	r.flags.Store(&next)
}

func (r *Region) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Store(int32(StateTornDown))
	r.flags.Store(&flags{})
}

// Curve returns the region-owned curve for a subject of kind.
func (r *Region) Curve(kind Kind, subject string) (*curve.AlternateCurve, bool) {
	c, ok := r.models.Curves[kind][normalizeSubject(subject)]
	return c, ok
}

func (r *Region) Subjects(kind Kind) []string {
	byName := r.models.Curves[kind]
	out := make([]string, 0, len(byName))
	for name := range byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TreeGrow produces a reduction record for blocks grown by actor's tree.
func (r *Region) TreeGrow(actor, tree string, blocks int) Record {
	v := r.models.Reduction.Reduction(tree, blocks)
	return newRecord(RecordReduction, r.id, actor, normalizeSubject(tree), v, r.now())
}

// FurnaceBurn produces a contribution record for actor burning fuel.
func (r *Region) FurnaceBurn(actor, fuel string) Record {
	v := r.models.Contribution.Contribution(fuel)
	return newRecord(RecordContribution, r.id, actor, normalizeSubject(fuel), v, r.now())
}

func (r *Region) CarbonIndex(score int64) float64 {
	return r.models.CarbonIndex.Index(score)
}

func normalizeSubject(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
