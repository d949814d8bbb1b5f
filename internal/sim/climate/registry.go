package climate

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
)

type regionMap map[RegionID]*Region

// Registry maps region ids to their climate engines. Lookups read an
// immutable snapshot and never wait on writers.
type Registry struct {
	scores ScoreSource
	models ModelSource
	log    *log.Logger

	mu      sync.Mutex // serializes Register/Unregister
	regions atomic.Pointer[regionMap]
}

func NewRegistry(scores ScoreSource, models ModelSource, logger *log.Logger) *Registry {
	r := &Registry{scores: scores, models: models, log: logger}
	empty := regionMap{}
	r.regions.Store(&empty)
	return r
}

// Register returns the region's engine, creating it on first call.
func (r *Registry) Register(id RegionID) (*Region, error) {
	if reg, ok := r.Lookup(id); ok {
		return reg, nil
	}
	if id == "" {
		return nil, fmt.Errorf("register: empty region id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.regions.Load()
	if reg, ok := cur[id]; ok {
		return reg, nil
	}
	if r.models == nil {
		return nil, fmt.Errorf("register %s: no model source", id)
	}
	models, err := r.models.ModelsFor(id)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}
	if models.Temperature == nil {
		return nil, fmt.Errorf("register %s: missing temperature model", id)
	}

	reg := newRegion(id, models, r.scores)
	next := make(regionMap, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[id] = reg
	r.regions.Store(&next)
	if r.log != nil {
		r.log.Printf("climate engine registered region=%s baseline=%.2f", id, reg.DefaultTemperature())
	}
	return reg, nil
}

func (r *Registry) Lookup(id RegionID) (*Region, bool) {
	reg, ok := (*r.regions.Load())[id]
	return reg, ok
}

// Unregister tears the region down and forgets it. Unknown ids are a no-op.
func (r *Registry) Unregister(id RegionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.regions.Load()
	reg, ok := cur[id]
	if !ok {
		return
	}
	next := make(regionMap, len(cur))
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	r.regions.Store(&next)
	reg.teardown()
	if r.log != nil {
		r.log.Printf("climate engine unregistered region=%s", id)
	}
}

// SetEffectEnabled reports false when the region is not registered.
func (r *Registry) SetEffectEnabled(id RegionID, kind Kind, on bool) bool {
	reg, ok := r.Lookup(id)
	if !ok {
		return false
	}
	reg.SetEffectEnabled(kind, on)
	return true
}

func (r *Registry) IsEffectEnabled(id RegionID, kind Kind) bool {
	reg, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return reg.IsEffectEnabled(kind)
}

// Temperature returns the region's temperature, or ErrRegionNotRegistered.
func (r *Registry) Temperature(id RegionID) (float64, error) {
	reg, ok := r.Lookup(id)
	if !ok {
		return 0, fmt.Errorf("%s: %w", id, ErrRegionNotRegistered)
	}
	return reg.Temperature(), nil
}

func (r *Registry) IDs() []RegionID {
	cur := *r.regions.Load()
	out := make([]RegionID, 0, len(cur))
	for id := range cur {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
