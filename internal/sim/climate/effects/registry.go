package effects

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"globalwarming.dev/internal/sim/climate"
)

var (
	ErrDuplicateEffect = errors.New("duplicate effect")
	ErrUnknownEffect   = errors.New("unknown effect")
	ErrFrozen          = errors.New("effect registry frozen")
)

// Registry holds one Effect per kind. It is filled at startup and frozen
// before the first decision runs.
type Registry struct {
	mu     sync.RWMutex
	byKind map[climate.Kind]*Effect
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{byKind: map[climate.Kind]*Effect{}}
}

func (r *Registry) Register(e *Effect) error {
	if err := e.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", e.Kind, ErrFrozen)
	}
	if _, ok := r.byKind[e.Kind]; ok {
		return fmt.Errorf("register %s: %w", e.Kind, ErrDuplicateEffect)
	}
	r.byKind[e.Kind] = e
	return nil
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Get(kind climate.Kind) (*Effect, error) {
	r.mu.RLock()
	e, ok := r.byKind[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnknownEffect)
	}
	return e, nil
}

// MustGet is for call sites whose kind was checked by Validate at startup.
func (r *Registry) MustGet(kind climate.Kind) *Effect {
	e, err := r.Get(kind)
	if err != nil {
		panic(err)
	}
	return e
}

// Kinds returns registered kinds in catalogue order.
func (r *Registry) Kinds() []climate.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []climate.Kind
	for _, k := range climate.Kinds() {
		if _, ok := r.byKind[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Validate fails if any of kinds has no registered effect.
func (r *Registry) Validate(kinds []climate.Kind) error {
	var missing []string
	for _, k := range kinds {
		if _, err := r.Get(k); err != nil {
			missing = append(missing, k.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEffect, strings.Join(missing, ","))
	}
	return nil
}
