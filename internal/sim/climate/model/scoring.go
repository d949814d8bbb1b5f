package model

import (
	"sort"
	"strings"

	"globalwarming.dev/internal/sim/climate/curve"
)

// ContributionModel prices burned fuel in carbon score points.
type ContributionModel struct {
	values  map[string]int64
	Default int64
}

func NewContributionModel(values map[string]int64, def int64) *ContributionModel {
	m := &ContributionModel{values: make(map[string]int64, len(values)), Default: def}
	for k, v := range values {
		m.values[normalizeKey(k)] = v
	}
	return m
}

func (m *ContributionModel) Contribution(fuel string) int64 {
	if m == nil {
		return 0
	}
	if v, ok := m.values[normalizeKey(fuel)]; ok {
		return v
	}
	return m.Default
}

func (m *ContributionModel) Fuels() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReductionModel credits grown trees: PerBlock points per grown block,
// scaled by a per-tree multiplier when one is configured. A zero PerBlock
// turns reductions off.
type ReductionModel struct {
	PerBlock    int64
	Multipliers map[string]int64
}

func (m ReductionModel) Reduction(tree string, blocks int) int64 {
	if blocks <= 0 {
		return 0
	}
	per := m.PerBlock
	if per <= 0 {
		return 0
	}
	if mul, ok := m.Multipliers[normalizeKey(tree)]; ok && mul > 0 {
		per *= mul
	}
	return int64(blocks) * per
}

// CarbonIndexModel maps a player's score to the 0..10 footprint index shown
// to players. Lower score means a higher (better) index.
type CarbonIndexModel struct {
	c *curve.Curve
}

func NewCarbonIndexModel(points []curve.Point) (*CarbonIndexModel, error) {
	c, err := curve.New(points)
	if err != nil {
		return nil, err
	}
	return &CarbonIndexModel{c: c}, nil
}

func (m *CarbonIndexModel) Index(score int64) float64 {
	if m == nil {
		return 0
	}
	return m.c.Value(float64(score))
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
