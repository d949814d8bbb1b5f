package regions

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/model"
)

type Config struct {
	DefaultRegionID string       `yaml:"default_region_id"`
	Regions         []RegionSpec `yaml:"regions"`
}

type RegionSpec struct {
	ID       string   `yaml:"id"`
	Disabled bool     `yaml:"disabled"`
	Effects  []string `yaml:"effects,omitempty"`

	// ModelsDir is a catalog overlay, relative to the climate catalog dir.
	ModelsDir        string      `yaml:"models_dir,omitempty"`
	TemperatureModel *model.Spec `yaml:"temperature_model,omitempty"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("regions.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("regions.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	all := make([]string, 0, len(climate.Kinds()))
	for _, k := range climate.Kinds() {
		all = append(all, k.String())
	}
	return Config{
		DefaultRegionID: "overworld",
		Regions: []RegionSpec{
			{ID: "overworld", Effects: all},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.DefaultRegionID = strings.TrimSpace(c.DefaultRegionID)
	for i := range c.Regions {
		r := &c.Regions[i]
		r.ID = strings.TrimSpace(r.ID)
		r.ModelsDir = strings.TrimSpace(r.ModelsDir)
		seen := map[string]bool{}
		effects := r.Effects[:0]
		for _, e := range r.Effects {
			e = strings.ToUpper(strings.TrimSpace(e))
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			effects = append(effects, e)
		}
		r.Effects = effects
	}
	if c.DefaultRegionID == "" && len(c.Regions) > 0 {
		c.DefaultRegionID = c.Regions[0].ID
	}
}

func (c Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("regions must not be empty")
	}
	seen := map[string]bool{}
	for _, r := range c.Regions {
		if r.ID == "" {
			return fmt.Errorf("region id must not be empty")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate region id: %s", r.ID)
		}
		seen[r.ID] = true
		for _, e := range r.Effects {
			if _, err := climate.ParseKind(e); err != nil {
				return fmt.Errorf("region %s: %w", r.ID, err)
			}
		}
		if r.TemperatureModel != nil && !strings.EqualFold(r.TemperatureModel.Kind, "piecewise") {
			if _, err := model.NewTemperatureModel(*r.TemperatureModel); err != nil {
				return fmt.Errorf("region %s temperature_model: %w", r.ID, err)
			}
		}
	}
	if !seen[c.DefaultRegionID] {
		return fmt.Errorf("default_region_id %q not found in regions", c.DefaultRegionID)
	}
	return nil
}

func (c Config) RegionSpecByID(id string) (RegionSpec, bool) {
	for _, r := range c.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return RegionSpec{}, false
}

// Kinds returns every effect kind some region enables, in catalogue order.
// Validate must have passed.
func (c Config) Kinds() []climate.Kind {
	used := map[climate.Kind]bool{}
	for _, r := range c.Regions {
		for _, e := range r.Effects {
			if k, err := climate.ParseKind(e); err == nil {
				used[k] = true
			}
		}
	}
	var out []climate.Kind
	for _, k := range climate.Kinds() {
		if used[k] {
			out = append(out, k)
		}
	}
	return out
}

// IDs returns region ids in sorted order.
func (c Config) IDs() []climate.RegionID {
	out := make([]climate.RegionID, 0, len(c.Regions))
	for _, r := range c.Regions {
		out = append(out, climate.RegionID(r.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
