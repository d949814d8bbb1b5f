package regions

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"globalwarming.dev/internal/sim/catalogs"
	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
	"globalwarming.dev/internal/sim/climate/model"
	"globalwarming.dev/internal/sim/tuning"
)

// ModelSource builds each region's models from the shared catalogs, the
// region's own overlay directory and the tuning file.
type ModelSource struct {
	cfg      Config
	tuning   tuning.Tuning
	base     *catalogs.Catalogs
	overlays map[climate.RegionID]*catalogs.Catalogs
}

// NewModelSource loads every region overlay up front so that bad files fail
// startup instead of the first Register call.
func NewModelSource(cfg Config, t tuning.Tuning, base *catalogs.Catalogs, catalogDir, schemaDir string) (*ModelSource, error) {
	if base == nil {
		return nil, fmt.Errorf("regions: nil base catalogs")
	}
	s := &ModelSource{
		cfg:      cfg,
		tuning:   t,
		base:     base,
		overlays: map[climate.RegionID]*catalogs.Catalogs{},
	}
	for _, r := range cfg.Regions {
		if r.ModelsDir == "" {
			continue
		}
		dir := r.ModelsDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(catalogDir, dir)
		}
		o, err := catalogs.LoadOverlay(dir, schemaDir)
		if err != nil {
			return nil, fmt.Errorf("region %s models_dir: %w", r.ID, err)
		}
		s.overlays[climate.RegionID(r.ID)] = o
	}
	return s, nil
}

// Catalogs returns the effective catalogs for id. Regions without an
// overlay, including ones missing from the config, share the base.
func (s *ModelSource) Catalogs(id climate.RegionID) *catalogs.Catalogs {
	return s.base.Overlay(s.overlays[id])
}

func (s *ModelSource) ModelsFor(id climate.RegionID) (climate.Models, error) {
	cat := s.Catalogs(id)

	spec := s.tuning.TemperatureModel
	if r, ok := s.cfg.RegionSpecByID(string(id)); ok && r.TemperatureModel != nil {
		spec = *r.TemperatureModel
	}
	if strings.EqualFold(strings.TrimSpace(spec.Kind), "piecewise") {
		spec.Points = cat.ScoreTemperature.Points
	}
	temp, err := model.NewTemperatureModel(spec)
	if err != nil {
		return climate.Models{}, fmt.Errorf("temperature model: %w", err)
	}
	index, err := model.NewCarbonIndexModel(cat.CarbonIndex.Points)
	if err != nil {
		return climate.Models{}, fmt.Errorf("carbon index: %w", err)
	}

	def := s.tuning.Contribution.DefaultValue
	if cat.Contributions.Digest != "" {
		def = cat.Contributions.Default
	}
	return climate.Models{
		Temperature:  temp,
		Contribution: model.NewContributionModel(cat.Contributions.Fuels, def),
		Reduction: model.ReductionModel{
			PerBlock:    s.tuning.Reduction.PerBlock,
			Multipliers: s.tuning.Reduction.Multipliers,
		},
		CarbonIndex: index,
		Curves:      regionCurves(cat, s.overlays[id]),
	}, nil
}

// regionCurves is the region-scoped curve sets plus every subject the
// region's overlay defines, whatever the scope of its file. An overlay
// crops.json thus makes those crop curves region-owned; effect-scoped
// subjects it leaves out stay with the effect.
func regionCurves(cat, overlay *catalogs.Catalogs) map[climate.Kind]map[string]*curve.AlternateCurve {
	out := cat.RegionCurves()
	if overlay == nil {
		return out
	}
	for k, set := range overlay.Curves {
		merged := make(map[string]*curve.AlternateCurve, len(out[k])+len(set.Subjects))
		for name, c := range out[k] {
			merged[name] = c
		}
		for name, c := range set.Subjects {
			merged[name] = c
		}
		out[k] = merged
	}
	return out
}

// Apply registers every configured region and sets its enablement flags.
func Apply(reg *climate.Registry, cfg Config, logger *log.Logger) error {
	for _, r := range cfg.Regions {
		region, err := reg.Register(climate.RegionID(r.ID))
		if err != nil {
			return err
		}
		region.SetEnabled(!r.Disabled)
		for _, e := range r.Effects {
			k, err := climate.ParseKind(e)
			if err != nil {
				return fmt.Errorf("region %s: %w", r.ID, err)
			}
			region.SetEffectEnabled(k, true)
		}
		if logger != nil {
			logger.Printf("region=%s enabled=%v effects=%s temperature=%.2f", r.ID, !r.Disabled, strings.Join(r.Effects, ","), region.Temperature())
		}
	}
	return nil
}
