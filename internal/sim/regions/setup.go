package regions

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"globalwarming.dev/internal/sim/catalogs"
	"globalwarming.dev/internal/sim/tuning"
)

type Paths struct {
	ConfigDir   string
	SchemaDir   string
	TuningPath  string // default <ConfigDir>/tuning.yaml
	RegionsPath string // default <ConfigDir>/regions.yaml
}

// Setup is the loaded configuration shared by the server and the offline
// tools.
type Setup struct {
	Tuning   tuning.Tuning
	Config   Config
	Catalogs *catalogs.Catalogs
	Models   *ModelSource
}

// LoadSetup reads tuning, regions and catalogs. A missing tuning or regions
// file falls back to defaults; anything malformed is an error.
func LoadSetup(p Paths, logger *log.Logger) (*Setup, error) {
	tp := strings.TrimSpace(p.TuningPath)
	if tp == "" {
		tp = filepath.Join(p.ConfigDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load tuning: %w", err)
		}
		if logger != nil {
			logger.Printf("tuning not found (%s); using defaults", tp)
		}
		tune = tuning.Defaults()
	}

	rp := strings.TrimSpace(p.RegionsPath)
	if rp == "" {
		rp = filepath.Join(p.ConfigDir, "regions.yaml")
	}
	if _, err := os.Stat(rp); err != nil {
		if logger != nil {
			logger.Printf("regions config not found (%s); using a single default region", rp)
		}
		rp = ""
	}
	cfg, err := Load(rp)
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}

	catalogDir := filepath.Join(p.ConfigDir, "climate")
	cats, err := catalogs.Load(catalogDir, p.SchemaDir)
	if err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	models, err := NewModelSource(cfg, tune, cats, catalogDir, p.SchemaDir)
	if err != nil {
		return nil, fmt.Errorf("region models: %w", err)
	}
	return &Setup{Tuning: tune, Config: cfg, Catalogs: cats, Models: models}, nil
}
