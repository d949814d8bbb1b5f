package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
)

const (
	ScopeEffect = "effect"
	ScopeRegion = "region"
)

type Catalogs struct {
	Curves           map[climate.Kind]CurveSet
	Contributions    ContributionCatalog
	CarbonIndex      PointsCatalog
	ScoreTemperature PointsCatalog
}

// CurveSet holds the subject curves of one effect kind. Region-scoped sets
// belong to each region's engine; effect-scoped sets to the effect itself.
type CurveSet struct {
	Kind     climate.Kind
	Scope    string
	Subjects map[string]*curve.AlternateCurve
	Digest   string
}

type ContributionCatalog struct {
	Default int64            `json:"default"`
	Fuels   map[string]int64 `json:"fuels"`
	Digest  string           `json:"-"`
}

type PointsCatalog struct {
	Points []curve.Point `json:"points"`
	Digest string        `json:"-"`
}

type curveFile struct {
	Kind     string                `json:"kind"`
	Scope    string                `json:"scope"`
	Subjects map[string]subjectDef `json:"subjects"`
}

type subjectDef struct {
	Points     []curve.Point  `json:"points"`
	Range      []float64      `json:"range,omitempty"`
	Alternates []alternateDef `json:"alternates,omitempty"`
}

type alternateDef struct {
	Outcome     string        `json:"outcome"`
	Weight      float64       `json:"weight"`
	WeightCurve []curve.Point `json:"weight_curve,omitempty"`
}

type schemas struct {
	curveSet      *jsonschema.Schema
	contributions *jsonschema.Schema
	points        *jsonschema.Schema
}

// Load reads the climate catalogs under configDir. When schemaDir is set
// every file is validated against its JSON schema before decoding.
func Load(configDir, schemaDir string) (*Catalogs, error) {
	s, err := compileSchemas(schemaDir)
	if err != nil {
		return nil, err
	}
	var c Catalogs
	if err := loadCurves(filepath.Join(configDir, "curves"), s, &c); err != nil {
		return nil, err
	}
	if err := loadContributions(filepath.Join(configDir, "contributions.json"), s, &c.Contributions); err != nil {
		return nil, err
	}
	if err := loadPoints(filepath.Join(configDir, "carbon_index.json"), s, &c.CarbonIndex, false); err != nil {
		return nil, err
	}
	if err := loadPoints(filepath.Join(configDir, "score_temperature.json"), s, &c.ScoreTemperature, true); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadOverlay reads a region's own model directory. Every file is optional;
// missing ones leave the base catalogs in effect.
func LoadOverlay(dir, schemaDir string) (*Catalogs, error) {
	s, err := compileSchemas(schemaDir)
	if err != nil {
		return nil, err
	}
	var c Catalogs
	if _, err := os.Stat(filepath.Join(dir, "curves")); err == nil {
		if err := loadCurves(filepath.Join(dir, "curves"), s, &c); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "contributions.json")); err == nil {
		if err := loadContributions(filepath.Join(dir, "contributions.json"), s, &c.Contributions); err != nil {
			return nil, err
		}
	}
	if err := loadPoints(filepath.Join(dir, "carbon_index.json"), s, &c.CarbonIndex, true); err != nil {
		return nil, err
	}
	if err := loadPoints(filepath.Join(dir, "score_temperature.json"), s, &c.ScoreTemperature, true); err != nil {
		return nil, err
	}
	return &c, nil
}

// Overlay returns base with o's sets, fuels and point catalogs layered on top.
// Subjects merge per kind; o wins on conflicts.
func (c *Catalogs) Overlay(o *Catalogs) *Catalogs {
	if o == nil {
		return c
	}
	out := &Catalogs{
		Curves:           map[climate.Kind]CurveSet{},
		Contributions:    c.Contributions,
		CarbonIndex:      c.CarbonIndex,
		ScoreTemperature: c.ScoreTemperature,
	}
	for k, set := range c.Curves {
		out.Curves[k] = set
	}
	for k, set := range o.Curves {
		base, ok := out.Curves[k]
		if !ok {
			out.Curves[k] = set
			continue
		}
		merged := CurveSet{Kind: k, Scope: base.Scope, Subjects: map[string]*curve.AlternateCurve{}, Digest: sha256Hex([]byte(base.Digest + set.Digest))}
		for name, cv := range base.Subjects {
			merged.Subjects[name] = cv
		}
		for name, cv := range set.Subjects {
			merged.Subjects[name] = cv
		}
		out.Curves[k] = merged
	}
	if o.Contributions.Digest != "" {
		fuels := map[string]int64{}
		for k, v := range c.Contributions.Fuels {
			fuels[k] = v
		}
		for k, v := range o.Contributions.Fuels {
			fuels[k] = v
		}
		out.Contributions = ContributionCatalog{
			Default: o.Contributions.Default,
			Fuels:   fuels,
			Digest:  sha256Hex([]byte(c.Contributions.Digest + o.Contributions.Digest)),
		}
	}
	if len(o.CarbonIndex.Points) > 0 {
		out.CarbonIndex = o.CarbonIndex
	}
	if len(o.ScoreTemperature.Points) > 0 {
		out.ScoreTemperature = o.ScoreTemperature
	}
	return out
}

func (c *Catalogs) curvesWithScope(scope string) map[climate.Kind]map[string]*curve.AlternateCurve {
	out := map[climate.Kind]map[string]*curve.AlternateCurve{}
	for k, set := range c.Curves {
		if set.Scope != scope {
			continue
		}
		out[k] = set.Subjects
	}
	return out
}

func (c *Catalogs) EffectCurves() map[climate.Kind]map[string]*curve.AlternateCurve {
	return c.curvesWithScope(ScopeEffect)
}

func (c *Catalogs) RegionCurves() map[climate.Kind]map[string]*curve.AlternateCurve {
	return c.curvesWithScope(ScopeRegion)
}

// Digests lists a digest per loaded catalog, keyed by catalog name.
func (c *Catalogs) Digests() map[string]string {
	out := map[string]string{
		"contributions": c.Contributions.Digest,
		"carbon_index":  c.CarbonIndex.Digest,
	}
	if c.ScoreTemperature.Digest != "" {
		out["score_temperature"] = c.ScoreTemperature.Digest
	}
	for k, set := range c.Curves {
		out["curves/"+strings.ToLower(k.String())] = set.Digest
	}
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func compileSchemas(dir string) (*schemas, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	compile := func(name string) (*jsonschema.Schema, error) {
		s, err := jsonschema.Compile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		return s, nil
	}
	var (
		s   schemas
		err error
	)
	if s.curveSet, err = compile("curve_set.schema.json"); err != nil {
		return nil, err
	}
	if s.contributions, err = compile("contributions.schema.json"); err != nil {
		return nil, err
	}
	if s.points, err = compile("points.schema.json"); err != nil {
		return nil, err
	}
	return &s, nil
}

func validate(s *jsonschema.Schema, name string, raw []byte) error {
	if s == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func loadCurves(dir string, s *schemas, out *Catalogs) error {
	out.Curves = map[climate.Kind]CurveSet{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, p := range files {
		name := filepath.Base(p)
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if s != nil {
			if err := validate(s.curveSet, name, raw); err != nil {
				return err
			}
		}
		var f curveFile
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		set, err := buildCurveSet(f)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := out.Curves[set.Kind]; dup {
			return fmt.Errorf("%s: duplicate curve set for %s", name, set.Kind)
		}
		set.Digest = sha256Hex(raw)
		out.Curves[set.Kind] = set
	}
	return nil
}

func buildCurveSet(f curveFile) (CurveSet, error) {
	kind, err := climate.ParseKind(f.Kind)
	if err != nil {
		return CurveSet{}, err
	}
	scope := strings.ToLower(strings.TrimSpace(f.Scope))
	if scope == "" {
		scope = ScopeEffect
	}
	if scope != ScopeEffect && scope != ScopeRegion {
		return CurveSet{}, fmt.Errorf("unknown scope %q", f.Scope)
	}
	set := CurveSet{Kind: kind, Scope: scope, Subjects: map[string]*curve.AlternateCurve{}}
	for name, def := range f.Subjects {
		key := strings.ToUpper(strings.TrimSpace(name))
		if key == "" {
			return CurveSet{}, fmt.Errorf("empty subject name")
		}
		c, err := buildSubject(def)
		if err != nil {
			return CurveSet{}, fmt.Errorf("subject %s: %w", key, err)
		}
		set.Subjects[key] = c
	}
	return set, nil
}

func buildSubject(def subjectDef) (*curve.AlternateCurve, error) {
	var opts []curve.Option
	if len(def.Range) > 0 {
		if len(def.Range) != 2 {
			return nil, fmt.Errorf("%w: range needs [lo, hi]", curve.ErrMalformedCurve)
		}
		opts = append(opts, curve.WithRange(def.Range[0], def.Range[1]))
	}
	base, err := curve.New(def.Points, opts...)
	if err != nil {
		return nil, err
	}
	alts := make([]curve.Alternate, 0, len(def.Alternates))
	for _, a := range def.Alternates {
		alt := curve.Alternate{Outcome: strings.ToUpper(strings.TrimSpace(a.Outcome)), Weight: a.Weight}
		if len(a.WeightCurve) > 0 {
			wc, err := curve.New(a.WeightCurve)
			if err != nil {
				return nil, fmt.Errorf("alternate %s: %w", alt.Outcome, err)
			}
			alt.Curve = wc
		}
		alts = append(alts, alt)
	}
	return curve.NewAlternate(base, alts)
}

func loadContributions(path string, s *schemas, out *ContributionCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if s != nil {
		if err := validate(s.contributions, filepath.Base(path), raw); err != nil {
			return err
		}
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	fuels := make(map[string]int64, len(out.Fuels))
	for k, v := range out.Fuels {
		if v < 0 {
			return fmt.Errorf("%s: fuel %s has negative value", filepath.Base(path), k)
		}
		fuels[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	out.Fuels = fuels
	return nil
}

func loadPoints(path string, s *schemas, out *PointsCatalog, optional bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if s != nil {
		if err := validate(s.points, filepath.Base(path), raw); err != nil {
			return err
		}
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if _, err := curve.New(out.Points); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
