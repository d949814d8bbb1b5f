package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"globalwarming.dev/internal/persistence/indexdb"
	persistlog "globalwarming.dev/internal/persistence/log"
	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/regions"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dataDir     = fs.String("data", "./data", "runtime data directory (records/ and decisions/ journals)")
		configDir   = fs.String("configs", "./configs", "config directory")
		schemaDir   = fs.String("schemas", "./schemas", "json schema directory")
		tuningPath  = fs.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		regionsPath = fs.String("regions", "", "path to regions.yaml (default: <configs>/regions.yaml)")
		dbPath      = fs.String("db", "", "score index to verify against (default: <data>/index/scores.sqlite if present)")
		noVerify    = fs.Bool("no_verify", false, "skip the index comparison")
		until       = fs.String("until", "", "ignore journal entries after this RFC3339 time")
		asJSON      = fs.Bool("json", false, "print json")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var cutoff time.Time
	if s := strings.TrimSpace(*until); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fmt.Fprintln(stderr, "bad -until:", err)
			return 2
		}
		cutoff = t
	}

	setup, err := regions.LoadSetup(regions.Paths{
		ConfigDir:   *configDir,
		SchemaDir:   *schemaDir,
		TuningPath:  *tuningPath,
		RegionsPath: *regionsPath,
	}, nil)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}

	sum, err := replay(*dataDir, cutoff)
	if err != nil {
		fmt.Fprintln(stderr, "replay:", err)
		return 1
	}
	if err := sum.derive(setup); err != nil {
		fmt.Fprintln(stderr, "models:", err)
		return 1
	}

	var mismatches []string
	if !*noVerify {
		path := strings.TrimSpace(*dbPath)
		if path == "" {
			path = filepath.Join(*dataDir, "index", "scores.sqlite")
			if _, err := os.Stat(path); err != nil {
				path = ""
			}
		}
		if path != "" {
			mismatches, err = verify(path, sum)
			if err != nil {
				fmt.Fprintln(stderr, "verify:", err)
				return 1
			}
			sum.Verified = true
		}
	}

	if *asJSON {
		_ = json.NewEncoder(stdout).Encode(sum)
	} else {
		sum.print(stdout)
	}
	if len(mismatches) > 0 {
		for _, m := range mismatches {
			fmt.Fprintln(stderr, "mismatch:", m)
		}
		return 1
	}
	return 0
}

type regionSummary struct {
	Region      string           `json:"region"`
	Records     int              `json:"records"`
	Score       int64            `json:"score"`
	Temperature float64          `json:"temperature"`
	Band        string           `json:"band"`
	CarbonIndex float64          `json:"carbon_index"`
	Players     map[string]int64 `json:"players"`
	Decisions   map[string]int   `json:"decisions,omitempty"`
}

type summary struct {
	Regions    []*regionSummary `json:"regions"`
	Records    int              `json:"records"`
	Duplicates int              `json:"duplicates"`
	Decisions  int              `json:"decisions"`
	Last       time.Time        `json:"last,omitempty"`
	Verified   bool             `json:"verified"`

	byID map[climate.RegionID]*regionSummary
}

func (s *summary) region(id climate.RegionID) *regionSummary {
	if r, ok := s.byID[id]; ok {
		return r
	}
	r := &regionSummary{Region: string(id), Players: map[string]int64{}}
	s.byID[id] = r
	s.Regions = append(s.Regions, r)
	return r
}

// replay folds the record and decision journals into per-region totals.
// Records are keyed by id, so an entry journaled twice counts once, the same
// way the index's primary key treats it.
func replay(dataDir string, cutoff time.Time) (*summary, error) {
	s := &summary{byID: map[climate.RegionID]*regionSummary{}}
	seen := map[uuid.UUID]bool{}

	err := persistlog.ReadRecords(dataDir, func(rec climate.Record) error {
		if !cutoff.IsZero() && rec.At.After(cutoff) {
			return nil
		}
		if seen[rec.ID] {
			s.Duplicates++
			return nil
		}
		seen[rec.ID] = true
		r := s.region(rec.Region)
		r.Records++
		r.Score += rec.Delta()
		r.Players[rec.Actor] += rec.Delta()
		s.Records++
		if rec.At.After(s.Last) {
			s.Last = rec.At
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}

	err = persistlog.ReadDecisions(dataDir, func(e effects.DecisionEntry) error {
		if !cutoff.IsZero() && e.At.After(cutoff) {
			return nil
		}
		r := s.region(e.Region)
		if r.Decisions == nil {
			r.Decisions = map[string]int{}
		}
		r.Decisions[e.Kind.String()+"/"+e.Action]++
		s.Decisions++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decisions: %w", err)
	}

	sort.Slice(s.Regions, func(i, j int) bool { return s.Regions[i].Region < s.Regions[j].Region })
	return s, nil
}

// derive fills in the temperature and index each region's score maps to.
func (s *summary) derive(setup *regions.Setup) error {
	for _, r := range s.Regions {
		m, err := setup.Models.ModelsFor(climate.RegionID(r.Region))
		if err != nil {
			return fmt.Errorf("%s: %w", r.Region, err)
		}
		r.Temperature = m.Temperature.TemperatureFor(r.Score)
		r.Band = setup.Tuning.Bands.Of(r.Temperature).String()
		r.CarbonIndex = m.CarbonIndex.Index(r.Score)
	}
	return nil
}

func (s *summary) print(out io.Writer) {
	for _, r := range s.Regions {
		fmt.Fprintf(out, "region=%s records=%d score=%d temperature=%.2f band=%s carbon_index=%.2f players=%d\n",
			r.Region, r.Records, r.Score, r.Temperature, r.Band, r.CarbonIndex, len(r.Players))
		keys := make([]string, 0, len(r.Decisions))
		for k := range r.Decisions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  decisions %s=%d\n", k, r.Decisions[k])
		}
	}
	fmt.Fprintf(out, "replay ok: records=%d duplicates=%d decisions=%d verified=%v\n", s.Records, s.Duplicates, s.Decisions, s.Verified)
}

// verify compares the replayed totals with the score index. Rows the index
// dropped under load show up here.
func verify(path string, s *summary) ([]string, error) {
	r, err := indexdb.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	totals, err := r.RegionTotals(ctx)
	if err != nil {
		return nil, err
	}
	players, err := r.PlayerTotals(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	indexed := map[string]indexdb.RegionTotal{}
	for _, t := range totals {
		indexed[t.Region] = t
	}
	for _, rs := range s.Regions {
		t := indexed[rs.Region]
		if t.Score != rs.Score || t.Records != int64(rs.Records) {
			out = append(out, fmt.Sprintf("region %s: journal score=%d records=%d, index score=%d records=%d",
				rs.Region, rs.Score, rs.Records, t.Score, t.Records))
		}
		delete(indexed, rs.Region)
	}
	for id, t := range indexed {
		out = append(out, fmt.Sprintf("region %s: only in index (score=%d records=%d)", id, t.Score, t.Records))
	}

	indexedPlayers := map[string]int64{}
	for _, p := range players {
		indexedPlayers[p.Region+"/"+p.Actor] = p.Score
	}
	for _, rs := range s.Regions {
		for actor, score := range rs.Players {
			key := rs.Region + "/" + actor
			if got, ok := indexedPlayers[key]; !ok || got != score {
				out = append(out, fmt.Sprintf("player %s: journal=%d index=%d", key, score, got))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
