package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"globalwarming.dev/internal/persistence/indexdb"
	"globalwarming.dev/internal/sim/climate"
)

func addDBFlag(fs *flag.FlagSet) (dataDir, dbPath *string) {
	dataDir = fs.String("data", "./data", "runtime data directory")
	dbPath = fs.String("db", "", "sqlite db path (default: <data>/index/scores.sqlite)")
	return dataDir, dbPath
}

func openReader(dataDir, dbPath string) (*indexdb.Reader, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index", "scores.sqlite")
	}
	return indexdb.OpenReader(path)
}

func queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

type scoreReport struct {
	Region      string  `json:"region"`
	Score       int64   `json:"score"`
	ScoreLabel  string  `json:"score_label"`
	Temperature float64 `json:"temperature"`
	Band        string  `json:"band"`
	CarbonIndex float64 `json:"carbon_index"`
	IndexLabel  string  `json:"index_label"`
	Actor       string  `json:"actor,omitempty"`
	PlayerScore *int64  `json:"player_score,omitempty"`
}

// scoreCmd prints a region's score with the temperature and carbon index the
// server would derive from it.
func scoreCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir, dbPath := addDBFlag(fs)
	cf := addConfigFlags(fs)
	region := fs.String("region", "", "region id (default: configured default region)")
	actor := fs.String("actor", "", "also report this player's score")
	asJSON := fs.Bool("json", false, "print json")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}

	cc, err := cf.load()
	if err != nil {
		return err
	}
	id, err := cc.region(*region)
	if err != nil {
		return err
	}
	models, err := cc.models.ModelsFor(id)
	if err != nil {
		return err
	}

	r, err := openReader(*dataDir, *dbPath)
	if err != nil {
		return err
	}
	defer r.Close()
	ctx, cancel := queryContext()
	defer cancel()

	totals, err := r.RegionTotals(ctx)
	if err != nil {
		return err
	}
	var score int64
	for _, t := range totals {
		if t.Region == string(id) {
			score = t.Score
		}
	}

	temp := models.Temperature.TemperatureFor(score)
	index := models.CarbonIndex.Index(score)
	rep := scoreReport{
		Region:      string(id),
		Score:       score,
		ScoreLabel:  scoreLabel(score),
		Temperature: temp,
		Band:        cc.tuning.Bands.Of(temp).String(),
		CarbonIndex: index,
		IndexLabel:  indexLabel(index),
	}
	if a := strings.TrimSpace(*actor); a != "" {
		ps, err := r.PlayerScore(ctx, id, a)
		if err != nil {
			return err
		}
		rep.Actor = a
		rep.PlayerScore = &ps
	}

	if *asJSON {
		return json.NewEncoder(out).Encode(rep)
	}
	fmt.Fprintf(out, "region=%s score=%d (%s) temperature=%.2f band=%s carbon_index=%.2f (%s)\n",
		rep.Region, rep.Score, rep.ScoreLabel, rep.Temperature, rep.Band, rep.CarbonIndex, rep.IndexLabel)
	if rep.PlayerScore != nil {
		fmt.Fprintf(out, "player=%s score=%d (%s)\n", rep.Actor, *rep.PlayerScore, scoreLabel(*rep.PlayerScore))
	}
	return nil
}

// topCmd lists the lowest-scoring players of a region.
func topCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir, dbPath := addDBFlag(fs)
	region := fs.String("region", "overworld", "region id")
	limit := fs.Int("limit", 10, "result limit")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}

	r, err := openReader(*dataDir, *dbPath)
	if err != nil {
		return err
	}
	defer r.Close()
	ctx, cancel := queryContext()
	defer cancel()

	top, err := r.TopPlayers(ctx, climate.RegionID(strings.TrimSpace(*region)), *limit)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Fprintf(out, "no players recorded in %s\n", *region)
		return nil
	}
	for i, s := range top {
		fmt.Fprintf(out, "%2d. %-24s %8d %s\n", i+1, s.Actor, s.Score, scoreLabel(s.Score))
	}
	return nil
}

func regionsCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("regions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir, dbPath := addDBFlag(fs)
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	r, err := openReader(*dataDir, *dbPath)
	if err != nil {
		return err
	}
	defer r.Close()
	ctx, cancel := queryContext()
	defer cancel()

	totals, err := r.RegionTotals(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, t := range totals {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return nil
}

func decisionsCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("decisions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir, dbPath := addDBFlag(fs)
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	r, err := openReader(*dataDir, *dbPath)
	if err != nil {
		return err
	}
	defer r.Close()
	ctx, cancel := queryContext()
	defer cancel()

	counts, err := r.DecisionCounts(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, c := range counts {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

func recentCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir, dbPath := addDBFlag(fs)
	region := fs.String("region", "overworld", "region id")
	limit := fs.Int("limit", 20, "result limit")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	r, err := openReader(*dataDir, *dbPath)
	if err != nil {
		return err
	}
	defer r.Close()
	ctx, cancel := queryContext()
	defer cancel()

	recs, err := r.RecentRecords(ctx, climate.RegionID(strings.TrimSpace(*region)), *limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
