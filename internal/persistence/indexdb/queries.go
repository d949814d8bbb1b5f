package indexdb

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"globalwarming.dev/internal/sim/climate"
)

// Reader runs read-only queries against a score database. cmd/admin opens one
// directly; SQLiteIndex embeds one over its own connection.
type Reader struct {
	db *sqlx.DB
}

// OpenReader opens an existing database for queries only.
func OpenReader(path string) (*Reader, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type PlayerTotal struct {
	Region string `db:"region"`
	Actor  string `db:"actor"`
	Score  int64  `db:"score"`
}

func (r *Reader) PlayerTotals(ctx context.Context) ([]PlayerTotal, error) {
	var out []PlayerTotal
	err := r.db.SelectContext(ctx, &out, `SELECT region, actor, SUM(delta) AS score FROM records GROUP BY region, actor`)
	return out, err
}

// TopPlayers lists the lowest-scoring players of a region first.
func (r *Reader) TopPlayers(ctx context.Context, id climate.RegionID, limit int) ([]Standing, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	var out []Standing
	err := r.db.SelectContext(ctx, &out, `SELECT actor, SUM(delta) AS score FROM records
		WHERE region = ? GROUP BY actor ORDER BY score ASC, actor ASC LIMIT ?`, string(id), limit)
	return out, err
}

func (r *Reader) PlayerScore(ctx context.Context, id climate.RegionID, actor string) (int64, error) {
	var score int64
	err := r.db.GetContext(ctx, &score, `SELECT COALESCE(SUM(delta), 0) FROM records WHERE region = ? AND actor = ?`, string(id), actor)
	return score, err
}

type RegionTotal struct {
	Region  string `db:"region" json:"region"`
	Score   int64  `db:"score" json:"score"`
	Records int64  `db:"records" json:"records"`
}

func (r *Reader) RegionTotals(ctx context.Context) ([]RegionTotal, error) {
	var out []RegionTotal
	err := r.db.SelectContext(ctx, &out, `SELECT region, SUM(delta) AS score, COUNT(*) AS records FROM records
		GROUP BY region ORDER BY region`)
	return out, err
}

func (r *Reader) RecentRecords(ctx context.Context, id climate.RegionID, limit int) ([]climate.Record, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, kind, region, actor, source, value, delta, at FROM records
		WHERE region = ? ORDER BY at DESC, id LIMIT ?`, string(id), limit); err != nil {
		return nil, err
	}
	out := make([]climate.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type DecisionCount struct {
	Region string `db:"region" json:"region"`
	Kind   string `db:"kind" json:"kind"`
	Action string `db:"action" json:"action"`
	Count  int64  `db:"n" json:"count"`
}

func (r *Reader) DecisionCounts(ctx context.Context) ([]DecisionCount, error) {
	var out []DecisionCount
	err := r.db.SelectContext(ctx, &out, `SELECT region, kind, action, COUNT(*) AS n FROM decisions
		GROUP BY region, kind, action ORDER BY region, kind, action`)
	return out, err
}

func (r *Reader) CatalogDigests(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Name   string `db:"name"`
		Digest string `db:"digest"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT name, digest FROM catalogs ORDER BY name`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Digest
	}
	return out, nil
}

func (row recordRow) record() (climate.Record, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return climate.Record{}, fmt.Errorf("record id %q: %w", row.ID, err)
	}
	at, err := time.Parse(timeLayout, row.At)
	if err != nil {
		return climate.Record{}, fmt.Errorf("record %s at: %w", row.ID, err)
	}
	return climate.Record{
		ID:     id,
		Kind:   climate.RecordKind(row.Kind),
		Region: climate.RegionID(row.Region),
		Actor:  row.Actor,
		Source: row.Source,
		Value:  row.Value,
		At:     at,
	}, nil
}
