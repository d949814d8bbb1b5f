package indexdb

import (
	"sort"
	"sync"
	"sync/atomic"

	"globalwarming.dev/internal/sim/climate"
)

type Standing struct {
	Actor string `json:"actor" db:"actor"`
	Score int64  `json:"score" db:"score"`
}

type regionScore struct {
	total atomic.Int64

	mu      sync.Mutex
	players map[string]int64
}

// scoreBoard holds the live per-region and per-player totals. Region totals
// are read without taking any lock.
type scoreBoard struct {
	regions sync.Map // climate.RegionID -> *regionScore
}

func newScoreBoard() *scoreBoard { return &scoreBoard{} }

func (b *scoreBoard) get(id climate.RegionID) *regionScore {
	if v, ok := b.regions.Load(id); ok {
		return v.(*regionScore)
	}
	v, _ := b.regions.LoadOrStore(id, &regionScore{players: map[string]int64{}})
	return v.(*regionScore)
}

func (b *scoreBoard) add(id climate.RegionID, actor string, delta int64) {
	rs := b.get(id)
	rs.total.Add(delta)
	rs.mu.Lock()
	rs.players[actor] += delta
	rs.mu.Unlock()
}

func (b *scoreBoard) region(id climate.RegionID) int64 {
	v, ok := b.regions.Load(id)
	if !ok {
		return 0
	}
	return v.(*regionScore).total.Load()
}

func (b *scoreBoard) player(id climate.RegionID, actor string) int64 {
	v, ok := b.regions.Load(id)
	if !ok {
		return 0
	}
	rs := v.(*regionScore)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.players[actor]
}

func (b *scoreBoard) ranking(id climate.RegionID, limit int) []Standing {
	v, ok := b.regions.Load(id)
	if !ok {
		return nil
	}
	rs := v.(*regionScore)
	rs.mu.Lock()
	out := make([]Standing, 0, len(rs.players))
	for actor, score := range rs.players {
		out = append(out, Standing{Actor: actor, Score: score})
	}
	rs.mu.Unlock()
	sortStandings(out)
	return clampLimit(out, limit)
}

func sortStandings(s []Standing) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score < s[j].Score
		}
		return s[i].Actor < s[j].Actor
	})
}

const defaultTopLimit = 10

func clampLimit(s []Standing, limit int) []Standing {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
