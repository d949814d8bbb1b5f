package climate

import (
	"time"

	"github.com/google/uuid"
)

type RegionID string

type RecordKind string

const (
	RecordContribution RecordKind = "CONTRIBUTION"
	RecordReduction    RecordKind = "REDUCTION"
)

// Record is one scoring event. Records are values: once produced they are
// passed by copy and never modified.
type Record struct {
	ID     uuid.UUID  `json:"id"`
	Kind   RecordKind `json:"kind"`
	Region RegionID   `json:"region"`
	Actor  string     `json:"actor"`
	Source string     `json:"source"`
	Value  int64      `json:"value"`
	At     time.Time  `json:"at"`
}

// Delta is the signed score change: contributions raise the score,
// reductions lower it.
func (r Record) Delta() int64 {
	if r.Kind == RecordReduction {
		return -r.Value
	}
	return r.Value
}

func newRecord(kind RecordKind, region RegionID, actor, source string, value int64, now time.Time) Record {
	return Record{
		ID:     uuid.New(),
		Kind:   kind,
		Region: region,
		Actor:  actor,
		Source: source,
		Value:  value,
		At:     now.UTC(),
	}
}
