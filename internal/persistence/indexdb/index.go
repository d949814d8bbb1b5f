package indexdb

import (
	"errors"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/tuning"
)

// Index receives every record and decision the server produces.
type Index interface {
	WriteRecord(rec climate.Record) error
	WriteDecision(e effects.DecisionEntry) error
	UpsertCatalogs(digests map[string]string, tune tuning.Tuning) error
	Close() error
}

var (
	_ Index = (*SQLiteIndex)(nil)
	_ Index = (*RemoteIndex)(nil)
)

// Fanout writes to each index in order; nil members are skipped.
type Fanout []Index

func (f Fanout) WriteRecord(rec climate.Record) error {
	var errs []error
	for _, idx := range f {
		if idx != nil {
			errs = append(errs, idx.WriteRecord(rec))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WriteDecision(e effects.DecisionEntry) error {
	var errs []error
	for _, idx := range f {
		if idx != nil {
			errs = append(errs, idx.WriteDecision(e))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) UpsertCatalogs(digests map[string]string, tune tuning.Tuning) error {
	var errs []error
	for _, idx := range f {
		if idx != nil {
			errs = append(errs, idx.UpsertCatalogs(digests, tune))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, idx := range f {
		if idx != nil {
			errs = append(errs, idx.Close())
		}
	}
	return errors.Join(errs...)
}
