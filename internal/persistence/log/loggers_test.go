package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
)

func TestRecordLogger_RoundTripAcrossHours(t *testing.T) {
	dir := t.TempDir()
	l := NewRecordLogger(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	want := []climate.Record{
		{ID: uuid.New(), Kind: climate.RecordContribution, Region: "overworld", Actor: "alex", Source: "COAL", Value: 8, At: clock},
		{ID: uuid.New(), Kind: climate.RecordReduction, Region: "overworld", Actor: "alex", Source: "OAK", Value: 3, At: clock.Add(2 * time.Minute)},
	}
	if err := l.WriteRecord(want[0]); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteRecord(want[1]); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(filepath.Join(dir, RecordsDir), "records")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "records-2024-05-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}

	var got []climate.Record
	if err := ReadRecords(dir, func(r climate.Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Delta() != want[i].Delta() || !got[i].At.Equal(want[i].At) {
			t.Fatalf("record %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestJSONLZstdWriter_AppendsAfterReopen(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		l := NewDecisionLogger(dir)
		l.w.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
		e := effects.DecisionEntry{Region: "overworld", Kind: climate.KindWeather, Subject: "STORM", Action: "ALLOW"}
		if err := l.WriteDecision(e); err != nil {
			t.Fatalf("WriteDecision: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	n := 0
	if err := ReadDecisions(dir, func(e effects.DecisionEntry) error {
		if e.Kind != climate.KindWeather {
			t.Fatalf("kind=%v", e.Kind)
		}
		n++
		return nil
	}); err != nil {
		t.Fatalf("ReadDecisions: %v", err)
	}
	if n != 2 {
		t.Fatalf("decisions=%d want=2", n)
	}
}

func TestFiles_MissingDirAndStrayFiles(t *testing.T) {
	files, err := Files(filepath.Join(t.TempDir(), "nope"), "records")
	if err != nil || len(files) != 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	dir := t.TempDir()
	for _, name := range []string{"records-2024-01-01-00.jsonl.zst", "notes.txt", "decisions-2024-01-01-00.jsonl.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files, err = Files(dir, "records")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
}

func TestJSONLZstdWriter_FileClosedHook(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewJSONLZstdWriter(dir, "records", WithSegmentLayout(MinuteLayout), WithFileClosed(func(p string) {
		closed = append(closed, filepath.Base(p))
	}))
	clock := time.Date(2024, 5, 1, 10, 4, 30, 0, time.UTC)
	w.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		clock = clock.Add(20 * time.Second)
	}
	if len(closed) != 1 || closed[0] != "records-2024-05-01-10-04.jsonl.zst" {
		t.Fatalf("closed after rotation=%v", closed)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(closed) != 2 || closed[1] != "records-2024-05-01-10-05.jsonl.zst" {
		t.Fatalf("closed after Close=%v", closed)
	}
	if err := w.Close(); err != nil || len(closed) != 2 {
		t.Fatalf("second Close: err=%v closed=%v", err, closed)
	}
}
