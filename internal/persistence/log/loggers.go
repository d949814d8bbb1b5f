package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
)

const (
	RecordsDir   = "records"
	DecisionsDir = "decisions"
)

// JSONLZstdWriter appends JSON lines to zstd segment files named
// <prefix>-<UTC time in layout>.jsonl.zst, hourly by default.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string

	now      func() time.Time
	onClosed func(path string)

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

type WriterOption func(*JSONLZstdWriter)

// WithSegmentLayout sets the time layout that names (and so rotates)
// segments. Minute segments lower what an archive can lose.
func WithSegmentLayout(layout string) WriterOption {
	return func(w *JSONLZstdWriter) {
		if layout != "" {
			w.layout = layout
		}
	}
}

// WithFileClosed registers fn to run with the path of every segment the
// writer closes, on rotation and on Close. fn runs under the writer lock.
func WithFileClosed(fn func(path string)) WriterOption {
	return func(w *JSONLZstdWriter) { w.onClosed = fn }
}

func NewJSONLZstdWriter(baseDir, prefix string, opts ...WriterOption) *JSONLZstdWriter {
	w := &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		layout:  HourLayout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

const (
	HourLayout   = "2006-01-02-15"
	MinuteLayout = "2006-01-02-15-04"
)

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := w.now().UTC().Format(w.layout)
	if seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathFor(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClosed != nil && err1 == nil {
			w.onClosed(w.pathFor(w.curSeg))
		}
	}
	w.w = nil
	w.curSeg = ""
	return err1
}

func (w *JSONLZstdWriter) pathFor(seg string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, seg))
}

// RecordLogger journals every score record. The journal is the source of
// truth: cmd/replay rebuilds scores from it.
type RecordLogger struct{ w *JSONLZstdWriter }

func NewRecordLogger(dataDir string, opts ...WriterOption) *RecordLogger {
	return &RecordLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, RecordsDir), "records", opts...)}
}

func (l *RecordLogger) WriteRecord(v climate.Record) error { return l.w.Write(v) }
func (l *RecordLogger) Close() error                       { return l.w.Close() }

// DecisionLogger journals gameplay decisions.
type DecisionLogger struct{ w *JSONLZstdWriter }

func NewDecisionLogger(dataDir string, opts ...WriterOption) *DecisionLogger {
	return &DecisionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, DecisionsDir), "decisions", opts...)}
}

func (l *DecisionLogger) WriteDecision(v effects.DecisionEntry) error { return l.w.Write(v) }
func (l *DecisionLogger) Close() error                                { return l.w.Close() }
