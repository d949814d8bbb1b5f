package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
)

// Files lists the journal files of dir for prefix in chronological order.
func Files(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ForEachLine calls fn with every JSON line of a journal file. A final line
// cut short by a crash ends the file without error.
func ForEachLine(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadRecords replays the record journal under dataDir in write order.
func ReadRecords(dataDir string, fn func(climate.Record) error) error {
	files, err := Files(filepath.Join(dataDir, RecordsDir), "records")
	if err != nil {
		return err
	}
	for _, p := range files {
		err := ForEachLine(p, func(line []byte) error {
			var rec climate.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			return fn(rec)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func ReadDecisions(dataDir string, fn func(effects.DecisionEntry) error) error {
	files, err := Files(filepath.Join(dataDir, DecisionsDir), "decisions")
	if err != nil {
		return err
	}
	for _, p := range files {
		err := ForEachLine(p, func(line []byte) error {
			var e effects.DecisionEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			return fn(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
