package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/tuning"
)

// SQLiteIndex is the score store. Aggregates live in memory and are updated
// synchronously; rows are written by a single background goroutine and may be
// dropped under back-pressure (the JSONL journal remains the source of truth).
type SQLiteIndex struct {
	*Reader

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// closeMu orders queue sends before close(ch).
	closeMu sync.RWMutex
	closed  bool

	scores *scoreBoard

	dropRecordTotal   atomic.Uint64
	dropDecisionTotal atomic.Uint64
	writeFailTotal    atomic.Uint64
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type reqKind int

const (
	reqRecord reqKind = iota + 1
	reqDecision
)

type req struct {
	kind reqKind

	record   climate.Record
	decision effects.DecisionEntry
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropRecordTotal   uint64 `json:"drop_record_total"`
	DropDecisionTotal uint64 `json:"drop_decision_total"`
	WriteFailTotal    uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		Reader: &Reader{db: db},
		// Records arrive in bursts (a furnace row burning at once); keep a deep buffer.
		ch:     make(chan req, 65536),
		scores: newScoreBoard(),
	}
	if err := s.loadScores(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load scores: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			region TEXT NOT NULL,
			actor TEXT NOT NULL,
			source TEXT NOT NULL,
			value INTEGER NOT NULL,
			delta INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_region_actor ON records(region, actor);`,
		`CREATE INDEX IF NOT EXISTS idx_records_region_at ON records(region, at);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			region TEXT NOT NULL,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			action TEXT NOT NULL,
			outcome TEXT,
			roll REAL NOT NULL,
			value REAL NOT NULL,
			temperature REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_region_kind ON decisions(region, kind);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) loadScores(ctx context.Context) error {
	rows, err := s.PlayerTotals(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		s.scores.add(climate.RegionID(r.Region), r.Actor, r.Score)
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.ch)
		s.closeMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// CurrentScore never blocks on I/O.
func (s *SQLiteIndex) CurrentScore(id climate.RegionID) int64 {
	if s == nil {
		return 0
	}
	return s.scores.region(id)
}

func (s *SQLiteIndex) PlayerScore(id climate.RegionID, actor string) int64 {
	if s == nil {
		return 0
	}
	return s.scores.player(id, actor)
}

// Ranking returns up to limit players of a region ordered by ascending score
// (lowest emitters first), ties broken by actor.
func (s *SQLiteIndex) Ranking(id climate.RegionID, limit int) []Standing {
	if s == nil {
		return nil
	}
	return s.scores.ranking(id, limit)
}

// WriteRecord applies rec to the live aggregates and queues the row.
func (s *SQLiteIndex) WriteRecord(rec climate.Record) error {
	if s == nil {
		return nil
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil
	}
	s.scores.add(rec.Region, rec.Actor, rec.Delta())
	select {
	case s.ch <- req{kind: reqRecord, record: rec}:
	default:
		s.dropRecordTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteDecision(e effects.DecisionEntry) error {
	if s == nil {
		return nil
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- req{kind: reqDecision, decision: e}:
	default:
		s.dropDecisionTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropRecordTotal:   s.dropRecordTotal.Load(),
		DropDecisionTotal: s.dropDecisionTotal.Load(),
		WriteFailTotal:    s.writeFailTotal.Load(),
	}
}

// UpsertCatalogs stores the digests of the catalogs in effect together with
// the applied tuning.
func (s *SQLiteIndex) UpsertCatalogs(digests map[string]string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	names := make([]string, 0, len(digests))
	for name := range digests {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]kv, 0, len(names)+1)
	for _, name := range names {
		b, _ := json.Marshal(map[string]string{"digest": digests[name]})
		rows = append(rows, kv{name: name, digest: digests[name], json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRecord, _ := s.db.PrepareNamed(`INSERT OR IGNORE INTO records(id,kind,region,actor,source,value,delta,at)
		VALUES(:id,:kind,:region,:actor,:source,:value,:delta,:at)`)
	insertDecision, _ := s.db.PrepareNamed(`INSERT INTO decisions(at,region,kind,subject,action,outcome,roll,value,temperature)
		VALUES(:at,:region,:kind,:subject,:action,:outcome,:roll,:value,:temperature)`)
	defer func() {
		if insertRecord != nil {
			_ = insertRecord.Close()
		}
		if insertDecision != nil {
			_ = insertDecision.Close()
		}
	}()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailTotal.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFailTotal.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(stmt *sqlx.NamedStmt, arg any) {
		if stmt == nil {
			return
		}
		if _, err := tx.NamedStmt(stmt).Exec(arg); err != nil {
			rollback()
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.writeFailTotal.Add(1)
				continue
			}
			switch r.kind {
			case reqRecord:
				exec(insertRecord, recordRowFrom(r.record))
			case reqDecision:
				exec(insertDecision, decisionRowFrom(r.decision))
			}
			if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
				commit()
			}
		case <-ticker.C:
			// Readers share the single connection; never hold a quiet tx open.
			commit()
		}
	}
}

type recordRow struct {
	ID     string `db:"id"`
	Kind   string `db:"kind"`
	Region string `db:"region"`
	Actor  string `db:"actor"`
	Source string `db:"source"`
	Value  int64  `db:"value"`
	Delta  int64  `db:"delta"`
	At     string `db:"at"`
}

func recordRowFrom(r climate.Record) recordRow {
	return recordRow{
		ID:     r.ID.String(),
		Kind:   string(r.Kind),
		Region: string(r.Region),
		Actor:  r.Actor,
		Source: r.Source,
		Value:  r.Value,
		Delta:  r.Delta(),
		At:     r.At.UTC().Format(timeLayout),
	}
}

type decisionRow struct {
	At          string         `db:"at"`
	Region      string         `db:"region"`
	Kind        string         `db:"kind"`
	Subject     string         `db:"subject"`
	Action      string         `db:"action"`
	Outcome     sql.NullString `db:"outcome"`
	Roll        float64        `db:"roll"`
	Value       float64        `db:"value"`
	Temperature float64        `db:"temperature"`
}

func decisionRowFrom(e effects.DecisionEntry) decisionRow {
	return decisionRow{
		At:          e.At.UTC().Format(timeLayout),
		Region:      string(e.Region),
		Kind:        e.Kind.String(),
		Subject:     e.Subject,
		Action:      e.Action,
		Outcome:     sql.NullString{String: e.Outcome, Valid: e.Outcome != ""},
		Roll:        e.Roll,
		Value:       e.Value,
		Temperature: e.Temperature,
	}
}
