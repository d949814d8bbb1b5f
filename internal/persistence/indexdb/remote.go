package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/tuning"
)

// RemoteConfig configures a RemoteIndex. Endpoint receives POSTed batches of
// the form {"events":[...]}.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	ServerID      string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxPending bounds the events retained across failed flushes.
	MaxPending int
	Logger     *log.Logger
}

// RemoteIndex mirrors records and decisions to an HTTP ingest endpoint.
// Failed batches are kept and retried on the next flush.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	// closeMu orders queue sends before close(ch).
	closeMu sync.RWMutex
	closed  bool

	queueDroppedTotal   atomic.Uint64
	pendingDroppedTotal atomic.Uint64
	flushFailTotal      atomic.Uint64
	sentTotal           atomic.Uint64
	pending             atomic.Int64
}

type remoteEvent struct {
	Kind     string `json:"kind"`
	ServerID string `json:"server_id"`
	Payload  any    `json:"payload"`
}

type remoteRecordPayload struct {
	climate.Record
	Delta int64 `json:"delta"`
}

type remoteCatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

type RemoteStats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	Pending             int64  `json:"pending"`
	QueueDroppedTotal   uint64 `json:"queue_dropped_total"`
	PendingDroppedTotal uint64 `json:"pending_dropped_total"`
	FlushFailTotal      uint64 `json:"flush_fail_total"`
	SentTotal           uint64 `json:"sent_total"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.ServerID = strings.TrimSpace(cfg.ServerID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty remote ingest endpoint")
	}
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("empty server id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = 64 * cfg.BatchSize
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		close(d.ch)
		d.closeMu.Unlock()
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) WriteRecord(rec climate.Record) error {
	d.enqueue("record", remoteRecordPayload{Record: rec, Delta: rec.Delta()})
	return nil
}

func (d *RemoteIndex) WriteDecision(e effects.DecisionEntry) error {
	d.enqueue("decision", e)
	return nil
}

func (d *RemoteIndex) UpsertCatalogs(digests map[string]string, tune tuning.Tuning) error {
	if d == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	names := make([]string, 0, len(digests))
	for name := range digests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if digests[name] == "" {
			continue
		}
		d.enqueue("catalog", remoteCatalogPayload{Name: name, Digest: digests[name], UpdatedAt: now})
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		d.enqueue("catalog", remoteCatalogPayload{Name: "tuning", Digest: hex.EncodeToString(sum[:]), JSON: string(b), UpdatedAt: now})
	}
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDepth:          len(d.ch),
		QueueCapacity:       cap(d.ch),
		Pending:             d.pending.Load(),
		QueueDroppedTotal:   d.queueDroppedTotal.Load(),
		PendingDroppedTotal: d.pendingDroppedTotal.Load(),
		FlushFailTotal:      d.flushFailTotal.Load(),
		SentTotal:           d.sentTotal.Load(),
	}
}

func (d *RemoteIndex) enqueue(kind string, payload any) {
	if d == nil {
		return
	}
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- remoteEvent{Kind: kind, ServerID: d.cfg.ServerID, Payload: payload}:
	default:
		d.queueDroppedTotal.Add(1)
		d.printf("remote index queue full; drop kind=%s", kind)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFailTotal.Add(1)
			d.printf("remote index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxPending; over > 0 {
				d.pendingDroppedTotal.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			d.pending.Store(int64(len(batch)))
			return
		}
		d.sentTotal.Add(uint64(len(batch)))
		batch = batch[:0]
		d.pending.Store(0)
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			d.pending.Store(int64(len(batch)))
			// Retained events are resent whole; only flush on the batch boundary.
			if len(batch)%d.cfg.BatchSize == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-gw-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
