package objstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	EnqueuedTotal       uint64 `json:"enqueued_total"`
	QueueSaturatedTotal uint64 `json:"queue_saturated_total"`
	DroppedTotal        uint64 `json:"dropped_total"`
	UploadSuccessTotal  uint64 `json:"upload_success_total"`
	UploadFailTotal     uint64 `json:"upload_fail_total"`
	LastSuccessUnix     int64  `json:"last_success_unix"`
	LastErrorUnix       int64  `json:"last_error_unix"`
}

type uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type ArchiverConfig struct {
	DataDir       string // object keys are paths relative to this
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Logger        *log.Logger
}

// Archiver copies closed journal segments to object storage on a small
// worker pool. Enqueue never blocks longer than EnqueueWait.
type Archiver struct {
	client  uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs        chan string
	enqueueWait time.Duration
	backoff     time.Duration
	closeOnce   sync.Once
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewArchiver(client *Client, cfg ArchiverConfig) *Archiver {
	return newArchiver(client, cfg)
}

func newArchiver(client uploader, cfg ArchiverConfig) *Archiver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	a := &Archiver{
		client:      client,
		dataDir:     cfg.DataDir,
		prefix:      strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		logger:      cfg.Logger,
		jobs:        make(chan string, cfg.QueueCapacity),
		enqueueWait: cfg.EnqueueWait,
		backoff:     200 * time.Millisecond,
	}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for localPath := range a.jobs {
				a.uploadOne(localPath)
			}
		}()
	}
	return a
}

// Enqueue schedules localPath for upload. It has the signature of the
// journal's file-closed hook.
func (a *Archiver) Enqueue(localPath string) {
	if a == nil || a.client == nil {
		return
	}
	a.enqueuedTotal.Add(1)

	select {
	case a.jobs <- localPath:
		return
	default:
	}

	a.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(a.enqueueWait)
	defer timer.Stop()
	select {
	case a.jobs <- localPath:
	case <-timer.C:
		dropped := a.droppedTotal.Add(1)
		a.printf("archive drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", localPath, a.enqueueWait.Milliseconds(), dropped)
	}
}

// Sweep enqueues every journal segment already under dir, for segments
// closed while the archiver was off.
func (a *Archiver) Sweep(dir string) int {
	if a == nil {
		return 0
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		a.Enqueue(filepath.Join(dir, e.Name()))
		n++
	}
	return n
}

// Close waits for queued uploads to finish.
func (a *Archiver) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() { close(a.jobs) })
	a.wg.Wait()
}

func (a *Archiver) Stats() Stats {
	if a == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(a.jobs),
		QueueCapacity:       cap(a.jobs),
		EnqueuedTotal:       a.enqueuedTotal.Load(),
		QueueSaturatedTotal: a.queueSaturatedTotal.Load(),
		DroppedTotal:        a.droppedTotal.Load(),
		UploadSuccessTotal:  a.uploadSuccessTotal.Load(),
		UploadFailTotal:     a.uploadFailTotal.Load(),
		LastSuccessUnix:     a.lastSuccessUnix.Load(),
		LastErrorUnix:       a.lastErrorUnix.Load(),
	}
}

func (a *Archiver) uploadOne(localPath string) {
	key, err := a.objectKey(localPath)
	if err != nil {
		a.printf("archive skip local=%s err=%v", localPath, err)
		return
	}
	if err := a.uploadWithRetry(key, localPath); err != nil {
		a.uploadFailTotal.Add(1)
		a.lastErrorUnix.Store(time.Now().UTC().Unix())
		a.printf("archive upload failed key=%s local=%s err=%v", key, localPath, err)
		return
	}
	a.uploadSuccessTotal.Add(1)
	a.lastSuccessUnix.Store(time.Now().UTC().Unix())
	a.printf("archive uploaded key=%s", key)
}

func (a *Archiver) uploadWithRetry(key, localPath string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := a.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * a.backoff)
		}
	}
	return lastErr
}

func (a *Archiver) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(a.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if a.prefix != "" {
		return path.Join(a.prefix, rel), nil
	}
	return rel, nil
}

func (a *Archiver) printf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
