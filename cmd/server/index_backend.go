package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"globalwarming.dev/internal/persistence/indexdb"
	persistlog "globalwarming.dev/internal/persistence/log"
	"globalwarming.dev/internal/persistence/objstore"
	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
)

// openMirror returns the optional remote copy of the score index, selected
// by GW_INDEX_MIRROR. The local SQLite store is always on: it is the live
// score source.
func openMirror(serverID string, logger *log.Logger) (*indexdb.RemoteIndex, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GW_INDEX_MIRROR")))
	switch backend {
	case "", "none", "off", "disabled":
		return nil, nil
	case "remote", "http":
		endpoint := strings.TrimSpace(os.Getenv("GW_INDEX_REMOTE_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("GW_INDEX_MIRROR=%s but GW_INDEX_REMOTE_URL is empty", backend)
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("GW_INDEX_REMOTE_TOKEN")),
			ServerID:      serverID,
			BatchSize:     envInt("GW_INDEX_REMOTE_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("GW_INDEX_REMOTE_FLUSH_MS", 500)) * time.Millisecond,
			MaxPending:    envInt("GW_INDEX_REMOTE_MAX_PENDING", 8192),
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported GW_INDEX_MIRROR: %s", backend)
	}
}

// openArchive returns the optional object-storage archive for closed
// journal segments, enabled by GW_ARCHIVE=true.
func openArchive(dataDir string, logger *log.Logger) (*objstore.Archiver, error) {
	if !envBool("GW_ARCHIVE", false) {
		return nil, nil
	}
	client, err := objstore.NewClient(objstore.ClientConfig{
		Endpoint:        os.Getenv("GW_ARCHIVE_ENDPOINT"),
		Bucket:          os.Getenv("GW_ARCHIVE_BUCKET"),
		Region:          os.Getenv("GW_ARCHIVE_REGION"),
		AccessKeyID:     os.Getenv("GW_ARCHIVE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("GW_ARCHIVE_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("GW_ARCHIVE=true: %w", err)
	}
	a := objstore.NewArchiver(client, objstore.ArchiverConfig{
		DataDir: dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("GW_ARCHIVE_PREFIX")),
		Workers: envInt("GW_ARCHIVE_UPLOAD_WORKERS", 2),
		Logger:  logger,
	})
	if envBool("GW_ARCHIVE_SWEEP", false) {
		n := a.Sweep(filepath.Join(dataDir, persistlog.RecordsDir)) + a.Sweep(filepath.Join(dataDir, persistlog.DecisionsDir))
		logger.Printf("archive: swept %d existing segments", n)
	}
	return a, nil
}

// recordPipeline journals first; a record the journal refused is not
// indexed either, so replay and the index never disagree on what happened.
type recordPipeline struct {
	journal *persistlog.RecordLogger
	index   indexdb.Index
}

func (p recordPipeline) WriteRecord(rec climate.Record) error {
	if p.journal != nil {
		if err := p.journal.WriteRecord(rec); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}
	if p.index != nil {
		return p.index.WriteRecord(rec)
	}
	return nil
}

type decisionPipeline struct {
	journal *persistlog.DecisionLogger
	index   indexdb.Index
}

func (p decisionPipeline) WriteDecision(e effects.DecisionEntry) error {
	if p.journal != nil {
		_ = p.journal.WriteDecision(e)
	}
	if p.index != nil {
		return p.index.WriteDecision(e)
	}
	return nil
}
