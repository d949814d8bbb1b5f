package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"time"

	"globalwarming.dev/internal/persistence/indexdb"
	persistlog "globalwarming.dev/internal/persistence/log"
	"globalwarming.dev/internal/persistence/objstore"
	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/climate/notify"
	"globalwarming.dev/internal/sim/regions"
	"globalwarming.dev/internal/sim/tuning"
	"globalwarming.dev/internal/transport/ws"
)

type runtimeOptions struct {
	ConfigDir   string
	SchemaDir   string
	TuningPath  string
	RegionsPath string
	DataDir     string
	ServerID    string
	Token       string
	Seed        int64

	// Archive, when set, receives every closed journal segment.
	Archive *objstore.Archiver
}

// serverRuntime owns everything main wires together.
type serverRuntime struct {
	opts   runtimeOptions
	tuning tuning.Tuning
	cfg    regions.Config

	regions *climate.Registry
	effects *effects.Registry

	store     *indexdb.SQLiteIndex
	mirror    *indexdb.RemoteIndex
	archive   *objstore.Archiver
	recordLog *persistlog.RecordLogger
	decLog    *persistlog.DecisionLogger

	ws       *ws.Server
	notifier *notify.Notifier
}

func buildRuntime(opts runtimeOptions, mirror *indexdb.RemoteIndex, logger *log.Logger) (*serverRuntime, error) {
	rt := &serverRuntime{opts: opts, mirror: mirror, archive: opts.Archive}

	setup, err := regions.LoadSetup(regions.Paths{
		ConfigDir:   opts.ConfigDir,
		SchemaDir:   opts.SchemaDir,
		TuningPath:  opts.TuningPath,
		RegionsPath: opts.RegionsPath,
	}, logger)
	if err != nil {
		return nil, err
	}
	tune, cfg, cats := setup.Tuning, setup.Config, setup.Catalogs
	rt.tuning, rt.cfg = tune, cfg

	fx, err := effects.Build(tune.EffectSettings(), cats.EffectCurves())
	if err != nil {
		return nil, fmt.Errorf("build effects: %w", err)
	}
	if err := fx.Validate(cfg.Kinds()); err != nil {
		return nil, fmt.Errorf("effects: %w", err)
	}
	rt.effects = fx

	rt.store, err = indexdb.OpenSQLite(filepath.Join(opts.DataDir, "index", "scores.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open score store: %w", err)
	}

	rt.regions = climate.NewRegistry(rt.store, setup.Models, logger)
	if err := regions.Apply(rt.regions, cfg, logger); err != nil {
		_ = rt.store.Close()
		return nil, fmt.Errorf("register regions: %w", err)
	}

	index := indexdb.Fanout{rt.store}
	if mirror != nil {
		index = append(index, mirror)
	}
	if err := index.UpsertCatalogs(cats.Digests(), tune); err != nil {
		logger.Printf("index: upsert catalogs: %v", err)
	}

	var journalOpts []persistlog.WriterOption
	if rt.archive != nil {
		journalOpts = append(journalOpts,
			persistlog.WithSegmentLayout(persistlog.MinuteLayout),
			persistlog.WithFileClosed(rt.archive.Enqueue))
	}
	rt.recordLog = persistlog.NewRecordLogger(opts.DataDir, journalOpts...)
	rt.decLog = persistlog.NewDecisionLogger(opts.DataDir, journalOpts...)

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	wsLogger := log.New(logger.Writer(), "[ws] ", logger.Flags())
	rt.ws = ws.NewServer(ws.Config{
		DefaultRegion: climate.RegionID(cfg.DefaultRegionID),
		Bands:         tune.Bands,
		RateLimits:    tune.RateLimits,
		Catalogs:      cats.Digests(),
		Token:         opts.Token,
		Seed:          seed,
	}, ws.Deps{
		Regions:   rt.regions,
		Effects:   fx,
		Records:   recordPipeline{journal: rt.recordLog, index: index},
		Decisions: decisionPipeline{journal: rt.decLog, index: index},
		Standings: rt.store,
	}, wsLogger)

	guide := &notify.Guide{
		Regions:        rt.regions,
		Effects:        fx,
		Bands:          tune.Bands,
		Default:        tune.Notifications.Default,
		EngineDisabled: tune.Notifications.EngineDisabled,
	}
	rt.notifier = notify.NewNotifier(guide, rt.ws, notify.Config{
		Interval: tune.Notifications.Interval(),
		Duration: tune.Notifications.Duration(),
	}, rand.New(rand.NewSource(seed^0x5eed)), log.New(logger.Writer(), "[notify] ", logger.Flags()))

	logger.Printf("regions=%d effects=%d default_region=%s", len(rt.regions.IDs()), len(fx.Kinds()), cfg.DefaultRegionID)
	return rt, nil
}

func (rt *serverRuntime) Run(ctx context.Context) error {
	return rt.notifier.Run(ctx)
}

func (rt *serverRuntime) Close() error {
	var errs []error
	errs = append(errs, rt.recordLog.Close(), rt.decLog.Close())
	// Journals enqueue their last segments on Close.
	rt.archive.Close()
	if rt.mirror != nil {
		errs = append(errs, rt.mirror.Close())
	}
	errs = append(errs, rt.store.Close())
	return errors.Join(errs...)
}
