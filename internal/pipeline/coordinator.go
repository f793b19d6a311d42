package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/classify"
	"github.com/wegman-software/osmhistory-go/internal/config"
	"github.com/wegman-software/osmhistory-go/internal/export"
	"github.com/wegman-software/osmhistory-go/internal/history"
	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/metrics"
	"github.com/wegman-software/osmhistory-go/internal/model"
	"github.com/wegman-software/osmhistory-go/internal/proj"
	"github.com/wegman-software/osmhistory-go/internal/source"
	"github.com/wegman-software/osmhistory-go/internal/store"
	"github.com/wegman-software/osmhistory-go/internal/tagscript"
	"github.com/wegman-software/osmhistory-go/internal/writer"
)

// Coordinator owns the database pool and runs imports and exports
type Coordinator struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *store.Store
	log   *zap.Logger
}

// NewCoordinator connects to the database
func NewCoordinator(ctx context.Context, cfg *config.Config) (*Coordinator, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	// Workers plus lookups and index builds; export holds three scans, three
	// coordinate lookups and three COPY streams at once.
	maxConns := cfg.Workers + 2
	if maxConns < 10 {
		maxConns = 10
	}
	poolConfig.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	st := store.New(pool, cfg.DBSchema)
	if err := st.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Coordinator{cfg: cfg, pool: pool, store: st, log: logger.Get()}, nil
}

// Close closes all database connections
func (c *Coordinator) Close() {
	c.pool.Close()
}

// Store returns the versioned entity store
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// startCollector runs the system metrics sampler until the returned func is called
func (c *Coordinator) startCollector(ctx context.Context) context.CancelFunc {
	if c.cfg.MetricsInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(c.cfg.MetricsInterval, c.log)
	go collector.Start(ctx)
	c.log.Info("System metrics collection started", zap.Duration("interval", c.cfg.MetricsInterval))
	return cancel
}

// snapshotTime resolves the validity start of every new version in this run.
// A resumed run reuses the time recorded in the checkpoint file; recorded
// reports whether the file already carries it.
func (c *Coordinator) snapshotTime() (t time.Time, recorded bool, err error) {
	explicit, ok, err := c.cfg.Snapshot()
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok && c.cfg.StateFile != "" {
		if explicit, err = source.ReadStateTimestamp(c.cfg.StateFile); err != nil {
			return time.Time{}, false, err
		}
		ok = true
	}
	if !c.cfg.Resume {
		if ok {
			return explicit, false, nil
		}
		return time.Now().UTC().Truncate(time.Second), false, nil
	}

	saved, found, err := writer.ReadCheckpointSnapshot(c.cfg.CheckpointFile)
	if err != nil {
		return time.Time{}, false, err
	}
	switch {
	case found && ok && !saved.Equal(explicit):
		return time.Time{}, false, fmt.Errorf("snapshot time %s differs from %s recorded in %s",
			explicit.Format(time.RFC3339), saved.Format(time.RFC3339), c.cfg.CheckpointFile)
	case found:
		return saved, true, nil
	case ok:
		return explicit, false, nil
	}

	last, err := writer.ReadCheckpoint(c.cfg.CheckpointFile)
	if err != nil {
		return time.Time{}, false, err
	}
	if !last.IsZero() {
		return time.Time{}, false, fmt.Errorf("checkpoint %s has no snapshot time, pass --snapshot-time or --state-file to resume",
			c.cfg.CheckpointFile)
	}
	return time.Now().UTC().Truncate(time.Second), false, nil
}

// RunImport merges the input file into the history store
func (c *Coordinator) RunImport(ctx context.Context) (*ImportStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.startCollector(ctx)()

	snapshot, recorded, err := c.snapshotTime()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot time: %w", err)
	}
	c.log.Info("Starting import",
		zap.String("input", c.cfg.InputFile),
		zap.Time("snapshot", snapshot),
		zap.Bool("fresh", c.cfg.Fresh),
		zap.Bool("resume", c.cfg.Resume))

	tax, err := classify.LoadTaxonomy(c.cfg.TaxonomyFile)
	if err != nil {
		return nil, err
	}
	if err := c.store.EnsureTables(ctx, c.cfg.Fresh); err != nil {
		return nil, err
	}
	entries, err := c.store.EnsureClassification(ctx, tax)
	if err != nil {
		return nil, err
	}
	resolver, err := classify.NewResolver(entries)
	if err != nil {
		return nil, err
	}

	var resumeAfter model.Ref
	if c.cfg.Resume {
		if resumeAfter, err = writer.ReadCheckpoint(c.cfg.CheckpointFile); err != nil {
			return nil, err
		}
		if resumeAfter.IsZero() {
			c.log.Warn("No checkpoint found, importing from the start", zap.String("checkpoint", c.cfg.CheckpointFile))
		} else {
			c.log.Info("Resuming after checkpoint", zap.Stringer("after", resumeAfter))
		}
	}
	cp, err := writer.OpenCheckpoint(c.cfg.CheckpointFile, !c.cfg.Resume)
	if err != nil {
		return nil, err
	}
	defer cp.Close()
	if !recorded {
		if err := cp.RecordSnapshot(snapshot); err != nil {
			return nil, err
		}
	}

	// A fresh store has no prior versions to compare against.
	var lookups history.Store = c.store
	if c.cfg.Fresh {
		lookups = history.EmptyStore()
	}

	var transform TagTransform
	if c.cfg.TagScript != "" {
		script, err := tagscript.Load(c.cfg.TagScript)
		if err != nil {
			return nil, err
		}
		defer script.Close()
		transform = script
	}

	engine := writer.NewEngine(writer.NewPoolExecutor(c.pool), cp, writer.Options{
		Threshold: c.cfg.FlushThreshold,
		Workers:   c.cfg.Workers,
	})
	engine.Start(ctx)

	merger := history.NewMerger(lookups, engine, c.store.Statements(), snapshot)
	importer := NewImporter(resolver, merger, engine, c.store.Statements(), transform, ImportOptions{
		ResumeAfter:   resumeAfter,
		SkipNodes:     c.cfg.SkipNodes,
		SkipWays:      c.cfg.SkipWays,
		SkipRelations: c.cfg.SkipRelations,
	})

	reader := source.ForFile(c.cfg.InputFile)
	var size int64
	if fi, err := os.Stat(c.cfg.InputFile); err == nil {
		size = fi.Size()
	}
	progress := NewProgress(size, reader.Stats().BytesRead.Load, 10*time.Second)

	elements, errs := reader.Read(ctx, c.cfg.InputFile)
	stats, runErr := importer.Run(ctx, elements, errs, progress)
	if runErr != nil {
		cancel()
	}
	if err := engine.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}
	stats.Engine = engine.Stats()
	stats.Malformed = reader.Stats().Skipped.Load()

	c.log.Info("Import complete",
		zap.Int64("nodes", stats.Merge.Nodes.Total()),
		zap.Int64("ways", stats.Merge.Ways.Total()),
		zap.Int64("relations", stats.Merge.Relations.Total()),
		zap.Int64("resumed", stats.Resumed),
		zap.Int64("batches_committed", stats.Engine.Committed),
		zap.Int64("batches_failed", stats.Engine.Failed),
		zap.Stringer("checkpoint", cp.Last()),
		zap.Duration("duration", stats.Duration.Round(time.Second)))

	counts, err := c.store.VersionCounts(ctx)
	if err != nil {
		c.log.Warn("Failed to count stored versions", zap.Error(err))
	}
	for table, n := range counts {
		c.log.Info("Stored versions", zap.String("table", table), zap.Int64("total", n[0]), zap.Int64("open", n[1]))
	}
	return stats, nil
}

// RunExport writes the stored history to the configured sink
func (c *Coordinator) RunExport(ctx context.Context) (*export.Stats, error) {
	defer c.startCollector(ctx)()

	entries, err := c.store.LoadClassification(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("classification table is empty; run import first")
	}
	resolver, err := classify.NewResolver(entries)
	if err != nil {
		return nil, err
	}
	tr, err := proj.NewTransformer(c.cfg.Projection)
	if err != nil {
		return nil, err
	}

	var sink export.Sink
	switch c.cfg.ExportFormat {
	case config.FormatParquet:
		sink = export.NewParquetSink(c.cfg.ExportDir, tr, 0)
	default:
		sink = export.NewPostGISSink(c.pool, c.cfg.ExportSchema, c.cfg.ExportPrefix, tr)
	}

	c.log.Info("Starting export",
		zap.String("format", c.cfg.ExportFormat),
		zap.Int("srid", tr.SRID()),
		zap.Bool("current_only", c.cfg.CurrentOnly))

	x, err := export.NewExporter(c.store, sink, resolver, export.Options{
		CurrentOnly: c.cfg.CurrentOnly,
		CacheSize:   c.cfg.CoordCacheMax,
	})
	if err != nil {
		return nil, err
	}
	return x.Run(ctx)
}

// Classes returns the persisted classification table
func (c *Coordinator) Classes(ctx context.Context) ([]classify.Entry, error) {
	return c.store.LoadClassification(ctx)
}
