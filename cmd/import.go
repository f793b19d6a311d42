package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/pipeline"
)

var importCmd = &cobra.Command{
	Use:   "import <input.osm|input.osm.gz|input.osm.pbf>",
	Short: "Merge an OSM snapshot into the history store",
	Long: `Merge one OSM snapshot into the versioned history store.

Every entity is classified and compared with its current stored version:
  - new entities open a version valid from the snapshot time
  - changed entities close the current version and open a new one
  - unchanged entities are left alone

Statements are written in batches by a pool of workers. The last entity of
every committed batch is recorded in the checkpoint file so that an
interrupted import can continue with --resume.`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&cfg.SnapshotTime, "snapshot-time", "", "Snapshot time (RFC 3339); defaults to --state-file or now")
	importCmd.Flags().StringVar(&cfg.StateFile, "state-file", "", "Osmosis state.txt providing the snapshot time")
	importCmd.Flags().StringVar(&cfg.TaxonomyFile, "taxonomy", "", "Taxonomy YAML file (default: built-in)")
	importCmd.Flags().StringVar(&cfg.TagScript, "tag-script", "", "Lua script defining transform_tags(kind, id, tags)")
	importCmd.Flags().IntVar(&cfg.FlushThreshold, "flush-threshold", cfg.FlushThreshold, "Buffered statements that trigger a batch")
	importCmd.Flags().StringVar(&cfg.CheckpointFile, "checkpoint", cfg.CheckpointFile, "Checkpoint file for --resume")
	importCmd.Flags().BoolVar(&cfg.Resume, "resume", false, "Skip entities up to the last checkpoint")
	importCmd.Flags().BoolVar(&cfg.Fresh, "fresh", false, "Drop and recreate the history tables")
	importCmd.Flags().BoolVar(&cfg.SkipNodes, "skip-nodes", false, "Do not process nodes")
	importCmd.Flags().BoolVar(&cfg.SkipWays, "skip-ways", false, "Do not process ways")
	importCmd.Flags().BoolVar(&cfg.SkipRelations, "skip-relations", false, "Do not process relations")
}

func runImport(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := cfg.ValidateImport(); err != nil {
		exitWithError("invalid configuration", err)
	}

	log.Info("Starting osmhistory import",
		zap.String("input", cfg.InputFile),
		zap.String("database", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.String("schema", cfg.DBSchema),
		zap.Int("workers", cfg.Workers),
		zap.Int("flush_threshold", cfg.FlushThreshold),
		zap.String("checkpoint", cfg.CheckpointFile))

	ctx, stop := commandContext()
	defer stop()

	totalStart := time.Now()
	coordinator, err := pipeline.NewCoordinator(ctx, cfg)
	if err != nil {
		exitWithError("failed to connect", err)
	}
	defer coordinator.Close()

	stats, err := coordinator.RunImport(ctx)
	if err != nil {
		exitWithError("import failed", err)
	}

	printImportSummary(stats, time.Since(totalStart))
}

func printImportSummary(stats *pipeline.ImportStats, total time.Duration) {
	out := os.Stdout
	fmt.Fprintln(out)
	fmt.Fprint(out, stats.Merge.Table())
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-28s %12d\n", "skipped (resume)", stats.Resumed)
	fmt.Fprintf(out, "%-28s %12d\n", "skipped (type filter)", stats.Filtered)
	fmt.Fprintf(out, "%-28s %12d\n", "dropped (tag script)", stats.Dropped)
	fmt.Fprintf(out, "%-28s %12d\n", "dropped (malformed)", stats.Malformed)
	fmt.Fprintf(out, "%-28s %12d\n", "out of order", stats.OutOfOrder)
	fmt.Fprintf(out, "%-28s %12d\n", "statements", stats.Engine.Appended)
	fmt.Fprintf(out, "%-28s %12d\n", "batches committed", stats.Engine.Committed)
	fmt.Fprintf(out, "%-28s %12d\n", "batches failed", stats.Engine.Failed)
	fmt.Fprintf(out, "%-28s %12d\n", "statements dropped", stats.Engine.Dropped)
	fmt.Fprintf(out, "%-28s %12s\n", "total time", total.Round(time.Second))
}
