package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/pipeline"
	"github.com/wegman-software/osmhistory-go/internal/proj"
)

var projectionStr string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the history store as rendering rows",
	Long: `Export every stored version as point, line and polygon rows with its
validity interval, class, subclass, name and tags.

Way geometries use the node positions valid when the way version became
valid; multipolygon relations are composed from their closed member ways.

Formats:
  postgis  <schema>.<prefix>_point, _line and _polygon tables with indexes
  parquet  point.parquet, line.parquet and polygon.parquet in --export-dir`,
	Args: cobra.NoArgs,
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&cfg.ExportFormat, "format", "f", cfg.ExportFormat, "Output format: postgis or parquet")
	exportCmd.Flags().StringVarP(&cfg.ExportDir, "export-dir", "o", cfg.ExportDir, "Directory for Parquet files")
	exportCmd.Flags().StringVar(&cfg.ExportSchema, "export-schema", cfg.ExportSchema, "PostgreSQL schema for rendering tables")
	exportCmd.Flags().StringVar(&cfg.ExportPrefix, "prefix", cfg.ExportPrefix, "Rendering table name prefix")
	exportCmd.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Target projection SRID (4326 or 3857)")
	exportCmd.Flags().BoolVar(&cfg.CurrentOnly, "current-only", false, "Export only current versions")
	exportCmd.Flags().IntVar(&cfg.CoordCacheMax, "coord-cache", cfg.CoordCacheMax, "Node histories kept in the coordinate cache")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()

	srid, err := proj.ParseSRID(projectionStr)
	if err != nil {
		exitWithError("invalid projection", err)
	}
	cfg.Projection = srid

	if err := cfg.ValidateExport(); err != nil {
		exitWithError("invalid configuration", err)
	}

	log.Info("Starting osmhistory export",
		zap.String("database", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.String("schema", cfg.DBSchema),
		zap.String("format", cfg.ExportFormat),
		zap.Int("projection", cfg.Projection))

	ctx, stop := commandContext()
	defer stop()

	totalStart := time.Now()
	coordinator, err := pipeline.NewCoordinator(ctx, cfg)
	if err != nil {
		exitWithError("failed to connect", err)
	}
	defer coordinator.Close()

	stats, err := coordinator.RunExport(ctx)
	if err != nil {
		exitWithError("export failed", err)
	}

	log.Info("Export finished",
		zap.Int64("rows", stats.Total()),
		zap.Duration("total_time", time.Since(totalStart).Round(time.Second)))
}
