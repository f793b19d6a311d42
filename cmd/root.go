package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/config"
	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/metrics"
)

var (
	cfg         = config.DefaultConfig()
	stopMetrics context.CancelFunc
	metricsDone chan struct{}
)

var rootCmd = &cobra.Command{
	Use:   "osmhistory",
	Short: "Temporal OSM history store and rendering exporter",
	Long: `osmhistory merges OpenStreetMap snapshots into a PostgreSQL store that keeps
every version of every node, way and relation with its validity interval,
and exports that history as point, line and polygon rows for rendering.

Features:
  - Classification of entities against a configurable class/subclass taxonomy
  - Change detection against the stored current versions
  - Batched, concurrent, resumable writes with a checkpoint file
  - Export to PostGIS tables or Parquet files`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log := logger.Setup(logger.Options{Debug: cfg.Verbose, LogFile: cfg.LogFile, RunID: uuid.NewString()})

		if cfg.MetricsAddr != "" {
			ctx, cancel := context.WithCancel(context.Background())
			stopMetrics = cancel
			metricsDone = make(chan struct{})
			go func() {
				defer close(metricsDone)
				if err := metrics.Serve(ctx, cfg.MetricsAddr, log); err != nil {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stopMetrics != nil {
			stopMetrics()
			<-metricsDone
		}
		logger.Sync()
	},
}

// Execute loads .env and libpq environment overrides, then runs the CLI
func Execute() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m; 0 disables)")
	rootCmd.PersistentFlags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Listen address for /metrics and /healthz (e.g., :9090)")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host (env PGHOST)")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port (env PGPORT)")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name (env PGDATABASE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user (env PGUSER)")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password (env PGPASSWORD)")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema of the history tables")
}

// commandContext is cancelled on SIGINT or SIGTERM
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	if stopMetrics != nil {
		stopMetrics()
	}
	logger.Sync()
	os.Exit(1)
}
