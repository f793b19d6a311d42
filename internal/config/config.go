package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Export formats
const (
	FormatPostGIS = "postgis"
	FormatParquet = "parquet"
)

// Config holds the global configuration for import and export runs
type Config struct {
	// Input settings
	InputFile    string
	SnapshotTime string // RFC 3339; overrides StateFile
	StateFile    string // osmosis state.txt providing the snapshot time
	TaxonomyFile string // Empty uses the built-in taxonomy
	TagScript    string // Optional Lua tag-transform script

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Write engine settings
	Workers        int
	FlushThreshold int    // Buffered statements that trigger an async flush
	CheckpointFile string // Path of the resume checkpoint log
	Resume         bool   // Skip entities up to the last checkpoint
	Fresh          bool   // Drop and recreate the history tables

	// Feature flags
	SkipNodes     bool
	SkipWays      bool
	SkipRelations bool
	Verbose       bool

	// Export settings
	ExportFormat  string // postgis or parquet
	ExportDir     string // Parquet output directory
	ExportSchema  string // PostGIS output schema
	ExportPrefix  string // PostGIS output table prefix
	Projection    int    // Target SRID (4326 or 3857)
	CurrentOnly   bool   // Export only open versions
	CoordCacheMax int    // Node coordinate LRU size

	// Logging and metrics
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
	MetricsAddr     string        // Listen address for /metrics (empty = disabled)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		Workers:         runtime.NumCPU(),
		FlushThreshold:  1000,
		CheckpointFile:  "checkpoint.txt",
		ExportFormat:    FormatPostGIS,
		ExportDir:       "./osm_export",
		ExportSchema:    "public",
		ExportPrefix:    "osm_history",
		Projection:      4326,
		CoordCacheMax:   1 << 20,
		MetricsInterval: 30 * time.Second,
	}
}

// ApplyEnv overrides database settings from libpq-style environment variables
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PGHOST"); v != "" {
		c.DBHost = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PGPORT %q: %w", v, err)
		}
		c.DBPort = port
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("PGUSER"); v != "" {
		c.DBUser = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		c.DBPassword = v
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Snapshot returns the configured snapshot time. ok is false when neither a
// time nor a state file was given.
func (c *Config) Snapshot() (t time.Time, ok bool, err error) {
	if c.SnapshotTime != "" {
		t, err = time.Parse(time.RFC3339, c.SnapshotTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid snapshot time %q: %w", c.SnapshotTime, err)
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, nil
}

// Validate checks the settings shared by all commands
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.DBSchema == "" {
		return fmt.Errorf("schema is required")
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		return fmt.Errorf("invalid database port %d", c.DBPort)
	}
	return nil
}

// ValidateImport checks the settings used by the import command
func (c *Config) ValidateImport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.FlushThreshold < 1 {
		return fmt.Errorf("flush threshold must be at least 1")
	}
	if c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint file is required")
	}
	if c.Resume && c.Fresh {
		return fmt.Errorf("--resume and --fresh cannot be combined")
	}
	if _, _, err := c.Snapshot(); err != nil {
		return err
	}
	return nil
}

// ValidateExport checks the settings used by the export command
func (c *Config) ValidateExport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.ExportFormat {
	case FormatPostGIS:
		if c.ExportSchema == "" || c.ExportPrefix == "" {
			return fmt.Errorf("export schema and prefix are required")
		}
	case FormatParquet:
		if c.ExportDir == "" {
			return fmt.Errorf("export directory is required")
		}
	default:
		return fmt.Errorf("unknown export format %q (want %s or %s)", c.ExportFormat, FormatPostGIS, FormatParquet)
	}
	if c.Projection != 4326 && c.Projection != 3857 {
		return fmt.Errorf("projection must be 4326 or 3857, got %d", c.Projection)
	}
	if c.CoordCacheMax < 1 {
		return fmt.Errorf("coordinate cache size must be at least 1")
	}
	return nil
}
