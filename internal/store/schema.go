package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/model"
	"github.com/wegman-software/osmhistory-go/internal/writer"
)

// Table names of the versioned entity store
const (
	TableClassification  = "classification"
	TableNodes           = "nodes"
	TableWays            = "ways"
	TableRelations       = "relations"
	TableWayNodes        = "waynodes"
	TableRelationMembers = "relationmembers"
)

// Store is the versioned entity store. Every entity version is a row keyed by
// (osm_id, valid_since); the current version has a NULL valid_until.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	sql    *Statements
}

// New creates a store for the tables in schema
func New(pool *pgxpool.Pool, schema string) *Store {
	return &Store{
		pool:   pool,
		schema: schema,
		sql:    NewStatements(schema),
	}
}

// Statements returns the statement builder for this store's schema
func (s *Store) Statements() *Statements {
	return s.sql
}

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// tableDDL lists tables in dependency order
var tableDDL = []struct {
	name string
	ddl  string
}{
	{
		name: TableClassification,
		ddl: `CREATE TABLE IF NOT EXISTS %[1]s (
			classcode BIGINT PRIMARY KEY,
			classname TEXT NOT NULL,
			subclassname TEXT NOT NULL
		)`,
	},
	{
		name: TableNodes,
		ddl: `CREATE TABLE IF NOT EXISTS %[1]s (
			osm_id BIGINT NOT NULL,
			classcode BIGINT NOT NULL REFERENCES %[2]s (classcode),
			serializedtags TEXT NOT NULL,
			longitude TEXT NOT NULL,
			latitude TEXT NOT NULL,
			is_part BOOLEAN NOT NULL DEFAULT false,
			valid BOOLEAN NOT NULL DEFAULT true,
			valid_since TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ,
			PRIMARY KEY (osm_id, valid_since),
			CHECK (valid_until IS NULL OR valid_since <= valid_until)
		)`,
	},
	{
		name: TableWays,
		ddl: `CREATE TABLE IF NOT EXISTS %[1]s (
			osm_id BIGINT NOT NULL,
			classcode BIGINT NOT NULL REFERENCES %[2]s (classcode),
			serializedtags TEXT NOT NULL,
			node_ids BIGINT[] NOT NULL,
			is_part BOOLEAN NOT NULL DEFAULT false,
			valid BOOLEAN NOT NULL DEFAULT true,
			valid_since TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ,
			PRIMARY KEY (osm_id, valid_since),
			CHECK (valid_until IS NULL OR valid_since <= valid_until)
		)`,
	},
	{
		name: TableRelations,
		ddl: `CREATE TABLE IF NOT EXISTS %[1]s (
			osm_id BIGINT NOT NULL,
			classcode BIGINT NOT NULL REFERENCES %[2]s (classcode),
			serializedtags TEXT NOT NULL,
			member_ids JSONB NOT NULL,
			valid BOOLEAN NOT NULL DEFAULT true,
			valid_since TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ,
			PRIMARY KEY (osm_id, valid_since),
			CHECK (valid_until IS NULL OR valid_since <= valid_until)
		)`,
	},
	{
		name: TableWayNodes,
		ddl: `CREATE TABLE IF NOT EXISTS %[1]s (
			way_id BIGINT NOT NULL,
			valid_since TIMESTAMPTZ NOT NULL,
			seq INTEGER NOT NULL,
			node_id BIGINT NOT NULL,
			PRIMARY KEY (way_id, valid_since, seq)
		)`,
	},
	{
		name: TableRelationMembers,
		ddl: `CREATE TABLE IF NOT EXISTS %[1]s (
			relation_id BIGINT NOT NULL,
			valid_since TIMESTAMPTZ NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			node_id BIGINT,
			way_id BIGINT,
			member_rel_id BIGINT,
			PRIMARY KEY (relation_id, valid_since, seq)
		)`,
	},
}

// EnsureTables creates the store tables, dropping them first when requested
func (s *Store) EnsureTables(ctx context.Context, dropExisting bool) error {
	log := logger.Get()

	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", s.schema, err)
	}

	if dropExisting {
		for i := len(tableDDL) - 1; i >= 0; i-- {
			name := tableDDL[i].name
			log.Info("Dropping table", zap.String("table", name))
			if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+s.table(name)+" CASCADE"); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", name, err)
			}
		}
	}

	classTable := s.table(TableClassification)
	for _, t := range tableDDL {
		log.Debug("Creating table", zap.String("table", t.name))
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(t.ddl, s.table(t.name), classTable)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
	}
	return nil
}

// CurrentIndex returns the statement that builds the unique index over the
// open versions of a kind's table. Run it after that kind's rows have been
// flushed synchronously.
func (s *Store) CurrentIndex(kind model.Kind) writer.Statement {
	return s.sql.CurrentIndex(kind)
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}
