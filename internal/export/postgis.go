package export

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/proj"
	"github.com/wegman-software/osmhistory-go/internal/wkb"
)

var postgisColumns = []string{
	"osm_id", "osm_type", "classcode", "class", "subclass", "name", "tags",
	"valid_since", "valid_until", "way_area", "geom",
}

// PostGISSink streams rows into one table per geometry class using COPY
type PostGISSink struct {
	pool   *pgxpool.Pool
	schema string
	prefix string
	tr     *proj.Transformer
	log    *zap.Logger

	streams map[GeometryClass]chan []any
	counts  map[GeometryClass]*atomic.Int64
	group   *errgroup.Group
	gctx    context.Context
}

// NewPostGISSink creates a sink writing <schema>.<prefix>_<class> tables
func NewPostGISSink(pool *pgxpool.Pool, schema, prefix string, tr *proj.Transformer) *PostGISSink {
	return &PostGISSink{
		pool:   pool,
		schema: schema,
		prefix: prefix,
		tr:     tr,
		log:    logger.Get(),
	}
}

// Table returns the unquoted table name of a geometry class
func (s *PostGISSink) Table(class GeometryClass) string {
	return s.prefix + "_" + string(class)
}

func (s *PostGISSink) qualified(class GeometryClass) string {
	return pgx.Identifier{s.schema, s.Table(class)}.Sanitize()
}

// Prepare recreates the output tables and starts one COPY stream per table
func (s *PostGISSink) Prepare(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	for _, class := range Classes {
		table := s.qualified(class)
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
		_, err := s.pool.Exec(ctx, fmt.Sprintf(`
			CREATE UNLOGGED TABLE %s (
				osm_id BIGINT NOT NULL,
				osm_type CHAR(1) NOT NULL,
				classcode INTEGER NOT NULL,
				class TEXT NOT NULL,
				subclass TEXT NOT NULL,
				name TEXT,
				tags JSONB,
				valid_since TIMESTAMPTZ NOT NULL,
				valid_until TIMESTAMPTZ,
				way_area DOUBLE PRECISION,
				geom GEOMETRY(Geometry, %d)
			)`, table, s.tr.SRID()))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}

	s.streams = make(map[GeometryClass]chan []any, len(Classes))
	s.counts = make(map[GeometryClass]*atomic.Int64, len(Classes))
	s.group, s.gctx = errgroup.WithContext(ctx)
	for _, class := range Classes {
		class := class
		rows := make(chan []any, 10000)
		counter := &atomic.Int64{}
		s.streams[class] = rows
		s.counts[class] = counter
		s.group.Go(func() error {
			return s.copyStream(s.gctx, class, rows, counter)
		})
	}
	return nil
}

// Write converts a row to EWKB and queues it on its table's stream
func (s *PostGISSink) Write(ctx context.Context, row Row) error {
	g, err := decode(row)
	if err != nil {
		return err
	}
	g = s.tr.Geometry(g)

	ewkb, err := wkb.NewEncoder(s.tr.SRID()).Encode(g)
	if err != nil {
		return err
	}

	var area any
	if row.Class == Polygon {
		area = planar.Area(g)
	}
	var name any
	if row.Name != "" {
		name = row.Name
	}

	values := []any{
		row.OsmID, row.TypeCode(), int32(row.ClassCode), row.ClassName, row.Subclass, name, row.Tags,
		row.ValidSince, row.ValidUntil, area, ewkb,
	}
	select {
	case s.streams[row.Class] <- values:
		return nil
	case <-s.gctx.Done():
		return fmt.Errorf("copy into %s stopped: %w", s.Table(row.Class), context.Cause(s.gctx))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the COPY streams and builds the indexes
func (s *PostGISSink) Close(ctx context.Context) error {
	if s.group == nil {
		return nil
	}
	for _, rows := range s.streams {
		close(rows)
	}
	err := s.group.Wait()
	s.group = nil
	if err != nil {
		return err
	}

	for _, class := range Classes {
		if err := s.finishTable(ctx, class); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostGISSink) copyStream(ctx context.Context, class GeometryClass, rows <-chan []any, counter *atomic.Int64) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	s.log.Info("Starting stream load", zap.String("table", s.Table(class)))
	n, err := conn.Conn().CopyFrom(ctx, pgx.Identifier{s.schema, s.Table(class)}, postgisColumns,
		&rowSource{rows: rows, counter: counter})
	if err != nil {
		// Drain so writers blocked on a full channel see the group context.
		go func() {
			for range rows {
			}
		}()
		return fmt.Errorf("COPY into %s failed: %w", s.Table(class), err)
	}
	s.log.Info("Stream load complete", zap.String("table", s.Table(class)), zap.Int64("rows", n))
	return nil
}

// finishTable makes a table logged and indexes geometry, id and validity
func (s *PostGISSink) finishTable(ctx context.Context, class GeometryClass) error {
	table := s.qualified(class)
	name := s.Table(class)

	stmts := []string{
		"ALTER TABLE " + table + " SET LOGGED",
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
			pgx.Identifier{name + "_geom_idx"}.Sanitize(), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (osm_id)",
			pgx.Identifier{name + "_osm_id_idx"}.Sanitize(), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (valid_since, valid_until)",
			pgx.Identifier{name + "_valid_idx"}.Sanitize(), table),
		"ANALYZE " + table,
	}

	s.log.Info("Creating indexes", zap.String("table", name))
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to finish %s: %w", name, err)
		}
	}
	return nil
}

// Counts returns rows streamed per geometry class
func (s *PostGISSink) Counts() map[GeometryClass]int64 {
	out := make(map[GeometryClass]int64, len(s.counts))
	for class, c := range s.counts {
		out[class] = c.Load()
	}
	return out
}

// rowSource implements pgx.CopyFromSource for rows arriving on a channel
type rowSource struct {
	rows    <-chan []any
	current []any
	counter *atomic.Int64
}

func (r *rowSource) Next() bool {
	row, ok := <-r.rows
	if !ok {
		return false
	}
	r.current = row
	if r.counter != nil {
		r.counter.Add(1)
	}
	return true
}

func (r *rowSource) Values() ([]any, error) {
	return r.current, nil
}

func (r *rowSource) Err() error {
	return nil
}
