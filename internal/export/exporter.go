package export

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmhistory-go/internal/classify"
	"github.com/wegman-software/osmhistory-go/internal/geometry"
	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/metrics"
	"github.com/wegman-software/osmhistory-go/internal/model"
)

// Options controls an export run
type Options struct {
	CurrentOnly bool // Export only open versions
	CacheSize   int  // Node histories kept in the coordinate cache
	BatchSize   int  // Ways resolved per coordinate lookup
}

// Stats holds export counters
type Stats struct {
	Points     atomic.Int64
	Lines      atomic.Int64
	Polygons   atomic.Int64
	Skipped    atomic.Int64 // versions not worth rendering
	Empty      atomic.Int64 // no resolvable coordinates
	Degenerate atomic.Int64 // too few vertices for their geometry type
	Duration   time.Duration
}

// Total returns the number of written rows
func (s *Stats) Total() int64 {
	return s.Points.Load() + s.Lines.Load() + s.Polygons.Load()
}

func (s *Stats) written(class GeometryClass) {
	switch class {
	case Point:
		s.Points.Add(1)
	case Line:
		s.Lines.Add(1)
	default:
		s.Polygons.Add(1)
	}
}

// Exporter turns stored versions into geometry rows for a sink
type Exporter struct {
	reader   Reader
	sink     Sink
	resolver *classify.Resolver
	opts     Options
	cache    *lru.Cache[int64, geometry.CoordHistory]
	stats    *Stats
	log      *zap.Logger
}

// NewExporter creates an exporter
func NewExporter(reader Reader, sink Sink, resolver *classify.Resolver, opts Options) (*Exporter, error) {
	if opts.CacheSize < 1 {
		opts.CacheSize = 1 << 20
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	cache, err := lru.New[int64, geometry.CoordHistory](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinate cache: %w", err)
	}
	return &Exporter{
		reader:   reader,
		sink:     sink,
		resolver: resolver,
		opts:     opts,
		cache:    cache,
		stats:    &Stats{},
		log:      logger.Get(),
	}, nil
}

// Run scans nodes, ways and relations concurrently and writes their rows.
// The sink is closed even when a scan fails.
func (x *Exporter) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	if err := x.sink.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare sink: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return x.exportNodes(gctx) })
	g.Go(func() error { return x.exportWays(gctx) })
	g.Go(func() error { return x.exportRelations(gctx) })
	runErr := g.Wait()

	if err := x.sink.Close(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close sink: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}

	x.stats.Duration = time.Since(start)
	x.log.Info("Export complete",
		zap.Int64("points", x.stats.Points.Load()),
		zap.Int64("lines", x.stats.Lines.Load()),
		zap.Int64("polygons", x.stats.Polygons.Load()),
		zap.Int64("skipped", x.stats.Skipped.Load()),
		zap.Int64("empty", x.stats.Empty.Load()),
		zap.Int64("degenerate", x.stats.Degenerate.Load()),
		zap.Duration("duration", x.stats.Duration.Round(time.Millisecond)))
	return x.stats, nil
}

// wanted reports whether a version is exported: classified versions always
// are, others only when they stand alone and carry meaningful tags.
func (x *Exporter) wanted(el *model.Element, isPart bool) bool {
	if x.opts.CurrentOnly && !el.Valid.IsOpen() {
		return false
	}
	if el.ClassCode != classify.Unclassified {
		return true
	}
	return !isPart && meaningful(el.Tags)
}

func (x *Exporter) exportNodes(ctx context.Context) error {
	return x.reader.ScanNodes(ctx, func(n *model.Node) error {
		if !x.wanted(&n.Element, n.IsPart) {
			x.stats.Skipped.Add(1)
			return nil
		}
		geom := geometry.PointWKT(geometry.Coord{Lon: n.Lon, Lat: n.Lat})
		if geom == "" {
			x.stats.Empty.Add(1)
			return nil
		}
		return x.emit(ctx, x.row(model.KindNode, &n.Element, Point, geom))
	})
}

func (x *Exporter) exportWays(ctx context.Context) error {
	pending := make([]*model.Way, 0, x.opts.BatchSize)
	err := x.reader.ScanWays(ctx, func(w *model.Way) error {
		if !x.wanted(&w.Element, w.IsPart) {
			x.stats.Skipped.Add(1)
			return nil
		}
		pending = append(pending, w)
		if len(pending) < x.opts.BatchSize {
			return nil
		}
		err := x.flushWays(ctx, pending)
		pending = pending[:0]
		return err
	})
	if err != nil {
		return err
	}
	return x.flushWays(ctx, pending)
}

// flushWays resolves the coordinates of a batch of ways with one lookup
func (x *Exporter) flushWays(ctx context.Context, ways []*model.Way) error {
	if len(ways) == 0 {
		return nil
	}
	var ids []int64
	for _, w := range ways {
		ids = append(ids, w.NodeIDs...)
	}
	hist, err := x.histories(ctx, ids)
	if err != nil {
		return err
	}

	for _, w := range ways {
		shape := geometry.Build(w.NodeIDs, lookupAt(hist, w.Valid.Since))
		class, ok := x.classify(shape)
		if !ok {
			continue
		}
		if err := x.emit(ctx, x.row(model.KindWay, &w.Element, class, shape.WKT())); err != nil {
			return err
		}
	}
	return nil
}

func (x *Exporter) classify(shape geometry.Shape) (GeometryClass, bool) {
	switch {
	case shape.IsEmpty():
		x.stats.Empty.Add(1)
		return "", false
	case !complete(shape):
		x.stats.Degenerate.Add(1)
		return "", false
	case shape.Kind == geometry.KindPolygon:
		return Polygon, true
	default:
		return Line, true
	}
}

// complete reports whether a shape has enough vertices to be valid:
// two for a line, three distinct ring vertices for a polygon.
func complete(shape geometry.Shape) bool {
	if shape.Kind == geometry.KindPolygon {
		return len(shape.Points) >= 3
	}
	return len(shape.Points) >= 2
}

// isArea reports whether a relation describes an area
func isArea(r *model.Relation) bool {
	switch r.Tags["type"] {
	case "multipolygon", "boundary":
		return true
	}
	return false
}

func (x *Exporter) exportRelations(ctx context.Context) error {
	return x.reader.ScanRelations(ctx, func(r *model.Relation) error {
		if !isArea(r) || !x.wanted(&r.Element, false) {
			x.stats.Skipped.Add(1)
			return nil
		}
		geom, err := x.multipolygon(ctx, r)
		if err != nil {
			return err
		}
		if geom == "" {
			x.stats.Empty.Add(1)
			return nil
		}
		return x.emit(ctx, x.row(model.KindRelation, &r.Element, Polygon, geom))
	})
}

// multipolygon composes the relation's closed member ways as they were when
// the relation version became valid.
func (x *Exporter) multipolygon(ctx context.Context, r *model.Relation) (string, error) {
	at := r.Valid.Since
	wayIDs := r.MemberIDs(model.KindWay)
	if len(wayIDs) == 0 {
		return "", nil
	}
	wayNodes, err := x.reader.WayNodesAt(ctx, wayIDs, at)
	if err != nil {
		return "", err
	}

	var nodeIDs []int64
	for _, nodes := range wayNodes {
		nodeIDs = append(nodeIDs, nodes...)
	}
	hist, err := x.histories(ctx, nodeIDs)
	if err != nil {
		return "", err
	}
	lookup := lookupAt(hist, at)

	var outers, inners []geometry.Shape
	for _, m := range r.Members {
		if m.Type != model.KindWay {
			continue
		}
		nodes, ok := wayNodes[m.Ref]
		if !ok {
			continue
		}
		shape := geometry.Build(nodes, lookup)
		if shape.Kind != geometry.KindPolygon || !complete(shape) {
			continue
		}
		if m.Role == "inner" {
			inners = append(inners, shape)
		} else {
			outers = append(outers, shape)
		}
	}
	return geometry.ComposeMultiPolygon(outers, inners), nil
}

// histories returns the coordinate histories of ids, fetching cache misses
// in one query. Ids without stored versions map to an empty history.
func (x *Exporter) histories(ctx context.Context, ids []int64) (map[int64]geometry.CoordHistory, error) {
	out := make(map[int64]geometry.CoordHistory, len(ids))
	var missing []int64
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		if h, ok := x.cache.Get(id); ok {
			out[id] = h
			continue
		}
		out[id] = nil
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := x.reader.NodeHistories(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		h := fetched[id]
		out[id] = h
		x.cache.Add(id, h)
	}
	return out, nil
}

func lookupAt(hist map[int64]geometry.CoordHistory, at time.Time) geometry.HistoryLookup {
	return geometry.HistoryLookup{At: at, History: func(id int64) (geometry.CoordHistory, bool) {
		h, ok := hist[id]
		return h, ok
	}}
}

func (x *Exporter) row(kind model.Kind, el *model.Element, class GeometryClass, geom string) Row {
	entry, ok := x.resolver.Entry(el.ClassCode)
	if !ok {
		entry = classify.Entry{Code: classify.Unclassified, Class: classify.NoClass, Subclass: classify.NoSubclass}
	}
	return Row{
		Class:      class,
		OsmID:      el.ID,
		OsmType:    kind,
		ClassCode:  entry.Code,
		ClassName:  entry.Class,
		Subclass:   entry.Subclass,
		Name:       el.Tags["name"],
		Tags:       el.Tags.Serialize(),
		Geometry:   geom,
		ValidSince: el.Valid.Since,
		ValidUntil: el.Valid.Until,
	}
}

func (x *Exporter) emit(ctx context.Context, row Row) error {
	if err := x.sink.Write(ctx, row); err != nil {
		return fmt.Errorf("failed to write %s/%d: %w", row.OsmType, row.OsmID, err)
	}
	x.stats.written(row.Class)
	metrics.ExportRows.WithLabelValues(string(row.Class)).Inc()
	return nil
}
