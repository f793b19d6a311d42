package export

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/wegman-software/osmhistory-go/internal/classify"
	"github.com/wegman-software/osmhistory-go/internal/geometry"
	"github.com/wegman-software/osmhistory-go/internal/model"
)

var (
	t1 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
)

func closed(since, until time.Time) model.Interval {
	iv, _ := model.Open(since).Close(until)
	return iv
}

type fakeReader struct {
	nodes     []*model.Node
	ways      []*model.Way
	relations []*model.Relation

	mu      sync.Mutex
	lookups int
}

func (r *fakeReader) ScanNodes(_ context.Context, fn func(*model.Node) error) error {
	for _, n := range r.nodes {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeReader) ScanWays(_ context.Context, fn func(*model.Way) error) error {
	for _, w := range r.ways {
		if err := fn(w); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeReader) ScanRelations(_ context.Context, fn func(*model.Relation) error) error {
	for _, rel := range r.relations {
		if err := fn(rel); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeReader) NodeHistories(_ context.Context, ids []int64) (map[int64]geometry.CoordHistory, error) {
	r.mu.Lock()
	r.lookups++
	r.mu.Unlock()

	out := make(map[int64]geometry.CoordHistory)
	for _, id := range ids {
		for _, n := range r.nodes {
			if n.ID == id {
				out[id] = append(out[id], geometry.CoordVersion{Valid: n.Valid, Coord: geometry.Coord{Lon: n.Lon, Lat: n.Lat}})
			}
		}
	}
	return out, nil
}

func (r *fakeReader) WayNodesAt(_ context.Context, ids []int64, at time.Time) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	for _, id := range ids {
		for _, w := range r.ways {
			if w.ID == id && w.Valid.Contains(at) {
				out[id] = w.NodeIDs
			}
		}
	}
	return out, nil
}

type memSink struct {
	mu       sync.Mutex
	rows     []Row
	failOn   int64
	prepared bool
	closed   bool
}

func (s *memSink) Prepare(context.Context) error {
	s.prepared = true
	return nil
}

func (s *memSink) Write(_ context.Context, row Row) error {
	if s.failOn != 0 && row.OsmID == s.failOn {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *memSink) Close(context.Context) error {
	s.closed = true
	return nil
}

func (s *memSink) byKey() map[string]Row {
	out := make(map[string]Row, len(s.rows))
	for _, r := range s.rows {
		out[model.Ref{Kind: r.OsmType, ID: r.OsmID}.String()+"@"+r.ValidSince.Format("2006")] = r
	}
	return out
}

func testResolver(t *testing.T) *classify.Resolver {
	t.Helper()
	r, err := classify.NewResolver([]classify.Entry{
		{Code: classify.Unclassified, Class: classify.NoClass, Subclass: classify.NoSubclass},
		{Code: 0, Class: "highway", Subclass: classify.Undefined},
		{Code: 1, Class: "highway", Subclass: "traffic_signals"},
		{Code: 2, Class: "building", Subclass: classify.Undefined},
	})
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	return r
}

func node(id int64, lon, lat string, valid model.Interval, isPart bool, code int, tags model.Tags) *model.Node {
	return &model.Node{
		Element: model.Element{ID: id, Tags: tags, ClassCode: code, Valid: valid},
		Lon:     lon,
		Lat:     lat,
		IsPart:  isPart,
	}
}

func way(id int64, nodes []int64, valid model.Interval, isPart bool, code int, tags model.Tags) *model.Way {
	return &model.Way{
		Element: model.Element{ID: id, Tags: tags, ClassCode: code, Valid: valid},
		NodeIDs: nodes,
		IsPart:  isPart,
	}
}

func fixture() *fakeReader {
	un := classify.Unclassified
	return &fakeReader{
		nodes: []*model.Node{
			node(1, "0", "0", model.Open(t1), true, un, nil),
			node(2, "1", "0", closed(t1, t2), true, un, nil),
			node(2, "2", "0", model.Open(t2), true, un, nil),
			node(3, "1", "1", model.Open(t1), true, un, nil),
			node(4, "0", "1", model.Open(t1), true, un, nil),
			node(10, "13.0", "52.0", model.Open(t1), false, 1, model.Tags{"highway": "traffic_signals"}),
			node(11, "5", "5", model.Open(t1), false, un, model.Tags{"created_by": "JOSM"}),
			node(12, "6", "6", model.Open(t1), false, un, model.Tags{"shop": "bakery", "name": "Backstube"}),
		},
		ways: []*model.Way{
			way(100, []int64{1, 2, 3, 4, 1}, model.Open(t1), false, 2, model.Tags{"building": "yes"}),
			way(101, []int64{1, 2}, model.Open(t2), false, 0, model.Tags{"highway": "residential"}),
			way(102, []int64{3, 4}, model.Open(t1), true, un, nil),
			way(103, []int64{1, 999}, model.Open(t1), false, 0, model.Tags{"highway": "path"}),
		},
		relations: []*model.Relation{
			{
				Element: model.Element{ID: 200, ClassCode: 2, Valid: model.Open(t1),
					Tags: model.Tags{"type": "multipolygon", "building": "yes"}},
				Members: []model.Member{{Type: model.KindWay, Ref: 100, Role: "outer"}},
			},
			{
				Element: model.Element{ID: 201, ClassCode: un, Valid: model.Open(t1),
					Tags: model.Tags{"type": "route", "ref": "7"}},
				Members: []model.Member{{Type: model.KindWay, Ref: 101, Role: ""}},
			},
		},
	}
}

func TestExporterRun(t *testing.T) {
	sink := &memSink{}
	x, err := NewExporter(fixture(), sink, testResolver(t), Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}
	stats, err := x.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !sink.prepared || !sink.closed {
		t.Errorf("sink prepared=%v closed=%v, want both", sink.prepared, sink.closed)
	}

	counts := []struct {
		name string
		got  int64
		want int64
	}{
		{"points", stats.Points.Load(), 2},
		{"lines", stats.Lines.Load(), 1},
		{"polygons", stats.Polygons.Load(), 2},
		{"skipped", stats.Skipped.Load(), 8},
		{"degenerate", stats.Degenerate.Load(), 1},
	}
	for _, c := range counts {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	rows := sink.byKey()
	tests := []struct {
		key      string
		class    GeometryClass
		geometry string
		subclass string
	}{
		{"node/10@2020", Point, "POINT(13.0 52.0)", "traffic_signals"},
		{"node/12@2020", Point, "POINT(6 6)", classify.NoSubclass},
		{"way/100@2020", Polygon, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))", classify.Undefined},
		{"way/101@2021", Line, "LINESTRING(0 0, 2 0)", classify.Undefined},
		{"relation/200@2020", Polygon, "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 1, 0 0)))", classify.Undefined},
	}
	for _, tt := range tests {
		row, ok := rows[tt.key]
		if !ok {
			t.Errorf("row %s missing", tt.key)
			continue
		}
		if row.Class != tt.class {
			t.Errorf("%s class = %s, want %s", tt.key, row.Class, tt.class)
		}
		if row.Geometry != tt.geometry {
			t.Errorf("%s geometry = %q, want %q", tt.key, row.Geometry, tt.geometry)
		}
		if row.Subclass != tt.subclass {
			t.Errorf("%s subclass = %q, want %q", tt.key, row.Subclass, tt.subclass)
		}
	}
	if got := rows["node/12@2020"].Name; got != "Backstube" {
		t.Errorf("name = %q, want Backstube", got)
	}
}

func TestWayGeometryUsesNodesAtValidSince(t *testing.T) {
	un := classify.Unclassified
	r := &fakeReader{
		nodes: []*model.Node{
			node(1, "0", "0", model.Open(t1), true, un, nil),
			node(2, "1", "0", closed(t1, t2), true, un, nil),
			node(2, "2", "0", model.Open(t2), true, un, nil),
		},
		ways: []*model.Way{
			way(101, []int64{1, 2}, model.Open(t1), false, 0, model.Tags{"highway": "residential"}),
		},
	}

	sink := &memSink{}
	x, err := NewExporter(r, sink, testResolver(t), Options{})
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}
	if _, err := x.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	row, ok := sink.byKey()["way/101@2020"]
	if !ok {
		t.Fatalf("way row missing, got %d rows", len(sink.rows))
	}
	// Node 2 moved at t2 while the way version stayed open; the row keeps
	// the position valid when the way version started.
	if want := "LINESTRING(0 0, 1 0)"; row.Geometry != want {
		t.Errorf("geometry = %q, want %q", row.Geometry, want)
	}
	if row.ValidUntil != nil {
		t.Errorf("valid_until = %v, want open", row.ValidUntil)
	}
}

func TestExporterCurrentOnly(t *testing.T) {
	r := fixture()
	r.nodes = append(r.nodes, node(10, "13.5", "52.5", closed(t1.Add(-time.Hour), t1), false, 1, model.Tags{"highway": "traffic_signals"}))

	sink := &memSink{}
	x, err := NewExporter(r, sink, testResolver(t), Options{CurrentOnly: true})
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}
	if _, err := x.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var nodeRows []string
	for _, row := range sink.rows {
		if row.OsmType == model.KindNode {
			nodeRows = append(nodeRows, row.Geometry)
		}
		if row.ValidUntil != nil {
			t.Errorf("row %s/%d has valid_until %v, want open", row.OsmType, row.OsmID, row.ValidUntil)
		}
	}
	sort.Strings(nodeRows)
	if len(nodeRows) != 2 {
		t.Errorf("node rows = %v, want 2", nodeRows)
	}
}

func TestExporterCachesHistories(t *testing.T) {
	r := fixture()
	x, err := NewExporter(r, &memSink{}, testResolver(t), Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}

	ctx := context.Background()
	if _, err := x.histories(ctx, []int64{1, 2, 3}); err != nil {
		t.Fatalf("histories() error: %v", err)
	}
	hist, err := x.histories(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("histories() error: %v", err)
	}
	if r.lookups != 1 {
		t.Errorf("lookups = %d, want 1", r.lookups)
	}
	if len(hist[2]) != 2 {
		t.Errorf("len(hist[2]) = %d, want 2", len(hist[2]))
	}
}

func TestExporterSinkError(t *testing.T) {
	sink := &memSink{failOn: 10}
	x, err := NewExporter(fixture(), sink, testResolver(t), Options{})
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}
	if _, err := x.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil error, want sink error")
	}
	if !sink.closed {
		t.Error("sink not closed after failure")
	}
}

func TestMeaningful(t *testing.T) {
	tests := []struct {
		tags model.Tags
		want bool
	}{
		{nil, false},
		{model.Tags{"created_by": "JOSM", "source": "survey"}, false},
		{model.Tags{"source:geometry": "bing", "type": "multipolygon"}, false},
		{model.Tags{"name": "Alexanderplatz"}, true},
		{model.Tags{"note": "x", "amenity": "bench"}, true},
	}
	for _, tt := range tests {
		if got := meaningful(tt.tags); got != tt.want {
			t.Errorf("meaningful(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}
