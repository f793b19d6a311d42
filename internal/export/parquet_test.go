package export

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow/go/v14/parquet/file"

	"github.com/wegman-software/osmhistory-go/internal/model"
	"github.com/wegman-software/osmhistory-go/internal/proj"
)

func TestParquetSink(t *testing.T) {
	tr, err := proj.NewTransformer(proj.SRID3857)
	if err != nil {
		t.Fatalf("NewTransformer() error: %v", err)
	}
	sink := NewParquetSink(t.TempDir(), tr, 2)

	ctx := context.Background()
	if err := sink.Prepare(ctx); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	until := t2
	rows := []Row{
		{Class: Point, OsmID: 10, OsmType: model.KindNode, ClassName: "highway", Subclass: "traffic_signals",
			Tags: `{"highway":"traffic_signals"}`, Geometry: "POINT(13 52)", ValidSince: t1, ValidUntil: &until},
		{Class: Point, OsmID: 10, OsmType: model.KindNode, ClassName: "highway", Subclass: "traffic_signals",
			Tags: `{"highway":"traffic_signals"}`, Geometry: "POINT(13.1 52)", ValidSince: t2},
		{Class: Point, OsmID: 12, OsmType: model.KindNode, Name: "Backstube", Tags: `{"name":"Backstube"}`,
			Geometry: "POINT(6 6)", ValidSince: t1},
		{Class: Line, OsmID: 101, OsmType: model.KindWay, Tags: `{}`, Geometry: "LINESTRING(0 0, 2 0)", ValidSince: t2},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(rows))
	for _, row := range rows {
		row := row
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sink.Write(ctx, row)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	want := map[GeometryClass]int64{Point: 3, Line: 1, Polygon: 0}
	for class, n := range want {
		rdr, err := file.OpenParquetFile(sink.Path(class), false)
		if err != nil {
			t.Fatalf("OpenParquetFile(%s) error: %v", class, err)
		}
		if got := rdr.NumRows(); got != n {
			t.Errorf("%s rows = %d, want %d", class, got, n)
		}
		rdr.Close()
	}
}

func TestParquetSinkRejectsBadGeometry(t *testing.T) {
	tr, _ := proj.NewTransformer(proj.SRID3857)
	sink := NewParquetSink(t.TempDir(), tr, 10)
	ctx := context.Background()
	if err := sink.Prepare(ctx); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	defer sink.Close(ctx)

	err := sink.Write(ctx, Row{Class: Point, OsmID: 1, OsmType: model.KindNode, Geometry: "POINT(oops)", ValidSince: t1})
	if err == nil {
		t.Error("Write() = nil error, want geometry error")
	}
}
