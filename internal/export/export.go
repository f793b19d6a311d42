package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/wegman-software/osmhistory-go/internal/geometry"
	"github.com/wegman-software/osmhistory-go/internal/model"
)

// GeometryClass selects the table or file a row is written to
type GeometryClass string

const (
	Point   GeometryClass = "point"
	Line    GeometryClass = "line"
	Polygon GeometryClass = "polygon"
)

// Classes lists every geometry class in output order
var Classes = []GeometryClass{Point, Line, Polygon}

// Row is one exported entity version
type Row struct {
	Class      GeometryClass
	OsmID      int64
	OsmType    model.Kind
	ClassCode  int
	ClassName  string
	Subclass   string
	Name       string
	Tags       string // JSON object
	Geometry   string // WKT in EPSG:4326
	ValidSince time.Time
	ValidUntil *time.Time
}

// TypeCode returns the one-letter entity type (n, w, r)
func (r Row) TypeCode() string {
	return r.OsmType.String()[:1]
}

// Reader is the read side of the versioned store used by the exporter
type Reader interface {
	ScanNodes(ctx context.Context, fn func(*model.Node) error) error
	ScanWays(ctx context.Context, fn func(*model.Way) error) error
	ScanRelations(ctx context.Context, fn func(*model.Relation) error) error
	NodeHistories(ctx context.Context, ids []int64) (map[int64]geometry.CoordHistory, error)
	WayNodesAt(ctx context.Context, ids []int64, t time.Time) (map[int64][]int64, error)
}

// Sink receives exported rows. Write is called from several goroutines.
type Sink interface {
	Prepare(ctx context.Context) error
	Write(ctx context.Context, row Row) error
	Close(ctx context.Context) error
}

// decode parses a row's WKT geometry
func decode(row Row) (orb.Geometry, error) {
	g, err := wkt.Unmarshal(row.Geometry)
	if err != nil {
		return nil, fmt.Errorf("invalid geometry for %s/%d: %w", row.OsmType, row.OsmID, err)
	}
	return g, nil
}

// metadataKeys never make an entity worth rendering on their own
var metadataKeys = map[string]bool{
	"created_by":  true,
	"source":      true,
	"note":        true,
	"fixme":       true,
	"FIXME":       true,
	"comment":     true,
	"attribution": true,
	"type":        true,
}

// meaningful reports whether tags carry more than editing metadata
func meaningful(tags model.Tags) bool {
	for k := range tags {
		if metadataKeys[k] || strings.HasPrefix(k, "source:") || strings.HasPrefix(k, "note:") {
			continue
		}
		return true
	}
	return false
}
