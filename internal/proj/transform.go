package proj

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// SRID constants for supported projections
const (
	SRID4326 = 4326 // WGS84 (lon/lat)
	SRID3857 = 3857 // Web Mercator
)

// Web Mercator constants
const (
	earthRadius = 6378137.0
	maxExtent   = 20037508.342789244
	maxLat      = 85.06
)

// Transformer projects WGS84 geometries to a target SRID
type Transformer struct {
	target int
}

// NewTransformer creates a transformer from 4326 to target
func NewTransformer(target int) (*Transformer, error) {
	if target != SRID4326 && target != SRID3857 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", target)
	}
	return &Transformer{target: target}, nil
}

// SRID returns the target SRID
func (t *Transformer) SRID() int {
	return t.target
}

// NeedsTransform reports whether geometries change under this transformer
func (t *Transformer) NeedsTransform() bool {
	return t.target != SRID4326
}

// Point projects one lon/lat point
func (t *Transformer) Point(p orb.Point) orb.Point {
	if !t.NeedsTransform() {
		return p
	}
	return ToWebMercator(p)
}

// Geometry returns a projected copy of g. The input is not modified.
func (t *Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if !t.NeedsTransform() || g == nil {
		return g
	}
	out := orb.Clone(g)
	switch out := out.(type) {
	case orb.Point:
		return ToWebMercator(out)
	case orb.LineString:
		t.points(out)
	case orb.Ring:
		t.points(out)
	case orb.Polygon:
		for _, r := range out {
			t.points(r)
		}
	case orb.MultiPolygon:
		for _, p := range out {
			for _, r := range p {
				t.points(r)
			}
		}
	}
	return out
}

func (t *Transformer) points(pts []orb.Point) {
	for i := range pts {
		pts[i] = ToWebMercator(pts[i])
	}
}

// ToWebMercator converts a WGS84 point to Web Mercator meters.
// Latitude is clamped to the projection's valid range.
func ToWebMercator(p orb.Point) orb.Point {
	lon, lat := p[0], p[1]
	if lat > maxLat {
		lat = maxLat
	} else if lat < -maxLat {
		lat = -maxLat
	}

	x := lon * maxExtent / 180.0
	latRad := lat * math.Pi / 180.0
	y := math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius
	return orb.Point{x, y}
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "3857", "EPSG:4326", "EPSG:3857"
func ParseSRID(s string) (int, error) {
	switch s {
	case "4326", "EPSG:4326":
		return SRID4326, nil
	case "3857", "EPSG:3857":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}
