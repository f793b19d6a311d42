package geometry

import (
	"strings"
)

// Coord is a vertex with coordinates kept as source text
type Coord struct {
	Lon string
	Lat string
}

// CoordLookup resolves node ids to coordinates
type CoordLookup interface {
	Coord(id int64) (Coord, bool)
}

// CoordMap is an in-memory CoordLookup
type CoordMap map[int64]Coord

// Coord implements CoordLookup
func (m CoordMap) Coord(id int64) (Coord, bool) {
	c, ok := m[id]
	return c, ok
}

// Kind is the geometry class produced for a vertex chain
type Kind int

const (
	KindNone Kind = iota
	KindLineString
	KindPolygon
)

// String returns the WKT type name
func (k Kind) String() string {
	switch k {
	case KindLineString:
		return "LINESTRING"
	case KindPolygon:
		return "POLYGON"
	default:
		return "NONE"
	}
}

// Shape is an assembled vertex chain. For polygons Points holds each ring
// vertex once; the closing vertex is added on output.
type Shape struct {
	Kind   Kind
	Points []Coord
}

// Build resolves a way's node references into a shape.
// The chain is a ring when its first and last reference ids are equal.
// References without coordinates are left out.
func Build(refs []int64, lookup CoordLookup) Shape {
	if len(refs) == 0 {
		return Shape{}
	}

	kind := KindLineString
	chain := refs
	if refs[0] == refs[len(refs)-1] {
		kind = KindPolygon
		chain = refs[:len(refs)-1]
	}

	points := make([]Coord, 0, len(chain))
	for _, id := range chain {
		if c, ok := lookup.Coord(id); ok {
			points = append(points, c)
		}
	}
	if len(points) == 0 {
		return Shape{}
	}
	return Shape{Kind: kind, Points: points}
}

// Assemble returns the geometry text for a vertex chain, or "" when there is
// nothing to draw.
func Assemble(refs []int64, lookup CoordLookup) string {
	return Build(refs, lookup).WKT()
}

// IsEmpty reports whether the shape has no geometry
func (s Shape) IsEmpty() bool {
	return s.Kind == KindNone || len(s.Points) == 0
}

// WKT formats the shape as well-known text
func (s Shape) WKT() string {
	if s.IsEmpty() {
		return ""
	}
	var b strings.Builder
	switch s.Kind {
	case KindPolygon:
		b.WriteString("POLYGON(")
		writeRing(&b, s.Points)
		b.WriteString(")")
	default:
		b.WriteString("LINESTRING(")
		writePoints(&b, s.Points)
		b.WriteString(")")
	}
	return b.String()
}

// PointWKT formats a single coordinate as a POINT
func PointWKT(c Coord) string {
	if c.Lon == "" || c.Lat == "" {
		return ""
	}
	return "POINT(" + c.Lon + " " + c.Lat + ")"
}

// ComposeMultiPolygon builds a MULTIPOLYGON from closed outer shapes.
// Inner rings are attached only when there is exactly one outer ring, since
// assigning holes to one of several outers needs containment tests.
// Non-polygon shapes are ignored.
func ComposeMultiPolygon(outers, inners []Shape) string {
	outers = polygonsOnly(outers)
	inners = polygonsOnly(inners)
	if len(outers) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("MULTIPOLYGON(")
	for i, outer := range outers {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		writeRing(&b, outer.Points)
		if len(outers) == 1 {
			for _, inner := range inners {
				b.WriteString(", ")
				writeRing(&b, inner.Points)
			}
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func polygonsOnly(shapes []Shape) []Shape {
	out := shapes[:0:0]
	for _, s := range shapes {
		if s.Kind == KindPolygon && len(s.Points) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func writeRing(b *strings.Builder, points []Coord) {
	b.WriteString("(")
	writePoints(b, points)
	b.WriteString(", ")
	writePoint(b, points[0])
	b.WriteString(")")
}

func writePoints(b *strings.Builder, points []Coord) {
	for i, p := range points {
		if i > 0 {
			b.WriteString(", ")
		}
		writePoint(b, p)
	}
}

func writePoint(b *strings.Builder, p Coord) {
	b.WriteString(p.Lon)
	b.WriteByte(' ')
	b.WriteString(p.Lat)
}
