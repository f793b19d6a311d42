package wkb

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint        = 1
	wkbLineString   = 2
	wkbPolygon      = 3
	wkbMultiPolygon = 6

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// Encoder writes little-endian EWKB with the SRID on the outermost geometry.
// The returned slice is reused by the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates an encoder for srid
func NewEncoder(srid int) *Encoder {
	return &Encoder{buf: make([]byte, 0, 256), srid: uint32(srid)}
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// Encode encodes a point, linestring, polygon or multipolygon
func (e *Encoder) Encode(g orb.Geometry) ([]byte, error) {
	e.buf = e.buf[:0]
	switch g := g.(type) {
	case orb.Point:
		e.header(wkbPoint, true)
		e.point(g)
	case orb.LineString:
		e.header(wkbLineString, true)
		e.points(g)
	case orb.Ring:
		e.header(wkbPolygon, true)
		e.polygon(orb.Polygon{g})
	case orb.Polygon:
		e.header(wkbPolygon, true)
		e.polygon(g)
	case orb.MultiPolygon:
		e.header(wkbMultiPolygon, true)
		e.appendUint32(uint32(len(g)))
		for _, p := range g {
			e.header(wkbPolygon, false)
			e.polygon(p)
		}
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
	return e.buf, nil
}

// header writes byte order and type; embedded geometries carry no SRID
func (e *Encoder) header(typ uint32, withSRID bool) {
	e.buf = append(e.buf, 0x01)
	if withSRID {
		e.appendUint32(typ | wkbSRIDFlag)
		e.appendUint32(e.srid)
		return
	}
	e.appendUint32(typ)
}

func (e *Encoder) polygon(p orb.Polygon) {
	e.appendUint32(uint32(len(p)))
	for _, ring := range p {
		e.points(ring)
	}
}

func (e *Encoder) points(pts []orb.Point) {
	e.appendUint32(uint32(len(pts)))
	for _, p := range pts {
		e.point(p)
	}
}

func (e *Encoder) point(p orb.Point) {
	e.appendFloat64(p[0])
	e.appendFloat64(p[1])
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
