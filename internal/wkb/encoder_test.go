package wkb

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestEncodePoint(t *testing.T) {
	enc := NewEncoder(4326)
	got, err := enc.Encode(orb.Point{13, 52})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	// 01 | 01000020 | E6100000 | x | y
	want := "0101000020e6100000" + "0000000000002a40" + "0000000000004a40"
	if hex.EncodeToString(got) != want {
		t.Errorf("Encode(point) = %x, want %s", got, want)
	}
}

func TestEncodeLayout(t *testing.T) {
	square := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}

	tests := []struct {
		name     string
		geom     orb.Geometry
		wantType uint32
		wantLen  int
	}{
		{"linestring", orb.LineString{{0, 0}, {1, 1}}, wkbLineString, 9 + 4 + 2*16},
		{"polygon", orb.Polygon{square}, wkbPolygon, 9 + 4 + 4 + 4*16},
		{"ring", square, wkbPolygon, 9 + 4 + 4 + 4*16},
		{"multipolygon", orb.MultiPolygon{{square}, {square}}, wkbMultiPolygon, 9 + 4 + 2*(5+4+4+4*16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncoder(3857).Encode(tt.geom)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
			if typ := binary.LittleEndian.Uint32(got[1:5]); typ != tt.wantType|wkbSRIDFlag {
				t.Errorf("type = %#x, want %#x", typ, tt.wantType|wkbSRIDFlag)
			}
			if srid := binary.LittleEndian.Uint32(got[5:9]); srid != 3857 {
				t.Errorf("srid = %d, want 3857", srid)
			}
		})
	}
}

func TestEncodeMultiPolygonMembersHaveNoSRID(t *testing.T) {
	square := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	got, err := NewEncoder(4326).Encode(orb.MultiPolygon{{square}})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	// header(9) + count(4), then the member polygon header
	if typ := binary.LittleEndian.Uint32(got[14:18]); typ != wkbPolygon {
		t.Errorf("member type = %#x, want %#x", typ, wkbPolygon)
	}
	last := math.Float64frombits(binary.LittleEndian.Uint64(got[len(got)-8:]))
	if last != 0 {
		t.Errorf("last coordinate = %v, want 0", last)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, err := NewEncoder(4326).Encode(orb.MultiPoint{{0, 0}}); err == nil {
		t.Error("Encode(multipoint) = nil error, want error")
	}
}
