package geometry

import "testing"

var testCoords = CoordMap{
	1: {Lon: "13.0", Lat: "52.0"},
	2: {Lon: "13.1", Lat: "52.0"},
	3: {Lon: "13.1", Lat: "52.1"},
	4: {Lon: "13.0", Lat: "52.1"},
	5: {Lon: "13.05", Lat: "52.05"},
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name string
		refs []int64
		want string
	}{
		{
			name: "closed ring",
			refs: []int64{1, 2, 3, 4, 1},
			want: "POLYGON((13.0 52.0, 13.1 52.0, 13.1 52.1, 13.0 52.1, 13.0 52.0))",
		},
		{
			name: "open chain",
			refs: []int64{1, 2, 3},
			want: "LINESTRING(13.0 52.0, 13.1 52.0, 13.1 52.1)",
		},
		{
			name: "empty",
			refs: nil,
			want: "",
		},
		{
			name: "missing vertex skipped",
			refs: []int64{1, 99, 3},
			want: "LINESTRING(13.0 52.0, 13.1 52.1)",
		},
		{
			name: "nothing resolvable",
			refs: []int64{98, 99},
			want: "",
		},
		{
			name: "single reference has no drawable ring",
			refs: []int64{1},
			want: "",
		},
		{
			name: "two equal references form a one-vertex ring",
			refs: []int64{1, 1},
			want: "POLYGON((13.0 52.0, 13.0 52.0))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assemble(tt.refs, testCoords); got != tt.want {
				t.Errorf("Assemble(%v) = %q, want %q", tt.refs, got, tt.want)
			}
		})
	}
}

func TestRingDecidedByIDsNotCoordinates(t *testing.T) {
	coords := CoordMap{
		1: {Lon: "1", Lat: "1"},
		2: {Lon: "2", Lat: "2"},
		3: {Lon: "1", Lat: "1"}, // same position as node 1, different id
	}
	s := Build([]int64{1, 2, 3}, coords)
	if s.Kind != KindLineString {
		t.Errorf("Kind = %v, want LINESTRING", s.Kind)
	}
	if len(s.Points) != 3 {
		t.Errorf("got %d points, want 3", len(s.Points))
	}
}

func TestPolygonStoresClosingVertexOnce(t *testing.T) {
	s := Build([]int64{1, 2, 3, 1}, testCoords)
	if s.Kind != KindPolygon {
		t.Fatalf("Kind = %v, want POLYGON", s.Kind)
	}
	if len(s.Points) != 3 {
		t.Errorf("got %d points, want 3", len(s.Points))
	}
}

func TestComposeMultiPolygon(t *testing.T) {
	outer := Build([]int64{1, 2, 3, 4, 1}, testCoords)
	inner := Build([]int64{5, 2, 3, 5}, testCoords)
	second := Build([]int64{2, 3, 4, 2}, testCoords)
	line := Build([]int64{1, 2}, testCoords)

	got := ComposeMultiPolygon([]Shape{outer}, []Shape{inner})
	want := "MULTIPOLYGON(((13.0 52.0, 13.1 52.0, 13.1 52.1, 13.0 52.1, 13.0 52.0), (13.05 52.05, 13.1 52.0, 13.1 52.1, 13.05 52.05)))"
	if got != want {
		t.Errorf("single outer:\n got %s\nwant %s", got, want)
	}

	got = ComposeMultiPolygon([]Shape{outer, second, line}, []Shape{inner})
	want = "MULTIPOLYGON(((13.0 52.0, 13.1 52.0, 13.1 52.1, 13.0 52.1, 13.0 52.0)), ((13.1 52.0, 13.1 52.1, 13.0 52.1, 13.1 52.0)))"
	if got != want {
		t.Errorf("two outers:\n got %s\nwant %s", got, want)
	}

	if got := ComposeMultiPolygon([]Shape{line}, nil); got != "" {
		t.Errorf("no closed outer = %q, want empty", got)
	}
}

func TestPointWKT(t *testing.T) {
	if got := PointWKT(Coord{Lon: "13.0", Lat: "52.0"}); got != "POINT(13.0 52.0)" {
		t.Errorf("PointWKT = %q", got)
	}
	if got := PointWKT(Coord{}); got != "" {
		t.Errorf("PointWKT(empty) = %q", got)
	}
}
