package geometry

import (
	"testing"
	"time"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

func TestCoordHistoryAt(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	first, _ := model.Open(t1).Close(t2)
	h := CoordHistory{
		{Valid: first, Coord: Coord{Lon: "13.0", Lat: "52.0"}},
		{Valid: model.Open(t2), Coord: Coord{Lon: "13.1", Lat: "52.1"}},
	}

	tests := []struct {
		name   string
		at     time.Time
		want   Coord
		wantOK bool
	}{
		{"before first version", t1.Add(-time.Hour), Coord{}, false},
		{"first version", t1, Coord{Lon: "13.0", Lat: "52.0"}, true},
		{"until is exclusive", t2, Coord{Lon: "13.1", Lat: "52.1"}, true},
		{"current version", t2.Add(24 * time.Hour), Coord{Lon: "13.1", Lat: "52.1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.At(tt.at)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("At(%v) = %v, %v, want %v, %v", tt.at, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestHistoryLookupAssemblesAtTime(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	hist := map[int64]CoordHistory{
		1: {{Valid: model.Open(t1), Coord: Coord{Lon: "0", Lat: "0"}}},
		2: {{Valid: model.Open(t1), Coord: Coord{Lon: "1", Lat: "1"}}},
	}
	lookup := HistoryLookup{At: t1, History: func(id int64) (CoordHistory, bool) {
		h, ok := hist[id]
		return h, ok
	}}

	if got, want := Assemble([]int64{1, 2, 3}, lookup), "LINESTRING(0 0, 1 1)"; got != want {
		t.Errorf("Assemble() = %q, want %q", got, want)
	}
}
