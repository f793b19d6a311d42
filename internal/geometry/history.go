package geometry

import (
	"time"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// CoordVersion is one stored node version's position
type CoordVersion struct {
	Valid model.Interval
	Coord Coord
}

// CoordHistory is the version list of one node ordered by Valid.Since
type CoordHistory []CoordVersion

// At returns the coordinate valid at t
func (h CoordHistory) At(t time.Time) (Coord, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Valid.Contains(t) {
			return h[i].Coord, true
		}
	}
	return Coord{}, false
}

// HistoryLookup resolves node ids against their histories at a fixed time
type HistoryLookup struct {
	At      time.Time
	History func(id int64) (CoordHistory, bool)
}

// Coord implements CoordLookup
func (l HistoryLookup) Coord(id int64) (Coord, bool) {
	h, ok := l.History(id)
	if !ok {
		return Coord{}, false
	}
	return h.At(l.At)
}
