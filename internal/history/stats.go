package history

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// Counts holds outcome counters for one entity type
type Counts struct {
	New       atomic.Int64
	Changed   atomic.Int64
	Unchanged atomic.Int64
}

// Total returns the number of merged entities
func (c *Counts) Total() int64 {
	return c.New.Load() + c.Changed.Load() + c.Unchanged.Load()
}

// Stats holds outcome counters per entity type
type Stats struct {
	Nodes     Counts
	Ways      Counts
	Relations Counts
}

// For returns the counters of a kind
func (s *Stats) For(kind model.Kind) *Counts {
	switch kind {
	case model.KindNode:
		return &s.Nodes
	case model.KindWay:
		return &s.Ways
	default:
		return &s.Relations
	}
}

func (s *Stats) add(kind model.Kind, outcome Outcome) {
	c := s.For(kind)
	switch outcome {
	case New:
		c.New.Add(1)
	case Changed:
		c.Changed.Add(1)
	default:
		c.Unchanged.Add(1)
	}
}

// Table renders the counters as a fixed-width text table
func (s *Stats) Table() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %12s %12s %12s\n", "", "new", "changed", "unchanged")
	for _, kind := range []model.Kind{model.KindNode, model.KindWay, model.KindRelation} {
		c := s.For(kind)
		fmt.Fprintf(&b, "%-10s %12d %12d %12d\n", kind.String()+"s", c.New.Load(), c.Changed.Load(), c.Unchanged.Load())
	}
	return b.String()
}
