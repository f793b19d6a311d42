package source

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// Element is one ingested entity; exactly one field is set
type Element struct {
	Node     *model.Node
	Way      *model.Way
	Relation *model.Relation
}

// Ref returns the entity ref of the element
func (e Element) Ref() model.Ref {
	switch {
	case e.Node != nil:
		return e.Node.Ref()
	case e.Way != nil:
		return e.Way.Ref()
	case e.Relation != nil:
		return e.Relation.Ref()
	default:
		return model.Ref{}
	}
}

// Stats holds ingestion counters
type Stats struct {
	Nodes     atomic.Int64
	Ways      atomic.Int64
	Relations atomic.Int64
	Skipped   atomic.Int64 // malformed entities dropped
	BytesRead atomic.Int64
}

// Reader streams the entities of an input file in file order
type Reader interface {
	Read(ctx context.Context, path string) (<-chan Element, <-chan error)
	Stats() *Stats
}

// ForFile returns the reader for a file based on its extension
func ForFile(path string) Reader {
	if strings.HasSuffix(strings.ToLower(path), ".pbf") {
		return NewPBFReader()
	}
	return NewXMLReader()
}

// usable applies the malformed-entity rules: nodes need both coordinates,
// ways need node references, relations need both members and tags.
func usable(e Element) bool {
	switch {
	case e.Node != nil:
		return e.Node.Lat != "" && e.Node.Lon != ""
	case e.Way != nil:
		return len(e.Way.NodeIDs) > 0
	case e.Relation != nil:
		return len(e.Relation.Members) > 0 && len(e.Relation.Tags) > 0
	default:
		return false
	}
}

// emit sends e unless it is malformed. It returns false when ctx is done.
func emit(ctx context.Context, out chan<- Element, e Element, stats *Stats) bool {
	if !usable(e) {
		stats.Skipped.Add(1)
		return true
	}
	select {
	case out <- e:
	case <-ctx.Done():
		return false
	}
	switch {
	case e.Node != nil:
		stats.Nodes.Add(1)
	case e.Way != nil:
		stats.Ways.Add(1)
	default:
		stats.Relations.Add(1)
	}
	return true
}
