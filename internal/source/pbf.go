package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// PBFReader reads OSM PBF files. PBF stores fixed-precision coordinates, so
// the text form is the shortest decimal that round-trips.
type PBFReader struct {
	stats Stats
}

// NewPBFReader creates a PBF reader
func NewPBFReader() *PBFReader {
	return &PBFReader{}
}

// Stats returns the reader's counters
func (p *PBFReader) Stats() *Stats {
	return &p.stats
}

// Read opens path and streams its entities
func (p *PBFReader) Read(ctx context.Context, path string) (<-chan Element, <-chan error) {
	out := make(chan Element, 1000)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		f, err := os.Open(path)
		if err != nil {
			errChan <- fmt.Errorf("failed to open input file: %w", err)
			return
		}
		defer f.Close()

		// The scanner decodes blocks in parallel and returns objects in file order
		scanner := osmpbf.New(ctx, f, runtime.NumCPU())
		defer scanner.Close()

		for scanner.Scan() {
			e, ok := convert(scanner.Object())
			if !ok {
				continue
			}
			if !emit(ctx, out, e, &p.stats) {
				errChan <- ctx.Err()
				return
			}
			p.stats.BytesRead.Store(scanner.FullyScannedBytes())
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			errChan <- fmt.Errorf("PBF scan error: %w", err)
		}
	}()

	return out, errChan
}

func convert(obj osm.Object) (Element, bool) {
	switch o := obj.(type) {
	case *osm.Node:
		return Element{Node: &model.Node{
			Element: model.Element{ID: int64(o.ID), Tags: convertTags(o.Tags)},
			Lat:     formatCoord(o.Lat),
			Lon:     formatCoord(o.Lon),
		}}, true
	case *osm.Way:
		ids := make([]int64, len(o.Nodes))
		for i, wn := range o.Nodes {
			ids[i] = int64(wn.ID)
		}
		return Element{Way: &model.Way{
			Element: model.Element{ID: int64(o.ID), Tags: convertTags(o.Tags)},
			NodeIDs: ids,
		}}, true
	case *osm.Relation:
		members := make([]model.Member, 0, len(o.Members))
		for _, m := range o.Members {
			kind, err := model.ParseKind(string(m.Type))
			if err != nil {
				continue
			}
			members = append(members, model.Member{Type: kind, Ref: m.Ref, Role: m.Role})
		}
		return Element{Relation: &model.Relation{
			Element: model.Element{ID: int64(o.ID), Tags: convertTags(o.Tags)},
			Members: members,
		}}, true
	default:
		return Element{}, false
	}
}

func convertTags(tags osm.Tags) model.Tags {
	out := make(model.Tags, len(tags))
	for _, t := range tags {
		out[t.Key] = t.Value
	}
	return out
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
