package source

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// XMLReader reads OSM XML (.osm, .osc, optionally gzip compressed).
// Coordinates are kept as the exact attribute text. Entities inside an
// osmChange <delete> block are ignored.
type XMLReader struct {
	stats Stats
}

// errMalformed marks an entity whose content cannot be used. The element has
// been consumed up to its end tag, so parsing continues with the next one.
var errMalformed = errors.New("malformed entity")

// NewXMLReader creates an XML reader
func NewXMLReader() *XMLReader {
	return &XMLReader{}
}

// Stats returns the reader's counters
func (p *XMLReader) Stats() *Stats {
	return &p.stats
}

// Read opens path and streams its entities
func (p *XMLReader) Read(ctx context.Context, path string) (<-chan Element, <-chan error) {
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

		var r io.Reader = &countingReader{r: f, n: &p.stats.BytesRead}
		if strings.HasSuffix(path, ".gz") {
			gz, err := gzip.NewReader(r)
			if err != nil {
				errChan <- fmt.Errorf("failed to create gzip reader: %w", err)
				return
			}
			defer gz.Close()
			r = gz
		}

		if err := p.parse(ctx, r, out); err != nil {
			errChan <- err
		}
	}()

	return out, errChan
}

// ReadFrom streams entities from r
func (p *XMLReader) ReadFrom(ctx context.Context, r io.Reader) (<-chan Element, <-chan error) {
	out := make(chan Element, 1000)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)
		if err := p.parse(ctx, r, out); err != nil {
			errChan <- err
		}
	}()

	return out, errChan
}

func (p *XMLReader) parse(ctx context.Context, r io.Reader, out chan<- Element) error {
	decoder := xml.NewDecoder(r)
	inDelete := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("XML parse error: %w", err)
		}

		switch se := token.(type) {
		case xml.StartElement:
			var e Element
			switch se.Name.Local {
			case "delete":
				inDelete = true
				continue
			case "node":
				e.Node, err = parseNode(decoder, se)
			case "way":
				e.Way, err = parseWay(decoder, se)
			case "relation":
				e.Relation, err = parseRelation(decoder, se)
			default:
				continue
			}
			if errors.Is(err, errMalformed) {
				if !inDelete {
					p.stats.Skipped.Add(1)
				}
				continue
			}
			if err != nil {
				return err
			}
			if inDelete {
				continue
			}
			if !emit(ctx, out, e, &p.stats) {
				return ctx.Err()
			}
		case xml.EndElement:
			if se.Name.Local == "delete" {
				inDelete = false
			}
		}
	}
}

func parseID(start xml.StartElement) (int64, bool) {
	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			id, err := strconv.ParseInt(attr.Value, 10, 64)
			return id, err == nil
		}
	}
	return 0, false
}

func parseTag(se xml.StartElement, tags model.Tags) {
	var k, v string
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "k":
			k = attr.Value
		case "v":
			v = attr.Value
		}
	}
	if k != "" {
		tags[k] = v
	}
}

// parseNode reads a node element and its tags
func parseNode(decoder *xml.Decoder, start xml.StartElement) (*model.Node, error) {
	id, ok := parseID(start)
	n := &model.Node{Element: model.Element{ID: id, Tags: model.Tags{}}}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "lat":
			n.Lat = strings.TrimSpace(attr.Value)
		case "lon":
			n.Lon = strings.TrimSpace(attr.Value)
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("XML parse error in node %d: %w", id, err)
		}
		switch se := token.(type) {
		case xml.StartElement:
			if se.Name.Local == "tag" {
				parseTag(se, n.Tags)
			}
		case xml.EndElement:
			if se.Name.Local == "node" {
				if !ok {
					return nil, errMalformed
				}
				return n, nil
			}
		}
	}
}

// parseWay reads a way element, its node references and tags. A node
// reference that is not a number makes the whole way malformed.
func parseWay(decoder *xml.Decoder, start xml.StartElement) (*model.Way, error) {
	id, ok := parseID(start)
	w := &model.Way{Element: model.Element{ID: id, Tags: model.Tags{}}}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("XML parse error in way %d: %w", id, err)
		}
		switch se := token.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "nd":
				for _, attr := range se.Attr {
					if attr.Name.Local == "ref" {
						ref, err := strconv.ParseInt(attr.Value, 10, 64)
						if err != nil {
							ok = false
							continue
						}
						w.NodeIDs = append(w.NodeIDs, ref)
					}
				}
			case "tag":
				parseTag(se, w.Tags)
			}
		case xml.EndElement:
			if se.Name.Local == "way" {
				if !ok {
					return nil, errMalformed
				}
				return w, nil
			}
		}
	}
}

// parseRelation reads a relation element, its members and tags. Members of an
// unknown type are dropped; a member ref that is not a number makes the whole
// relation malformed.
func parseRelation(decoder *xml.Decoder, start xml.StartElement) (*model.Relation, error) {
	id, ok := parseID(start)
	rel := &model.Relation{Element: model.Element{ID: id, Tags: model.Tags{}}}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("XML parse error in relation %d: %w", id, err)
		}
		switch se := token.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "member":
				m, known, valid := parseMember(se)
				if !valid {
					ok = false
				}
				if known && valid {
					rel.Members = append(rel.Members, m)
				}
			case "tag":
				parseTag(se, rel.Tags)
			}
		case xml.EndElement:
			if se.Name.Local == "relation" {
				if !ok {
					return nil, errMalformed
				}
				return rel, nil
			}
		}
	}
}

// parseMember reports whether the member type is known and whether its ref is valid
func parseMember(se xml.StartElement) (m model.Member, known, valid bool) {
	valid = true
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "type":
			kind, err := model.ParseKind(attr.Value)
			known = err == nil
			m.Type = kind
		case "ref":
			ref, err := strconv.ParseInt(attr.Value, 10, 64)
			if err != nil {
				valid = false
			}
			m.Ref = ref
		case "role":
			m.Role = attr.Value
		}
	}
	return m, known, valid
}

// countingReader counts bytes read from the underlying file
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
