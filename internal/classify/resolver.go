package classify

import (
	"fmt"
	"sort"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

type classKey struct {
	class    string
	subclass string
}

// Resolver maps tag sets to classification codes.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	priority []string
	codes    map[classKey]int
	entries  map[int]Entry
}

// NewResolver builds a resolver from classification table rows.
// Class priority follows the lowest code of each class, which is the
// taxonomy declaration order for tables seeded by this program.
func NewResolver(entries []Entry) (*Resolver, error) {
	r := &Resolver{
		codes:   make(map[classKey]int, len(entries)),
		entries: make(map[int]Entry, len(entries)),
	}

	firstCode := make(map[string]int)
	for _, e := range entries {
		if _, dup := r.entries[e.Code]; dup {
			return nil, fmt.Errorf("duplicate classification code %d", e.Code)
		}
		r.entries[e.Code] = e
		if e.Code == Unclassified {
			continue
		}
		if e.Code < 0 {
			return nil, fmt.Errorf("invalid classification code %d for %s/%s", e.Code, e.Class, e.Subclass)
		}
		key := classKey{e.Class, e.Subclass}
		if _, dup := r.codes[key]; dup {
			return nil, fmt.Errorf("duplicate classification entry %s/%s", e.Class, e.Subclass)
		}
		r.codes[key] = e.Code
		if c, ok := firstCode[e.Class]; !ok || e.Code < c {
			firstCode[e.Class] = e.Code
		}
	}
	if _, ok := r.entries[Unclassified]; !ok {
		r.entries[Unclassified] = Entry{Code: Unclassified, Class: NoClass, Subclass: NoSubclass}
	}

	for class := range firstCode {
		r.priority = append(r.priority, class)
	}
	sort.Slice(r.priority, func(i, j int) bool {
		return firstCode[r.priority[i]] < firstCode[r.priority[j]]
	})

	return r, nil
}

// Resolve returns the classification code for a tag set.
// The highest-priority class key present decides; its value is looked up as
// subclass, falling back to the class's "undefined" subclass and then to
// Unclassified.
func (r *Resolver) Resolve(tags model.Tags) int {
	if len(tags) == 0 {
		return Unclassified
	}
	for _, class := range r.priority {
		value, ok := tags[class]
		if !ok {
			continue
		}
		if code, ok := r.codes[classKey{class, value}]; ok {
			return code
		}
		if code, ok := r.codes[classKey{class, Undefined}]; ok {
			return code
		}
		return Unclassified
	}
	return Unclassified
}

// Entry returns the classification row for a code
func (r *Resolver) Entry(code int) (Entry, bool) {
	e, ok := r.entries[code]
	return e, ok
}

// Priority returns the class keys in resolution order
func (r *Resolver) Priority() []string {
	return append([]string(nil), r.priority...)
}

// Entries returns all rows ordered by code
func (r *Resolver) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
