package classify

import (
	"testing"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

const testTaxonomy = `
classes:
  - name: highway
    subclasses: [undefined, primary, traffic_signals]
  - name: amenity
    subclasses: [undefined, cafe]
  - name: shop
    subclasses: [bakery]
`

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	tax, err := ParseTaxonomy([]byte(testTaxonomy))
	if err != nil {
		t.Fatalf("ParseTaxonomy: %v", err)
	}
	r, err := NewResolver(tax.Entries())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestEntriesSeedOrder(t *testing.T) {
	tax, err := ParseTaxonomy([]byte(testTaxonomy))
	if err != nil {
		t.Fatalf("ParseTaxonomy: %v", err)
	}
	want := []Entry{
		{-1, NoClass, NoSubclass},
		{0, "highway", "undefined"},
		{1, "highway", "primary"},
		{2, "highway", "traffic_signals"},
		{3, "amenity", "undefined"},
		{4, "amenity", "cafe"},
		{5, "shop", "bakery"},
	}
	got := tax.Entries()
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		tags model.Tags
		want int
	}{
		{"exact match", model.Tags{"highway": "traffic_signals"}, 2},
		{"unknown subclass falls back to undefined", model.Tags{"highway": "busway"}, 0},
		{"no class key", model.Tags{"name": "Somewhere", "surface": "asphalt"}, Unclassified},
		{"empty tags", model.Tags{}, Unclassified},
		{"class without undefined row", model.Tags{"shop": "books"}, Unclassified},
		{"class key plus other tags", model.Tags{"amenity": "cafe", "name": "Blue"}, 4},
		{"first declared class wins", model.Tags{"amenity": "cafe", "highway": "primary"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.tags); got != tt.want {
				t.Errorf("Resolve(%v) = %d, want %d", tt.tags, got, tt.want)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newTestResolver(t)
	tags := model.Tags{"shop": "bakery", "amenity": "cafe", "highway": "primary", "name": "x"}
	first := r.Resolve(tags)
	for i := 0; i < 100; i++ {
		if got := r.Resolve(tags); got != first {
			t.Fatalf("Resolve changed between calls: %d then %d", first, got)
		}
	}
}

func TestPriorityFromLoadedEntries(t *testing.T) {
	// Rows as read back from a database, in arbitrary order
	entries := []Entry{
		{5, "shop", "bakery"},
		{-1, NoClass, NoSubclass},
		{3, "amenity", "undefined"},
		{0, "highway", "undefined"},
	}
	r, err := NewResolver(entries)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got := r.Priority()
	want := []string{"highway", "amenity", "shop"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Priority() = %v, want %v", got, want)
			break
		}
	}
}

func TestNewResolverRejectsDuplicates(t *testing.T) {
	_, err := NewResolver([]Entry{{0, "highway", "primary"}, {0, "amenity", "cafe"}})
	if err == nil {
		t.Error("expected error for duplicate code")
	}
	_, err = NewResolver([]Entry{{0, "highway", "primary"}, {1, "highway", "primary"}})
	if err == nil {
		t.Error("expected error for duplicate class/subclass")
	}
}

func TestParseTaxonomyErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no classes", "classes: []"},
		{"duplicate class", "classes:\n  - name: a\n  - name: a\n"},
		{"duplicate subclass", "classes:\n  - name: a\n    subclasses: [x, x]\n"},
		{"empty name", "classes:\n  - subclasses: [x]\n"},
		{"bad yaml", "classes: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTaxonomy([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultTaxonomy(t *testing.T) {
	tax, err := LoadTaxonomy("")
	if err != nil {
		t.Fatalf("LoadTaxonomy: %v", err)
	}
	r, err := NewResolver(tax.Entries())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	code := r.Resolve(model.Tags{"highway": "traffic_signals"})
	e, ok := r.Entry(code)
	if !ok || e.Class != "highway" || e.Subclass != "traffic_signals" {
		t.Errorf("traffic signals resolved to %d (%+v)", code, e)
	}

	code = r.Resolve(model.Tags{"building": "yes"})
	if e, _ := r.Entry(code); e.Subclass != "yes" {
		t.Errorf("building=yes resolved to %+v", e)
	}
}
