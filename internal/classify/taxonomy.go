package classify

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel values for entities no class matches
const (
	Unclassified = -1
	NoClass      = "no_class"
	NoSubclass   = "no_subclass"
	Undefined    = "undefined"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Class is one classification dimension: an OSM key and the values it recognizes
type Class struct {
	Name       string   `yaml:"name"`
	Subclasses []string `yaml:"subclasses"`
}

// Taxonomy is the ordered list of classes. Order is significant: it assigns
// codes and decides which class wins when an entity carries several class keys.
type Taxonomy struct {
	Classes []Class `yaml:"classes"`
}

// Entry is one row of the classification table
type Entry struct {
	Code     int
	Class    string
	Subclass string
}

// LoadTaxonomy reads a taxonomy YAML file, or the built-in one when path is empty
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return ParseTaxonomy(defaultTaxonomy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy parses and validates taxonomy YAML
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy YAML: %w", err)
	}
	if len(t.Classes) == 0 {
		return nil, fmt.Errorf("taxonomy defines no classes")
	}

	seen := make(map[string]bool, len(t.Classes))
	for _, c := range t.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("taxonomy class with empty name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate taxonomy class %q", c.Name)
		}
		seen[c.Name] = true

		subs := make(map[string]bool, len(c.Subclasses))
		for _, s := range c.Subclasses {
			if s == "" {
				return nil, fmt.Errorf("class %q has an empty subclass", c.Name)
			}
			if subs[s] {
				return nil, fmt.Errorf("class %q lists subclass %q twice", c.Name, s)
			}
			subs[s] = true
		}
	}
	return &t, nil
}

// Entries returns the classification table rows: the unclassified sentinel,
// then one row per (class, subclass) pair numbered from 0 in declaration order.
func (t *Taxonomy) Entries() []Entry {
	entries := []Entry{{Code: Unclassified, Class: NoClass, Subclass: NoSubclass}}
	code := 0
	for _, c := range t.Classes {
		for _, s := range c.Subclasses {
			entries = append(entries, Entry{Code: code, Class: c.Name, Subclass: s})
			code++
		}
	}
	return entries
}
