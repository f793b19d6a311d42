package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type of an OSM entity
type Kind uint8

const (
	KindNode Kind = iota + 1
	KindWay
	KindRelation
)

// String returns the OSM name of the kind
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return "unknown"
	}
}

// ParseKind parses "node", "way" or "relation" (or the n/w/r shorthands)
func ParseKind(s string) (Kind, error) {
	switch s {
	case "node", "n":
		return KindNode, nil
	case "way", "w":
		return KindWay, nil
	case "relation", "r":
		return KindRelation, nil
	default:
		return 0, fmt.Errorf("unknown entity type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Ref identifies one entity in source order: all nodes, then ways, then relations,
// each ascending by id.
type Ref struct {
	Kind Kind
	ID   int64
}

// String formats the ref as "<type>/<id>"
func (r Ref) String() string {
	return r.Kind.String() + "/" + strconv.FormatInt(r.ID, 10)
}

// IsZero reports whether the ref is unset
func (r Ref) IsZero() bool {
	return r.Kind == 0
}

// After reports whether r comes strictly after o in source order
func (r Ref) After(o Ref) bool {
	if r.Kind != o.Kind {
		return r.Kind > o.Kind
	}
	return r.ID > o.ID
}

// ParseRef parses the "<type>/<id>" form written by Ref.String
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Ref{}, fmt.Errorf("invalid entity ref %q", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return Ref{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid entity id in %q: %w", s, err)
	}
	return Ref{Kind: k, ID: n}, nil
}

// Interval is the half-open validity range [Since, Until) of a stored version.
// A nil Until marks the current version.
type Interval struct {
	Since time.Time
	Until *time.Time
}

// Open returns an interval starting at since with no upper bound
func Open(since time.Time) Interval {
	return Interval{Since: since}
}

// IsOpen reports whether the interval has no upper bound
func (i Interval) IsOpen() bool {
	return i.Until == nil
}

// Contains reports whether t falls inside the interval
func (i Interval) Contains(t time.Time) bool {
	if t.Before(i.Since) {
		return false
	}
	return i.Until == nil || t.Before(*i.Until)
}

// Close returns a copy of the interval bounded at until
func (i Interval) Close(until time.Time) (Interval, error) {
	if until.Before(i.Since) {
		return i, fmt.Errorf("cannot close interval starting %s at earlier time %s",
			i.Since.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	i.Until = &until
	return i, nil
}

// Tags is an OSM tag set
type Tags map[string]string

// Serialize returns the canonical text form of the tag set.
// Keys are sorted so equal tag sets always serialize identically.
func (t Tags) Serialize() string {
	if len(t) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(map[string]string(t))
	return string(b)
}

// ParseTags is the inverse of Tags.Serialize
func ParseTags(s string) (Tags, error) {
	tags := Tags{}
	if s == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, fmt.Errorf("failed to parse serialized tags: %w", err)
	}
	return tags, nil
}

// Element holds what nodes, ways and relations share
type Element struct {
	ID        int64
	Tags      Tags
	ClassCode int
	Valid     Interval
}

// Node is a point with its coordinates kept as the exact source text
type Node struct {
	Element
	Lat    string
	Lon    string
	IsPart bool
}

// Ref returns the node's entity ref
func (n *Node) Ref() Ref { return Ref{Kind: KindNode, ID: n.ID} }

// SameCoordinates compares coordinates at string level
func (n *Node) SameCoordinates(o *Node) bool {
	return n.Lat == o.Lat && n.Lon == o.Lon
}

// Way is an ordered chain of node references
type Way struct {
	Element
	NodeIDs []int64
	IsPart  bool
}

// Ref returns the way's entity ref
func (w *Way) Ref() Ref { return Ref{Kind: KindWay, ID: w.ID} }

// SameContent compares serialized tags and the ordered node list
func (w *Way) SameContent(o *Way) bool {
	return w.Tags.Serialize() == o.Tags.Serialize() && slices.Equal(w.NodeIDs, o.NodeIDs)
}

// Member is one entry of a relation's member list
type Member struct {
	Type Kind   `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

// Relation is an ordered list of typed members
type Relation struct {
	Element
	Members []Member
}

// Ref returns the relation's entity ref
func (r *Relation) Ref() Ref { return Ref{Kind: KindRelation, ID: r.ID} }

// SameContent compares serialized tags and the ordered member list
func (r *Relation) SameContent(o *Relation) bool {
	return r.Tags.Serialize() == o.Tags.Serialize() && slices.Equal(r.Members, o.Members)
}

// MemberIDs returns the ids of all members of the given kind, in member order
func (r *Relation) MemberIDs(kind Kind) []int64 {
	var ids []int64
	for _, m := range r.Members {
		if m.Type == kind {
			ids = append(ids, m.Ref)
		}
	}
	return ids
}

// SerializeMembers encodes a member list for storage
func SerializeMembers(members []Member) string {
	if len(members) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(members)
	return string(b)
}

// ParseMembers is the inverse of SerializeMembers
func ParseMembers(s string) ([]Member, error) {
	var members []Member
	if s == "" {
		return members, nil
	}
	if err := json.Unmarshal([]byte(s), &members); err != nil {
		return nil, fmt.Errorf("failed to parse members: %w", err)
	}
	return members, nil
}
