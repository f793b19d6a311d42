package model

import (
	"testing"
	"time"
)

func TestRefOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b Ref
		want bool
	}{
		{"higher id same kind", Ref{KindNode, 101}, Ref{KindNode, 100}, true},
		{"same ref", Ref{KindNode, 100}, Ref{KindNode, 100}, false},
		{"lower id same kind", Ref{KindWay, 5}, Ref{KindWay, 6}, false},
		{"way after any node", Ref{KindWay, 1}, Ref{KindNode, 999999}, true},
		{"node before relation", Ref{KindNode, 5}, Ref{KindRelation, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.After(tt.b); got != tt.want {
				t.Errorf("%s.After(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef(" way/42\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != (Ref{KindWay, 42}) {
		t.Errorf("ParseRef = %v, want way/42", ref)
	}

	for _, bad := range []string{"", "42", "street/1", "node/x"} {
		if _, err := ParseRef(bad); err == nil {
			t.Errorf("ParseRef(%q) expected error", bad)
		}
	}
}

func TestIntervalClose(t *testing.T) {
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	iv := Open(since)
	if !iv.IsOpen() {
		t.Fatal("new interval should be open")
	}

	closed, err := iv.Close(since.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.IsOpen() {
		t.Error("closed interval reports open")
	}
	if closed.Contains(since.AddDate(1, 0, 0)) {
		t.Error("upper bound must be exclusive")
	}
	if !closed.Contains(since) {
		t.Error("lower bound must be inclusive")
	}

	if _, err := iv.Close(since.Add(-time.Second)); err == nil {
		t.Error("closing before since should fail")
	}
	if _, err := iv.Close(since); err != nil {
		t.Errorf("closing at since should be allowed: %v", err)
	}
}

func TestTagsSerializeIsCanonical(t *testing.T) {
	a := Tags{"name": "Main", "highway": "primary", "lanes": "2"}
	b := Tags{"lanes": "2", "highway": "primary", "name": "Main"}
	if a.Serialize() != b.Serialize() {
		t.Errorf("equal tag sets serialized differently: %s vs %s", a.Serialize(), b.Serialize())
	}
	if got := (Tags{}).Serialize(); got != "{}" {
		t.Errorf("empty tags = %q, want {}", got)
	}

	parsed, err := ParseTags(a.Serialize())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed["highway"] != "primary" || len(parsed) != 3 {
		t.Errorf("ParseTags = %v", parsed)
	}
}

func TestWayAndRelationComparison(t *testing.T) {
	w1 := &Way{Element: Element{Tags: Tags{"highway": "path"}}, NodeIDs: []int64{1, 2, 3}}
	w2 := &Way{Element: Element{Tags: Tags{"highway": "path"}}, NodeIDs: []int64{1, 2, 3}}
	if !w1.SameContent(w2) {
		t.Error("identical ways should compare equal")
	}
	w2.NodeIDs = []int64{3, 2, 1}
	if w1.SameContent(w2) {
		t.Error("node order must matter")
	}

	r1 := &Relation{Element: Element{Tags: Tags{"type": "multipolygon"}},
		Members: []Member{{KindWay, 10, "outer"}, {KindWay, 11, "inner"}}}
	r2 := &Relation{Element: Element{Tags: Tags{"type": "multipolygon"}},
		Members: []Member{{KindWay, 10, "outer"}, {KindWay, 11, "outer"}}}
	if r1.SameContent(r2) {
		t.Error("member role change must be detected")
	}
	if got := r1.MemberIDs(KindWay); len(got) != 2 || got[0] != 10 {
		t.Errorf("MemberIDs = %v", got)
	}
}

func TestMembersRoundTrip(t *testing.T) {
	in := []Member{{KindNode, 1, "label"}, {KindRelation, 7, ""}}
	s := SerializeMembers(in)
	if s != `[{"type":"node","ref":1,"role":"label"},{"type":"relation","ref":7,"role":""}]` {
		t.Errorf("SerializeMembers = %s", s)
	}
	out, err := ParseMembers(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[1].Type != KindRelation {
		t.Errorf("ParseMembers = %+v", out)
	}
}
