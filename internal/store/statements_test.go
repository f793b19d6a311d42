package store

import (
	"strings"
	"testing"
	"time"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

var snapshot = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestInsertNode(t *testing.T) {
	s := NewStatements("history")
	n := &model.Node{
		Element: model.Element{ID: 100, Tags: model.Tags{"highway": "traffic_signals"}, ClassCode: 42, Valid: model.Open(snapshot)},
		Lat:     "52.0",
		Lon:     "13.0",
	}
	st := s.InsertNode(n)

	if !strings.HasPrefix(st.SQL, `INSERT INTO "history"."nodes"`) {
		t.Errorf("SQL = %s", st.SQL)
	}
	want := []any{int64(100), 42, `{"highway":"traffic_signals"}`, "13.0", "52.0", false, snapshot}
	if len(st.Args) != len(want) {
		t.Fatalf("got %d args, want %d", len(st.Args), len(want))
	}
	for i := range want {
		if st.Args[i] != want[i] {
			t.Errorf("arg %d = %v, want %v", i, st.Args[i], want[i])
		}
	}
}

func TestInsertRelationMembers(t *testing.T) {
	s := NewStatements("public")
	r := &model.Relation{
		Element: model.Element{ID: 9, Valid: model.Open(snapshot)},
		Members: []model.Member{
			{Type: model.KindWay, Ref: 1, Role: "outer"},
			{Type: model.KindNode, Ref: 2, Role: "label"},
			{Type: model.KindRelation, Ref: 3, Role: "subarea"},
		},
	}
	stmts := s.InsertRelationMembers(r)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements, want 3", len(stmts))
	}
	for i, col := range []string{"way_id", "node_id", "member_rel_id"} {
		if !strings.Contains(stmts[i].SQL, col) {
			t.Errorf("statement %d = %s, want column %s", i, stmts[i].SQL, col)
		}
		if stmts[i].Args[2] != i {
			t.Errorf("statement %d seq = %v, want %d", i, stmts[i].Args[2], i)
		}
	}
}

func TestCloseVersion(t *testing.T) {
	s := NewStatements("public")
	tests := []struct {
		kind  model.Kind
		table string
	}{
		{model.KindNode, `"public"."nodes"`},
		{model.KindWay, `"public"."ways"`},
		{model.KindRelation, `"public"."relations"`},
	}
	for _, tt := range tests {
		st := s.CloseVersion(tt.kind, 7, snapshot)
		if !strings.HasPrefix(st.SQL, "UPDATE "+tt.table+" SET valid_until") {
			t.Errorf("%s: SQL = %s", tt.kind, st.SQL)
		}
		if st.Args[0] != int64(7) || st.Args[1] != snapshot {
			t.Errorf("%s: args = %v", tt.kind, st.Args)
		}
	}
}

func TestMarkPart(t *testing.T) {
	s := NewStatements("public")
	if _, ok := s.MarkPart(model.KindNode, nil); ok {
		t.Error("MarkPart with no ids should produce nothing")
	}
	if _, ok := s.MarkPart(model.KindRelation, []int64{1}); ok {
		t.Error("relations carry no is_part flag")
	}
	st, ok := s.MarkPart(model.KindWay, []int64{1, 2})
	if !ok || !strings.Contains(st.SQL, `"public"."ways"`) {
		t.Errorf("MarkPart(way) = %v, %v", st.SQL, ok)
	}
}

func TestCurrentIndex(t *testing.T) {
	st := NewStatements("public").CurrentIndex(model.KindNode)
	want := `CREATE UNIQUE INDEX IF NOT EXISTS "nodes_current_idx" ON "public"."nodes" (osm_id) WHERE valid_until IS NULL`
	if st.SQL != want {
		t.Errorf("SQL = %s, want %s", st.SQL, want)
	}
}
