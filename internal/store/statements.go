package store

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wegman-software/osmhistory-go/internal/model"
	"github.com/wegman-software/osmhistory-go/internal/writer"
)

// Statements builds the write statements for the versioned tables of one schema
type Statements struct {
	schema string
	names  map[string]string
}

// NewStatements creates a builder for schema
func NewStatements(schema string) *Statements {
	s := &Statements{schema: schema, names: make(map[string]string)}
	for _, t := range []string{TableClassification, TableNodes, TableWays, TableRelations, TableWayNodes, TableRelationMembers} {
		s.names[t] = pgx.Identifier{schema, t}.Sanitize()
	}
	return s
}

// Table returns the qualified, quoted name of a store table
func (s *Statements) Table(name string) string {
	return s.names[name]
}

func tableFor(kind model.Kind) string {
	switch kind {
	case model.KindNode:
		return TableNodes
	case model.KindWay:
		return TableWays
	default:
		return TableRelations
	}
}

// InsertNode opens a new node version at n.Valid.Since
func (s *Statements) InsertNode(n *model.Node) writer.Statement {
	return writer.Statement{
		SQL: fmt.Sprintf(`INSERT INTO %s (osm_id, classcode, serializedtags, longitude, latitude, is_part, valid, valid_since)
			VALUES ($1, $2, $3, $4, $5, $6, true, $7)`, s.names[TableNodes]),
		Args: []any{n.ID, n.ClassCode, n.Tags.Serialize(), n.Lon, n.Lat, n.IsPart, n.Valid.Since},
	}
}

// InsertWay opens a new way version at w.Valid.Since
func (s *Statements) InsertWay(w *model.Way) writer.Statement {
	return writer.Statement{
		SQL: fmt.Sprintf(`INSERT INTO %s (osm_id, classcode, serializedtags, node_ids, is_part, valid, valid_since)
			VALUES ($1, $2, $3, $4, $5, true, $6)`, s.names[TableWays]),
		Args: []any{w.ID, w.ClassCode, w.Tags.Serialize(), w.NodeIDs, w.IsPart, w.Valid.Since},
	}
}

// InsertWayNodes writes the membership rows of a way version, one per node
// reference in order
func (s *Statements) InsertWayNodes(w *model.Way) writer.Statement {
	return writer.Statement{
		SQL: fmt.Sprintf(`INSERT INTO %s (way_id, valid_since, seq, node_id)
			SELECT $1, $2, t.ord - 1, t.node_id
			FROM unnest($3::bigint[]) WITH ORDINALITY AS t(node_id, ord)`, s.names[TableWayNodes]),
		Args: []any{w.ID, w.Valid.Since, w.NodeIDs},
	}
}

// InsertRelation opens a new relation version at r.Valid.Since
func (s *Statements) InsertRelation(r *model.Relation) writer.Statement {
	return writer.Statement{
		SQL: fmt.Sprintf(`INSERT INTO %s (osm_id, classcode, serializedtags, member_ids, valid, valid_since)
			VALUES ($1, $2, $3, $4, true, $5)`, s.names[TableRelations]),
		Args: []any{r.ID, r.ClassCode, r.Tags.Serialize(), model.SerializeMembers(r.Members), r.Valid.Since},
	}
}

// InsertRelationMembers writes one membership row per member, with the
// member id in the column matching its type
func (s *Statements) InsertRelationMembers(r *model.Relation) []writer.Statement {
	stmts := make([]writer.Statement, 0, len(r.Members))
	for i, m := range r.Members {
		var column string
		switch m.Type {
		case model.KindNode:
			column = "node_id"
		case model.KindWay:
			column = "way_id"
		case model.KindRelation:
			column = "member_rel_id"
		default:
			continue
		}
		stmts = append(stmts, writer.Statement{
			SQL: fmt.Sprintf(`INSERT INTO %s (relation_id, valid_since, seq, role, %s) VALUES ($1, $2, $3, $4, $5)`,
				s.names[TableRelationMembers], column),
			Args: []any{r.ID, r.Valid.Since, i, m.Role, m.Ref},
		})
	}
	return stmts
}

// CloseVersion bounds the open version of an entity at until
func (s *Statements) CloseVersion(kind model.Kind, id int64, until time.Time) writer.Statement {
	return writer.Statement{
		SQL: fmt.Sprintf(`UPDATE %s SET valid_until = $2, valid = false
			WHERE osm_id = $1 AND valid_until IS NULL`, s.names[tableFor(kind)]),
		Args: []any{id, until},
	}
}

// MarkPart flags the open versions of the given nodes or ways as referenced
// by a containing entity
func (s *Statements) MarkPart(kind model.Kind, ids []int64) (writer.Statement, bool) {
	if len(ids) == 0 || kind == model.KindRelation {
		return writer.Statement{}, false
	}
	return writer.Statement{
		SQL: fmt.Sprintf(`UPDATE %s SET is_part = true
			WHERE osm_id = ANY($1) AND valid_until IS NULL AND NOT is_part`, s.names[tableFor(kind)]),
		Args: []any{ids},
	}, true
}

// CurrentIndex builds the unique index over open versions of a kind
func (s *Statements) CurrentIndex(kind model.Kind) writer.Statement {
	table := tableFor(kind)
	return writer.Statement{
		SQL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (osm_id) WHERE valid_until IS NULL`,
			pgx.Identifier{table + "_current_idx"}.Sanitize(), s.names[table]),
	}
}
