package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wegman-software/osmhistory-go/internal/metrics"
	"github.com/wegman-software/osmhistory-go/internal/model"
	"github.com/wegman-software/osmhistory-go/internal/store"
	"github.com/wegman-software/osmhistory-go/internal/writer"
)

// Outcome is the result of comparing an ingested entity with its stored version
type Outcome int

const (
	New Outcome = iota
	Changed
	Unchanged
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case New:
		return "new"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// ErrOutOfOrder is returned when an entity differs from its stored version
// but the snapshot is not newer than that version.
var ErrOutOfOrder = errors.New("snapshot not newer than stored version")

// Store looks up the open version of an entity. Implementations return
// (nil, nil) when no version is stored.
type Store interface {
	CurrentNode(ctx context.Context, id int64) (*model.Node, error)
	CurrentWay(ctx context.Context, id int64) (*model.Way, error)
	CurrentRelation(ctx context.Context, id int64) (*model.Relation, error)
}

// Appender receives the statements produced for one entity
type Appender interface {
	Append(ref model.Ref, stmts ...writer.Statement)
}

// emptyStore is used for fresh imports, where nothing is stored yet
type emptyStore struct{}

func (emptyStore) CurrentNode(context.Context, int64) (*model.Node, error)         { return nil, nil }
func (emptyStore) CurrentWay(context.Context, int64) (*model.Way, error)           { return nil, nil }
func (emptyStore) CurrentRelation(context.Context, int64) (*model.Relation, error) { return nil, nil }

// EmptyStore returns a Store that never finds a stored version
func EmptyStore() Store {
	return emptyStore{}
}

// Merger decides, per ingested entity, whether it is new, changed or
// unchanged, and emits the statements that keep the version history.
// Entities with the same id must be merged one at a time.
type Merger struct {
	store    Store
	out      Appender
	sql      *store.Statements
	snapshot time.Time
	stats    Stats
}

// NewMerger creates a merger that stamps versions with snapshot
func NewMerger(st Store, out Appender, sql *store.Statements, snapshot time.Time) *Merger {
	return &Merger{
		store:    st,
		out:      out,
		sql:      sql,
		snapshot: snapshot,
	}
}

// Stats returns the per-type outcome counters
func (m *Merger) Stats() *Stats {
	return &m.stats
}

// MergeNode merges one node. Only coordinates decide whether a node changed.
func (m *Merger) MergeNode(ctx context.Context, n *model.Node) (Outcome, error) {
	prev, err := m.store.CurrentNode(ctx, n.ID)
	if err != nil {
		return 0, err
	}

	n.Valid = model.Open(m.snapshot)
	var stmts []writer.Statement
	outcome := New
	if prev != nil {
		if prev.SameCoordinates(n) {
			outcome = Unchanged
		} else {
			if err := m.checkOrder(prev.Valid, n.Ref()); err != nil {
				return 0, err
			}
			outcome = Changed
			n.IsPart = prev.IsPart
			stmts = append(stmts, m.sql.CloseVersion(model.KindNode, n.ID, m.snapshot))
		}
	}
	if outcome != Unchanged {
		stmts = append(stmts, m.sql.InsertNode(n))
	}

	m.out.Append(n.Ref(), stmts...)
	m.count(model.KindNode, outcome)
	return outcome, nil
}

// MergeWay merges one way. The way row, its node memberships and the is_part
// updates of its nodes are appended as one unit.
func (m *Merger) MergeWay(ctx context.Context, w *model.Way) (Outcome, error) {
	prev, err := m.store.CurrentWay(ctx, w.ID)
	if err != nil {
		return 0, err
	}

	w.Valid = model.Open(m.snapshot)
	var stmts []writer.Statement
	outcome := New
	if prev != nil {
		if prev.SameContent(w) {
			outcome = Unchanged
		} else {
			if err := m.checkOrder(prev.Valid, w.Ref()); err != nil {
				return 0, err
			}
			outcome = Changed
			w.IsPart = prev.IsPart
			stmts = append(stmts, m.sql.CloseVersion(model.KindWay, w.ID, m.snapshot))
		}
	}
	if outcome != Unchanged {
		stmts = append(stmts, m.sql.InsertWay(w), m.sql.InsertWayNodes(w))
		if st, ok := m.sql.MarkPart(model.KindNode, w.NodeIDs); ok {
			stmts = append(stmts, st)
		}
	}

	m.out.Append(w.Ref(), stmts...)
	m.count(model.KindWay, outcome)
	return outcome, nil
}

// MergeRelation merges one relation, its member rows and the is_part updates
// of member nodes and ways.
func (m *Merger) MergeRelation(ctx context.Context, r *model.Relation) (Outcome, error) {
	prev, err := m.store.CurrentRelation(ctx, r.ID)
	if err != nil {
		return 0, err
	}

	r.Valid = model.Open(m.snapshot)
	var stmts []writer.Statement
	outcome := New
	if prev != nil {
		if prev.SameContent(r) {
			outcome = Unchanged
		} else {
			if err := m.checkOrder(prev.Valid, r.Ref()); err != nil {
				return 0, err
			}
			outcome = Changed
			stmts = append(stmts, m.sql.CloseVersion(model.KindRelation, r.ID, m.snapshot))
		}
	}
	if outcome != Unchanged {
		stmts = append(stmts, m.sql.InsertRelation(r))
		stmts = append(stmts, m.sql.InsertRelationMembers(r)...)
		for _, kind := range []model.Kind{model.KindNode, model.KindWay} {
			if st, ok := m.sql.MarkPart(kind, r.MemberIDs(kind)); ok {
				stmts = append(stmts, st)
			}
		}
	}

	m.out.Append(r.Ref(), stmts...)
	m.count(model.KindRelation, outcome)
	return outcome, nil
}

// checkOrder rejects snapshots that are not newer than the stored version,
// which would produce an empty or inverted interval.
func (m *Merger) checkOrder(prev model.Interval, ref model.Ref) error {
	if !m.snapshot.After(prev.Since) {
		return fmt.Errorf("%s at %s, stored since %s: %w",
			ref, m.snapshot.Format(time.RFC3339), prev.Since.Format(time.RFC3339), ErrOutOfOrder)
	}
	return nil
}

func (m *Merger) count(kind model.Kind, outcome Outcome) {
	m.stats.add(kind, outcome)
	metrics.Entities.WithLabelValues(kind.String(), outcome.String()).Inc()
}
