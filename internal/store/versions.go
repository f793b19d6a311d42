package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wegman-software/osmhistory-go/internal/geometry"
	"github.com/wegman-software/osmhistory-go/internal/model"
)

// CurrentNode returns the open version of a node, or nil if none is stored
func (s *Store) CurrentNode(ctx context.Context, id int64) (*model.Node, error) {
	n := &model.Node{}
	var tags string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT osm_id, classcode, serializedtags, longitude, latitude, is_part, valid_since
		 FROM %s WHERE osm_id = $1 AND valid_until IS NULL`, s.table(TableNodes)), id,
	).Scan(&n.ID, &n.ClassCode, &tags, &n.Lon, &n.Lat, &n.IsPart, &n.Valid.Since)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %d: %w", id, err)
	}
	if n.Tags, err = model.ParseTags(tags); err != nil {
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	return n, nil
}

// CurrentWay returns the open version of a way, or nil if none is stored
func (s *Store) CurrentWay(ctx context.Context, id int64) (*model.Way, error) {
	w := &model.Way{}
	var tags string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT osm_id, classcode, serializedtags, node_ids, is_part, valid_since
		 FROM %s WHERE osm_id = $1 AND valid_until IS NULL`, s.table(TableWays)), id,
	).Scan(&w.ID, &w.ClassCode, &tags, &w.NodeIDs, &w.IsPart, &w.Valid.Since)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get way %d: %w", id, err)
	}
	if w.Tags, err = model.ParseTags(tags); err != nil {
		return nil, fmt.Errorf("way %d: %w", id, err)
	}
	return w, nil
}

// CurrentRelation returns the open version of a relation, or nil if none is stored
func (s *Store) CurrentRelation(ctx context.Context, id int64) (*model.Relation, error) {
	r := &model.Relation{}
	var tags, members string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT osm_id, classcode, serializedtags, member_ids::text, valid_since
		 FROM %s WHERE osm_id = $1 AND valid_until IS NULL`, s.table(TableRelations)), id,
	).Scan(&r.ID, &r.ClassCode, &tags, &members, &r.Valid.Since)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relation %d: %w", id, err)
	}
	if r.Tags, err = model.ParseTags(tags); err != nil {
		return nil, fmt.Errorf("relation %d: %w", id, err)
	}
	if r.Members, err = model.ParseMembers(members); err != nil {
		return nil, fmt.Errorf("relation %d: %w", id, err)
	}
	return r, nil
}

// ScanNodes calls fn for every stored node version, ordered by id and validity
func (s *Store) ScanNodes(ctx context.Context, fn func(*model.Node) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT osm_id, classcode, serializedtags, longitude, latitude, is_part, valid_since, valid_until
		 FROM %s ORDER BY osm_id, valid_since`, s.table(TableNodes)))
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n := &model.Node{}
		var tags string
		if err := rows.Scan(&n.ID, &n.ClassCode, &tags, &n.Lon, &n.Lat, &n.IsPart, &n.Valid.Since, &n.Valid.Until); err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}
		if n.Tags, err = model.ParseTags(tags); err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ScanWays calls fn for every stored way version, ordered by id and validity
func (s *Store) ScanWays(ctx context.Context, fn func(*model.Way) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT osm_id, classcode, serializedtags, node_ids, is_part, valid_since, valid_until
		 FROM %s ORDER BY osm_id, valid_since`, s.table(TableWays)))
	if err != nil {
		return fmt.Errorf("failed to query ways: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		w := &model.Way{}
		var tags string
		if err := rows.Scan(&w.ID, &w.ClassCode, &tags, &w.NodeIDs, &w.IsPart, &w.Valid.Since, &w.Valid.Until); err != nil {
			return fmt.Errorf("failed to scan way: %w", err)
		}
		if w.Tags, err = model.ParseTags(tags); err != nil {
			return fmt.Errorf("way %d: %w", w.ID, err)
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ScanRelations calls fn for every stored relation version, ordered by id and validity
func (s *Store) ScanRelations(ctx context.Context, fn func(*model.Relation) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT osm_id, classcode, serializedtags, member_ids::text, valid_since, valid_until
		 FROM %s ORDER BY osm_id, valid_since`, s.table(TableRelations)))
	if err != nil {
		return fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r := &model.Relation{}
		var tags, members string
		if err := rows.Scan(&r.ID, &r.ClassCode, &tags, &members, &r.Valid.Since, &r.Valid.Until); err != nil {
			return fmt.Errorf("failed to scan relation: %w", err)
		}
		if r.Tags, err = model.ParseTags(tags); err != nil {
			return fmt.Errorf("relation %d: %w", r.ID, err)
		}
		if r.Members, err = model.ParseMembers(members); err != nil {
			return fmt.Errorf("relation %d: %w", r.ID, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// NodeHistories returns every stored version position of the given nodes
func (s *Store) NodeHistories(ctx context.Context, ids []int64) (map[int64]geometry.CoordHistory, error) {
	out := make(map[int64]geometry.CoordHistory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT osm_id, longitude, latitude, valid_since, valid_until
		 FROM %s
		 WHERE osm_id = ANY($1)
		 ORDER BY osm_id, valid_since`, s.table(TableNodes)), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query node histories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var v geometry.CoordVersion
		if err := rows.Scan(&id, &v.Coord.Lon, &v.Coord.Lat, &v.Valid.Since, &v.Valid.Until); err != nil {
			return nil, fmt.Errorf("failed to scan node history: %w", err)
		}
		out[id] = append(out[id], v)
	}
	return out, rows.Err()
}

// WayNodesAt returns the node lists of the way versions valid at t
func (s *Store) WayNodesAt(ctx context.Context, ids []int64, t time.Time) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT DISTINCT ON (osm_id) osm_id, node_ids
		 FROM %s
		 WHERE osm_id = ANY($1) AND valid_since <= $2 AND (valid_until IS NULL OR valid_until > $2)
		 ORDER BY osm_id, valid_since DESC`, s.table(TableWays)), ids, t)
	if err != nil {
		return nil, fmt.Errorf("failed to query way nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var nodes []int64
		if err := rows.Scan(&id, &nodes); err != nil {
			return nil, fmt.Errorf("failed to scan way nodes: %w", err)
		}
		out[id] = nodes
	}
	return out, rows.Err()
}

// VersionCounts returns the number of stored and open versions per table
func (s *Store) VersionCounts(ctx context.Context) (map[string][2]int64, error) {
	out := make(map[string][2]int64, 3)
	for _, t := range []string{TableNodes, TableWays, TableRelations} {
		var total, open int64
		err := s.pool.QueryRow(ctx, fmt.Sprintf(
			`SELECT count(*), count(*) FILTER (WHERE valid_until IS NULL) FROM %s`, s.table(t)),
		).Scan(&total, &open)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t, err)
		}
		out[t] = [2]int64{total, open}
	}
	return out, nil
}
