package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/classify"
	"github.com/wegman-software/osmhistory-go/internal/logger"
)

// LoadClassification reads the persisted classification table
func (s *Store) LoadClassification(ctx context.Context) ([]classify.Entry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT classcode, classname, subclassname FROM %s ORDER BY classcode`, s.table(TableClassification)))
	if err != nil {
		return nil, fmt.Errorf("failed to query classification: %w", err)
	}
	defer rows.Close()

	var entries []classify.Entry
	for rows.Next() {
		var e classify.Entry
		if err := rows.Scan(&e.Code, &e.Class, &e.Subclass); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SeedClassification writes the classification rows with COPY
func (s *Store) SeedClassification(ctx context.Context, entries []classify.Entry) error {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.Code, e.Class, e.Subclass}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.schema, TableClassification},
		[]string{"classcode", "classname", "subclassname"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to seed classification: %w", err)
	}
	return nil
}

// EnsureClassification returns the persisted taxonomy, seeding it from tax
// when the table is empty. Codes never change once written.
func (s *Store) EnsureClassification(ctx context.Context, tax *classify.Taxonomy) ([]classify.Entry, error) {
	log := logger.Get()

	existing, err := s.LoadClassification(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		log.Info("Using existing classification", zap.Int("entries", len(existing)))
		return existing, nil
	}

	entries := tax.Entries()
	if err := s.SeedClassification(ctx, entries); err != nil {
		return nil, err
	}
	log.Info("Seeded classification", zap.Int("entries", len(entries)))
	return entries, nil
}
