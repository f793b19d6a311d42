package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmhistory-go/internal/classify"
	"github.com/wegman-software/osmhistory-go/internal/history"
	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/model"
	"github.com/wegman-software/osmhistory-go/internal/source"
	"github.com/wegman-software/osmhistory-go/internal/store"
	"github.com/wegman-software/osmhistory-go/internal/writer"
)

// Engine is the write side of the importer
type Engine interface {
	Append(ref model.Ref, stmts ...writer.Statement)
	Flush(ctx context.Context, sync bool) error
	Stats() writer.Stats
}

// TagTransform rewrites tags before classification; keep=false drops the entity
type TagTransform interface {
	Transform(kind model.Kind, id int64, tags model.Tags) (out model.Tags, keep bool, err error)
}

// ImportOptions controls which entities the importer processes
type ImportOptions struct {
	// ResumeAfter skips every entity at or before this ref
	ResumeAfter   model.Ref
	SkipNodes     bool
	SkipWays      bool
	SkipRelations bool
}

// ImportStats summarizes one import run
type ImportStats struct {
	Merge      *history.Stats
	Engine     writer.Stats
	Resumed    int64 // skipped because they precede the checkpoint
	Filtered   int64 // skipped by kind flags
	Dropped    int64 // dropped by the tag transform
	OutOfOrder int64 // differing from a stored version that is not older
	Malformed  int64 // dropped by the source reader
	Duration   time.Duration
}

// Importer is the single producer of the import: it classifies each entity,
// merges it against the stored history and feeds the write engine.
type Importer struct {
	resolver  *classify.Resolver
	merger    *history.Merger
	engine    Engine
	sql       *store.Statements
	transform TagTransform
	opts      ImportOptions
	log       *zap.Logger

	phase   model.Kind
	indexed map[model.Kind]bool

	resumed    atomic.Int64
	filtered   atomic.Int64
	dropped    atomic.Int64
	outOfOrder atomic.Int64
}

// NewImporter wires an importer. transform may be nil.
func NewImporter(resolver *classify.Resolver, merger *history.Merger, engine Engine,
	sql *store.Statements, transform TagTransform, opts ImportOptions) *Importer {
	return &Importer{
		resolver:  resolver,
		merger:    merger,
		engine:    engine,
		sql:       sql,
		transform: transform,
		opts:      opts,
		log:       logger.Get(),
		indexed:   make(map[model.Kind]bool),
	}
}

// Run consumes elements until the channel closes, then flushes synchronously.
// Lookup failures and input errors abort the run; failed write batches do not.
func (im *Importer) Run(ctx context.Context, elements <-chan source.Element, errs <-chan error, progress *Progress) (*ImportStats, error) {
	start := time.Now()

	for e := range elements {
		if err := im.process(ctx, e); err != nil {
			return nil, err
		}
		if progress != nil {
			progress.Observe(e.Ref().Kind)
		}
	}
	for err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
	}

	if err := im.finishPhases(ctx, model.KindRelation+1); err != nil {
		return nil, err
	}
	if err := im.engine.Flush(ctx, true); err != nil {
		return nil, err
	}

	return &ImportStats{
		Merge:      im.merger.Stats(),
		Engine:     im.engine.Stats(),
		Resumed:    im.resumed.Load(),
		Filtered:   im.filtered.Load(),
		Dropped:    im.dropped.Load(),
		OutOfOrder: im.outOfOrder.Load(),
		Duration:   time.Since(start),
	}, nil
}

func (im *Importer) process(ctx context.Context, e source.Element) error {
	ref := e.Ref()
	if ref.IsZero() {
		return nil
	}
	if !im.opts.ResumeAfter.IsZero() && !ref.After(im.opts.ResumeAfter) {
		im.resumed.Add(1)
		return nil
	}
	if im.skipKind(ref.Kind) {
		im.filtered.Add(1)
		return nil
	}

	if ref.Kind > im.phase {
		if err := im.finishPhases(ctx, ref.Kind); err != nil {
			return err
		}
		im.phase = ref.Kind
	}

	elem := elementOf(e)
	if im.transform != nil {
		tags, keep, err := im.transform.Transform(ref.Kind, ref.ID, elem.Tags)
		if err != nil {
			return err
		}
		if !keep {
			im.dropped.Add(1)
			im.engine.Append(ref)
			return nil
		}
		elem.Tags = tags
	}
	elem.ClassCode = im.resolver.Resolve(elem.Tags)

	var err error
	switch {
	case e.Node != nil:
		_, err = im.merger.MergeNode(ctx, e.Node)
	case e.Way != nil:
		_, err = im.merger.MergeWay(ctx, e.Way)
	default:
		_, err = im.merger.MergeRelation(ctx, e.Relation)
	}
	if errors.Is(err, history.ErrOutOfOrder) {
		im.outOfOrder.Add(1)
		im.log.Warn("Skipping entity older than its stored version", zap.Error(err))
		im.engine.Append(ref)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to merge %s: %w", ref, err)
	}
	return nil
}

// finishPhases builds the current-version index of every kind before next.
// Rows of a kind are committed before its index is built, and the index
// exists before the next kind starts looking up and updating those rows.
func (im *Importer) finishPhases(ctx context.Context, next model.Kind) error {
	for kind := model.KindNode; kind < next && kind <= model.KindRelation; kind++ {
		if im.indexed[kind] {
			continue
		}
		im.indexed[kind] = true

		if err := im.engine.Flush(ctx, true); err != nil {
			return err
		}
		im.log.Info("Building current version index", zap.Stringer("type", kind))
		im.engine.Append(model.Ref{}, im.sql.CurrentIndex(kind))
		if err := im.engine.Flush(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) skipKind(kind model.Kind) bool {
	switch kind {
	case model.KindNode:
		return im.opts.SkipNodes
	case model.KindWay:
		return im.opts.SkipWays
	default:
		return im.opts.SkipRelations
	}
}

func elementOf(e source.Element) *model.Element {
	switch {
	case e.Node != nil:
		return &e.Node.Element
	case e.Way != nil:
		return &e.Way.Element
	default:
		return &e.Relation.Element
	}
}
