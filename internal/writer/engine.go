package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/metrics"
	"github.com/wegman-software/osmhistory-go/internal/model"
)

// Statement is one parameterized SQL statement
type Statement struct {
	SQL  string
	Args []any
}

// Executor runs the statements of one sealed batch in order, as one unit.
// Implementations must not retain the slice.
type Executor interface {
	Execute(ctx context.Context, stmts []Statement) error
}

// StatementError identifies the statement that made a batch fail
type StatementError struct {
	Index int
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Options configures an Engine
type Options struct {
	// Threshold is the buffered statement count that triggers a flush
	Threshold int
	// Workers is the number of concurrent batch executors
	Workers int
}

// Stats holds engine counters
type Stats struct {
	Appended  int64 // statements appended
	Flushes   int64 // buffers sealed, plus synchronous flushes
	Committed int64 // batches committed
	Failed    int64 // batches dropped after an execution error
	Dropped   int64 // statements in dropped batches
}

// batch is a sealed buffer. Once handed to the work queue only one worker
// touches it.
type batch struct {
	seq   uint64
	stmts []Statement
	last  model.Ref
}

// Engine buffers statements from a single producer and executes sealed
// buffers on a bounded worker pool. Append and Flush must be called from one
// goroutine.
type Engine struct {
	exec      Executor
	cp        *Checkpoint
	threshold int
	workers   int
	log       *zap.Logger

	buf      *batch
	nextSeq  uint64
	work     chan *batch
	inflight sync.WaitGroup
	group    *errgroup.Group
	runCtx   context.Context
	started  bool

	progress *progressTracker

	appended  atomic.Int64
	flushes   atomic.Int64
	committed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewEngine creates an engine. cp may be nil to disable checkpointing.
func NewEngine(exec Executor, cp *Checkpoint, opts Options) *Engine {
	if opts.Threshold < 1 {
		opts.Threshold = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	log := logger.Get()
	return &Engine{
		exec:      exec,
		cp:        cp,
		threshold: opts.Threshold,
		workers:   opts.Workers,
		log:       log,
		buf:       &batch{},
		work:      make(chan *batch, opts.Workers),
		progress:  newProgressTracker(cp, log),
	}
}

// Start launches the worker pool. Workers stop when Close is called.
func (e *Engine) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true
	e.runCtx = ctx
	e.group, _ = errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		e.group.Go(func() error {
			for b := range e.work {
				e.execute(ctx, b)
				e.inflight.Done()
			}
			return nil
		})
	}
}

// Append buffers the statements produced for one entity. They always land in
// the same batch, in the given order. ref is recorded as the batch's last
// processed entity; pass the zero Ref for statements not tied to an entity.
func (e *Engine) Append(ref model.Ref, stmts ...Statement) {
	if len(stmts) == 0 && ref.IsZero() {
		return
	}
	e.buf.stmts = append(e.buf.stmts, stmts...)
	if !ref.IsZero() {
		e.buf.last = ref
	}
	e.appended.Add(int64(len(stmts)))
	metrics.StatementsAppended.Add(float64(len(stmts)))

	if len(e.buf.stmts) >= e.threshold {
		if err := e.Flush(e.runCtx, false); err != nil {
			e.log.Error("Failed to hand off batch", zap.Error(err))
		}
	}
}

// Buffered returns the number of statements in the open buffer
func (e *Engine) Buffered() int {
	return len(e.buf.stmts)
}

// Flush seals the open buffer and hands it to the worker pool. With sync set
// it then blocks until every batch handed off so far has finished, even when
// the buffer was empty.
func (e *Engine) Flush(ctx context.Context, sync bool) error {
	if !e.started {
		return fmt.Errorf("engine not started")
	}
	if ctx == nil {
		ctx = e.runCtx
	}

	sealed := len(e.buf.stmts) > 0 || !e.buf.last.IsZero()
	if sealed || sync {
		e.flushes.Add(1)
	}
	if sealed {
		b := e.buf
		b.seq = e.nextSeq
		e.nextSeq++
		e.buf = &batch{stmts: make([]Statement, 0, len(b.stmts))}

		e.inflight.Add(1)
		select {
		case e.work <- b:
		case <-ctx.Done():
			e.inflight.Done()
			e.progress.complete(b, false)
			return fmt.Errorf("batch %d not executed: %w", b.seq, ctx.Err())
		}
	}

	if !sync {
		return nil
	}
	e.inflight.Wait()
	return e.progress.err()
}

// Close flushes synchronously and stops the workers
func (e *Engine) Close(ctx context.Context) error {
	if !e.started {
		return nil
	}
	flushErr := e.Flush(ctx, true)
	close(e.work)
	e.started = false
	if err := e.group.Wait(); err != nil && flushErr == nil {
		flushErr = err
	}
	return flushErr
}

// Stats returns a snapshot of the counters
func (e *Engine) Stats() Stats {
	return Stats{
		Appended:  e.appended.Load(),
		Flushes:   e.flushes.Load(),
		Committed: e.committed.Load(),
		Failed:    e.failed.Load(),
		Dropped:   e.dropped.Load(),
	}
}

// execute runs one batch. Failures are logged and the batch is dropped.
func (e *Engine) execute(ctx context.Context, b *batch) {
	if len(b.stmts) == 0 {
		e.committed.Add(1)
		e.progress.complete(b, true)
		return
	}

	err := e.exec.Execute(ctx, b.stmts)
	if err == nil {
		e.committed.Add(1)
		metrics.Batches.WithLabelValues("committed").Inc()
		e.progress.complete(b, true)
		return
	}

	e.failed.Add(1)
	e.dropped.Add(int64(len(b.stmts)))
	metrics.Batches.WithLabelValues("failed").Inc()

	fields := []zap.Field{
		zap.Uint64("batch", b.seq),
		zap.Int("statements", len(b.stmts)),
		zap.Error(err),
	}
	if !b.last.IsZero() {
		fields = append(fields, zap.Stringer("last_entity", b.last))
	}
	var stmtErr *StatementError
	if errors.As(err, &stmtErr) {
		fields = append(fields, zap.Int("index", stmtErr.Index), zap.String("statement", stmtErr.SQL))
	}
	e.log.Error("Batch execution failed, dropping batch", fields...)
	e.progress.complete(b, false)
}

// progressTracker advances the checkpoint over the contiguous prefix of
// completed batches. Batches finish out of order across workers, so a batch's
// last ref is only recorded once every earlier batch has committed. After the
// first failed batch the checkpoint stays where it is for the rest of the run.
type progressTracker struct {
	cp  *Checkpoint
	log *zap.Logger

	mu       sync.Mutex
	next     uint64
	done     map[uint64]result
	frozen   bool
	firstErr error
}

type result struct {
	ok   bool
	last model.Ref
}

func newProgressTracker(cp *Checkpoint, log *zap.Logger) *progressTracker {
	return &progressTracker{cp: cp, log: log, done: make(map[uint64]result)}
}

func (t *progressTracker) complete(b *batch, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done[b.seq] = result{ok: ok, last: b.last}

	var advance model.Ref
	for {
		r, found := t.done[t.next]
		if !found {
			break
		}
		delete(t.done, t.next)
		t.next++

		if !r.ok {
			if !t.frozen {
				t.log.Warn("Checkpoint frozen after failed batch, a restart resumes before it",
					zap.Uint64("batch", t.next-1))
			}
			t.frozen = true
		}
		if !t.frozen && !r.last.IsZero() {
			advance = r.last
		}
	}

	if advance.IsZero() || t.cp == nil {
		return
	}
	if err := t.cp.Record(advance); err != nil {
		t.log.Error("Failed to record checkpoint", zap.Stringer("entity", advance), zap.Error(err))
		if t.firstErr == nil {
			t.firstErr = err
		}
	}
}

func (t *progressTracker) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstErr
}
