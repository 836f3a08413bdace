package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dustin/go-humanize"

	"github.com/slmtnm/s4/internal/metrics"
	"github.com/slmtnm/s4/internal/store"
)

// Walk is the handle of a size calculation for one directory or bucket.
type Walk struct {
	path    string
	fresh   bool
	ctx     context.Context
	cancel  context.CancelFunc
	started chan struct{}
	done    chan struct{}

	result SizeAggregate
	err    error
}

// Path returns the walk root.
func (w *Walk) Path() string { return w.path }

// Done is closed when the walk finished or was canceled.
func (w *Walk) Done() <-chan struct{} { return w.done }

// Cancel stops the walk. Requests already issued may still complete but
// their results are discarded.
func (w *Walk) Cancel() { w.cancel() }

// Wait blocks until the walk ends and returns the aggregate it produced.
// A canceled walk returns context.Canceled.
func (w *Walk) Wait(ctx context.Context) (SizeAggregate, error) {
	select {
	case <-w.done:
		return w.result, w.err
	case <-ctx.Done():
		return SizeAggregate{}, ctx.Err()
	}
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Concurrency bounds the number of walks running at once.
	Concurrency int
	Logger      *zap.Logger
	Events      *Events
}

// Engine computes directory sizes by walking descendants through the cache.
// At most one walk runs per path; repeated requests join it.
type Engine struct {
	cache  *TreeCache
	log    *zap.Logger
	events *Events
	sem    *semaphore.Weighted

	mu    sync.Mutex
	walks map[string]*Walk
}

// NewEngine creates an aggregation engine over cache.
func NewEngine(cache *TreeCache, opts EngineOptions) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	e := &Engine{
		cache:  cache,
		log:    opts.Logger,
		events: opts.Events,
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
		walks:  make(map[string]*Walk),
	}
	cache.OnChange(e.markStale)
	return e
}

// Calculate starts a walk of path or joins the one in flight. Listings
// already in the cache and complete aggregates of descendants are reused.
func (e *Engine) Calculate(path string) (*Walk, error) {
	return e.start(path, false)
}

// Recalculate is Calculate with every listing refreshed and no cached
// descendant aggregate trusted. A walk already in flight is joined.
func (e *Engine) Recalculate(path string) (*Walk, error) {
	return e.start(path, true)
}

// CalculateAll starts a walk for every container in paths that lacks a
// known aggregate. Walks queue on the concurrency limit and are
// individually cancelable.
func (e *Engine) CalculateAll(paths []string) []*Walk {
	var walks []*Walk
	for _, p := range paths {
		if p == "" || store.TypeOf(p) == store.TypeObject {
			continue
		}
		if agg, ok := e.cache.aggregate(p); ok && agg.State == SizeKnown {
			continue
		}
		w, err := e.Calculate(p)
		if err != nil {
			continue
		}
		walks = append(walks, w)
	}
	return walks
}

func (e *Engine) start(path string, fresh bool) (*Walk, error) {
	if path == "" || store.TypeOf(path) == store.TypeObject {
		return nil, fmt.Errorf("calculate %q: %w", path, ErrNotDirectory)
	}
	if _, ok := e.cache.Lookup(path); !ok {
		// deep link: materialize the node so the aggregate has a home
		e.cache.mu.Lock()
		e.cache.ensureEntryLocked(path)
		e.cache.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.walks[path]; ok && w.ctx.Err() == nil {
		return w, nil
	}
	// a canceled walk still unwinding is replaced, never joined
	ctx, cancel := context.WithCancel(e.cache.ctx)
	w := &Walk{
		path:    path,
		fresh:   fresh,
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.walks[path] = w
	e.cache.updateAggregate(path, func(SizeAggregate) SizeAggregate {
		return SizeAggregate{State: SizeComputing}
	})
	go e.run(w)
	return w, nil
}

// Cancel cancels the walk rooted at path, if any.
func (e *Engine) Cancel(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.walks[path]
	if ok {
		w.cancel()
	}
	return ok
}

// CancelOverlapping cancels walks rooted at, above, or below path.
func (e *Engine) CancelOverlapping(path string) int {
	return e.cancelWhere(func(p string) bool {
		return store.Within(p, path) || store.Within(path, p)
	})
}

// CancelExcept cancels every walk whose root keep rejects.
func (e *Engine) CancelExcept(keep func(path string) bool) int {
	return e.cancelWhere(func(p string) bool { return !keep(p) })
}

func (e *Engine) cancelWhere(match func(string) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for p, w := range e.walks {
		if match(p) && w.ctx.Err() == nil {
			w.cancel()
			n++
		}
	}
	return n
}

// Active returns the roots of walks in flight.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.walks))
	for p := range e.walks {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Busy reports whether any walk is in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.walks) > 0
}

// Invalidate marks the aggregates of paths as needing recalculation. Known
// values are kept but lose Complete; they are never adjusted arithmetically.
// Walks rooted at these paths are canceled.
func (e *Engine) Invalidate(paths ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range paths {
		if w, ok := e.walks[p]; ok {
			w.cancel()
		}
		e.cache.updateAggregate(p, func(a SizeAggregate) SizeAggregate {
			switch a.State {
			case SizeKnown:
				a.Complete = false
				a.Failed = false
			case SizeComputing:
				a = SizeAggregate{}
			}
			return a
		})
	}
}

// markStale clears Complete on the known aggregates of paths and their
// ancestors after their listings changed. Walks are left running; a walk
// lists what it counts, so its own result is unaffected.
func (e *Engine) markStale(paths []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range paths {
		for ; p != ""; p = store.ParentPath(p) {
			e.cache.updateAggregate(p, func(a SizeAggregate) SizeAggregate {
				if a.State == SizeKnown {
					a.Complete = false
				}
				return a
			})
		}
	}
}

// tally accumulates one walk.
type tally struct {
	bytes  uint64
	count  uint64
	errors int
}

func (t *tally) add(o tally) {
	t.bytes += o.bytes
	t.count += o.count
	t.errors += o.errors
}

func (e *Engine) run(w *Walk) {
	defer close(w.done)
	log := e.log.With(zap.String("path", w.path), zap.Bool("fresh", w.fresh))

	if err := e.sem.Acquire(w.ctx, 1); err != nil {
		e.finish(w, tally{}, err)
		return
	}
	defer e.sem.Release(1)
	close(w.started)
	metrics.AddActiveWalks(1)
	defer metrics.AddActiveWalks(-1)

	began := time.Now()
	log.Debug("walk started")
	t, err := e.walk(w, w.path, true)
	e.finish(w, t, err)
	log.Debug("walk finished",
		zap.Uint64("bytes", t.bytes),
		zap.Uint64("objects", t.count),
		zap.Int("errors", t.errors),
		zap.Duration("took", time.Since(began)),
		zap.Error(err))
}

// walk sums the subtree at path depth first. Only a canceled context is
// returned as an error; store failures are counted in the tally and abort
// the failing subtree only.
func (e *Engine) walk(w *Walk, path string, root bool) (tally, error) {
	if err := w.ctx.Err(); err != nil {
		return tally{}, err
	}
	if !root && !w.fresh {
		if t, ok := e.reuse(w, path); ok {
			return t, nil
		}
	}

	var err error
	if w.fresh {
		err = e.cache.Refresh(w.ctx, path)
	} else {
		err = e.cache.Ensure(w.ctx, path)
	}
	switch {
	case err == nil:
	case w.ctx.Err() != nil:
		return tally{}, w.ctx.Err()
	case store.IsNotFound(err):
		return tally{}, nil
	default:
		return tally{errors: 1}, nil
	}

	nodes, _, _ := e.cache.children(path)
	var t tally
	var dirs []string
	for _, n := range nodes {
		switch n.Type {
		case store.TypeObject:
			t.bytes += n.Bytes()
			t.count++
		case store.TypeDirectory, store.TypeBucket:
			dirs = append(dirs, n.Path)
		}
	}
	if root {
		e.progress(w, t)
	}

	for _, d := range dirs {
		sub, err := e.walk(w, d, false)
		if err != nil {
			return t, err
		}
		t.add(sub)
		if !e.owned(w, d) {
			e.cache.updateAggregate(d, func(SizeAggregate) SizeAggregate {
				return known(sub)
			})
		}
		if root {
			e.progress(w, t)
		}
	}
	return t, nil
}

// reuse returns the tally of a descendant from its complete aggregate or
// from another walk of it that already holds a slot.
func (e *Engine) reuse(w *Walk, path string) (tally, bool) {
	if agg, ok := e.cache.aggregate(path); ok && agg.Authoritative() {
		return tally{bytes: agg.TotalBytes, count: agg.ObjectCount}, true
	}

	e.mu.Lock()
	other, ok := e.walks[path]
	e.mu.Unlock()
	if !ok || other == w {
		return tally{}, false
	}
	select {
	case <-other.started:
	default:
		// queued behind the limit; waiting could deadlock
		return tally{}, false
	}
	agg, err := other.Wait(w.ctx)
	if err != nil || agg.State != SizeKnown {
		return tally{}, false
	}
	t := tally{bytes: agg.TotalBytes, count: agg.ObjectCount}
	if !agg.Complete {
		t.errors = 1
	}
	return t, true
}

// owned reports whether another walk is rooted at path.
func (e *Engine) owned(w *Walk, path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	other, ok := e.walks[path]
	return ok && other != w
}

func (e *Engine) progress(w *Walk, t tally) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	e.cache.updateAggregate(w.path, func(SizeAggregate) SizeAggregate {
		return SizeAggregate{State: SizeComputing, TotalBytes: t.bytes, ObjectCount: t.count}
	})
}

func known(t tally) SizeAggregate {
	return SizeAggregate{
		State:       SizeKnown,
		TotalBytes:  t.bytes,
		ObjectCount: t.count,
		ComputedAt:  time.Now(),
		Complete:    t.errors == 0,
		Failed:      t.errors > 0,
	}
}

// finish publishes the result under the engine lock so that a concurrent
// Cancel either prevents the Known value or finds the walk gone. A walk
// replaced by a newer one for the same path leaves the aggregate alone.
func (e *Engine) finish(w *Walk, t tally, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.walks[w.path] == w
	if err == nil && w.ctx.Err() != nil {
		err = w.ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = context.Canceled
		}
		w.err = err
		w.result = SizeAggregate{}
		if current {
			e.cache.updateAggregate(w.path, func(SizeAggregate) SizeAggregate {
				return SizeAggregate{}
			})
		}
		metrics.RecordWalk("canceled")
	} else {
		w.result = known(t)
		e.cache.updateAggregate(w.path, func(SizeAggregate) SizeAggregate {
			return w.result
		})
		if t.errors > 0 {
			metrics.RecordWalk("partial")
			e.events.emit(LogMessage{Text: fmt.Sprintf("size of %s is incomplete: %d subtree(s) failed, at least %s",
				w.path, t.errors, humanize.IBytes(t.bytes))})
		} else {
			metrics.RecordWalk("complete")
		}
	}
	w.cancel()
	if current {
		delete(e.walks, w.path)
	}
}
