package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/slmtnm/s4/internal/metrics"
	"github.com/slmtnm/s4/internal/retry"
	"github.com/slmtnm/s4/internal/store"
)

// errSuperseded is returned by a fetch whose results were discarded because
// the entry was dropped or a newer generation started.
var errSuperseded = errors.New("listing superseded")

type entry struct {
	node     Node
	parent   *entry
	children map[string]*entry
	listed   bool
	// gen identifies the listing generation currently allowed to merge.
	gen uint64
	// version changes whenever the child set or a child's sortable data
	// changes. Values come from the cache-wide sequence so a re-created
	// entry never repeats one.
	version uint64
	lastErr error
}

// CacheOptions configures a TreeCache.
type CacheOptions struct {
	// Workers bounds concurrent store calls issued by the cache.
	Workers int
	Retry   retry.Config
	Logger  *zap.Logger
	Events  *Events
}

// TreeCache owns the node graph built from listing pages.
type TreeCache struct {
	client store.Client
	log    *zap.Logger
	events *Events
	retry  retry.Config
	sem    *semaphore.Weighted
	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	root     *entry
	index    map[string]*entry
	seq      uint64
	onPrune  []func(paths []string)
	onChange []func(paths []string)
}

// NewTreeCache creates an empty cache over client.
func NewTreeCache(client store.Client, opts CacheOptions) *TreeCache {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	opts.Retry.Retryable = store.IsTransient

	ctx, cancel := context.WithCancel(context.Background())
	root := &entry{children: make(map[string]*entry)}
	c := &TreeCache{
		client: client,
		log:    opts.Logger,
		events: opts.Events,
		retry:  opts.Retry,
		sem:    semaphore.NewWeighted(int64(opts.Workers)),
		ctx:    ctx,
		cancel: cancel,
		root:   root,
		index:  map[string]*entry{"": root},
	}
	c.retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.log.Debug("retrying store call",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return c
}

// Close stops background fetches.
func (c *TreeCache) Close() {
	c.cancel()
}

// OnPrune registers fn to be called with the paths dropped from the cache.
// It is called without the cache lock held.
func (c *TreeCache) OnPrune(fn func(paths []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPrune = append(c.onPrune, fn)
}

// OnChange registers fn to be called with listing paths whose contents
// changed after they were first seen: a child appeared or vanished, or an
// object changed size or time. It is called without the cache lock held.
func (c *TreeCache) OnChange(fn func(paths []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Lookup returns the cached node at path.
func (c *TreeCache) Lookup(path string) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[path]
	if !ok {
		return Node{}, false
	}
	return e.node, true
}

// Listed reports whether the children of path reflect a complete listing.
func (c *TreeCache) Listed(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[path]
	return ok && e.listed
}

// LastError returns the error of the most recent failed fetch of path.
func (c *TreeCache) LastError(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.index[path]; ok {
		return e.lastErr
	}
	return nil
}

// Len returns the number of cached nodes, excluding the root.
func (c *TreeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index) - 1
}

// ChildrenOf returns the cached children of path and whether they are fully
// listed. When they are not, a background fetch is scheduled unless the last
// one failed; Refresh retries failed paths.
func (c *TreeCache) ChildrenOf(path string) ([]Node, bool) {
	nodes, listed, _ := c.children(path)
	metrics.RecordCacheLookup(listed)
	if !listed {
		c.schedule(path)
	}
	return nodes, listed
}

func (c *TreeCache) children(path string) ([]Node, bool, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[path]
	if !ok {
		return nil, false, 0
	}
	nodes := make([]Node, 0, len(e.children))
	for _, child := range e.children {
		nodes = append(nodes, child.node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, e.listed, e.version
}

// version returns the child-set version of path without copying children.
func (c *TreeCache) version(path string) (version uint64, listed, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[path]
	if !ok {
		return 0, false, false
	}
	return e.version, e.listed, true
}

func (c *TreeCache) schedule(path string) {
	if store.TypeOf(path) == store.TypeObject && path != "" {
		return
	}
	c.mu.RLock()
	e, ok := c.index[path]
	failed := ok && e.lastErr != nil
	c.mu.RUnlock()
	if failed || c.ctx.Err() != nil {
		return
	}
	go func() {
		// failures are reported through events
		_ = c.Ensure(c.ctx, path)
	}()
}

// Ensure makes sure path is fully listed, fetching it if needed.
func (c *TreeCache) Ensure(ctx context.Context, path string) error {
	if c.Listed(path) {
		return nil
	}
	return c.Refresh(ctx, path)
}

// Refresh invalidates path and lists it again. Calls for a path that is
// already being fetched join that fetch instead of starting another one.
// The fetch itself outlives ctx; only the wait is bounded by it.
func (c *TreeCache) Refresh(ctx context.Context, path string) error {
	if path != "" && store.TypeOf(path) == store.TypeObject {
		return ErrNotDirectory
	}
	ch := c.flight.DoChan(path, func() (interface{}, error) {
		return nil, c.fetch(path)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TreeCache) fetch(path string) error {
	c.mu.Lock()
	e := c.ensureEntryLocked(path)
	e.gen++
	gen := e.gen
	e.listed = false
	e.lastErr = nil
	c.mu.Unlock()

	log := c.log.With(zap.String("path", path), zap.Uint64("generation", gen))
	log.Debug("listing started")

	seen := make(map[string]struct{})
	token := ""
	pages := 0
	for {
		page, err := c.listPage(path, token)
		if err != nil {
			return c.fail(path, gen, err)
		}
		c.fillMissing(page.Items)
		if !c.merge(path, gen, page.Items, seen) {
			log.Debug("listing superseded")
			return errSuperseded
		}
		pages++
		if page.IsLast {
			break
		}
		token = page.NextToken
	}

	if !c.complete(path, gen, seen) {
		return errSuperseded
	}
	log.Debug("listing complete", zap.Int("pages", pages), zap.Int("items", len(seen)))
	return nil
}

func (c *TreeCache) listPage(path, token string) (store.ListingPage, error) {
	return retry.DoWithResult(c.ctx, c.retry, func() (store.ListingPage, error) {
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			return store.ListingPage{}, err
		}
		defer c.sem.Release(1)
		page, err := c.client.List(c.ctx, path, token)
		if err == nil {
			metrics.RecordListingPage()
		}
		return page, err
	})
}

// fillMissing fetches metadata for objects listed without size or time.
func (c *TreeCache) fillMissing(items []store.Item) {
	for i := range items {
		it := &items[i]
		if !it.NeedsHead || it.Type != store.TypeObject {
			continue
		}
		bucket, key := store.SplitPath(it.Path)
		meta, err := retry.DoWithResult(c.ctx, c.retry, func() (store.ObjectMeta, error) {
			if err := c.sem.Acquire(c.ctx, 1); err != nil {
				return store.ObjectMeta{}, err
			}
			defer c.sem.Release(1)
			return c.client.Head(c.ctx, bucket, key)
		})
		if err != nil {
			c.log.Debug("head failed", zap.String("path", it.Path), zap.Error(err))
			continue
		}
		it.Size = meta.Size
		it.Modified = meta.Modified
		it.NeedsHead = false
	}
}

func (c *TreeCache) merge(path string, gen uint64, items []store.Item, seen map[string]struct{}) bool {
	c.mu.Lock()
	e, ok := c.index[path]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return false
	}
	changed := false
	for _, it := range items {
		seen[it.Path] = struct{}{}
		child, exists := e.children[it.Path]
		if !exists {
			child = c.attachLocked(e, it.Path, it.Type)
			changed = true
		}
		child.node.Name = it.Name
		if it.Type == store.TypeObject {
			if exists && (child.node.Size != it.Size || !child.node.Modified.Equal(it.Modified)) {
				changed = true
			}
			child.node.Size = it.Size
		}
		child.node.Modified = it.Modified
	}
	c.touchLocked(e)
	hooks := c.onChange
	c.mu.Unlock()

	if changed {
		notify(hooks, []string{path})
	}
	c.events.emit(ListingUpdated{Path: path})
	return true
}

func (c *TreeCache) complete(path string, gen uint64, seen map[string]struct{}) bool {
	c.mu.Lock()
	e, ok := c.index[path]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return false
	}
	var pruned []string
	for p, child := range e.children {
		if _, ok := seen[p]; !ok {
			pruned = c.dropLocked(child, pruned)
		}
	}
	e.listed = true
	c.touchLocked(e)
	metrics.SetCacheNodes(len(c.index) - 1)
	pruneHooks, changeHooks := c.onPrune, c.onChange
	c.mu.Unlock()

	notify(pruneHooks, pruned)
	if len(pruned) > 0 {
		notify(changeHooks, []string{path})
	}
	c.events.emit(ListingUpdated{Path: path, Complete: true})
	return true
}

func (c *TreeCache) fail(path string, gen uint64, err error) error {
	kind := store.KindOf(err)
	canceled := errors.Is(err, context.Canceled)

	c.mu.Lock()
	e, ok := c.index[path]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return errSuperseded
	}
	var pruned []string
	switch {
	case canceled:
		e.listed = false
	case kind == store.KindNotFound:
		// vanished: listed and empty
		for _, child := range e.children {
			pruned = c.dropLocked(child, pruned)
		}
		e.listed = true
		c.touchLocked(e)
	default:
		// keep stale children available
		e.listed = false
		e.lastErr = err
	}
	pruneHooks, changeHooks := c.onPrune, c.onChange
	c.mu.Unlock()

	notify(pruneHooks, pruned)
	if len(pruned) > 0 {
		notify(changeHooks, []string{path})
	}
	if canceled {
		return err
	}
	if kind == store.KindNotFound {
		c.log.Debug("listing target vanished", zap.String("path", path), zap.Error(err))
		c.events.emit(ListingUpdated{Path: path, Complete: true})
	} else {
		c.log.Warn("listing failed",
			zap.String("path", path),
			zap.Stringer("kind", kind),
			zap.Error(err))
	}
	c.events.emit(OperationFailed{Path: path, Kind: kind, Err: err})
	return err
}

func notify(hooks []func([]string), paths []string) {
	if len(paths) == 0 {
		return
	}
	for _, fn := range hooks {
		fn(paths)
	}
}

// touchLocked gives e a version no entry has held before.
func (c *TreeCache) touchLocked(e *entry) {
	c.seq++
	e.version = c.seq
}

// ensureEntryLocked returns the entry for path, creating placeholders for it
// and its ancestors so a deep path can be opened before its parents are
// listed.
func (c *TreeCache) ensureEntryLocked(path string) *entry {
	if e, ok := c.index[path]; ok {
		return e
	}
	parent := c.ensureEntryLocked(store.ParentPath(path))
	return c.attachLocked(parent, path, store.TypeOf(path))
}

func (c *TreeCache) attachLocked(parent *entry, path string, typ store.EntryType) *entry {
	e := &entry{
		node: Node{
			Type: typ,
			Path: path,
			Name: store.BaseName(path),
		},
		parent: parent,
	}
	if typ != store.TypeObject {
		e.children = make(map[string]*entry)
	}
	c.touchLocked(e)
	parent.children[path] = e
	c.touchLocked(parent)
	c.index[path] = e
	return e
}

// dropLocked detaches e and its subtree, appending the removed paths.
func (c *TreeCache) dropLocked(e *entry, removed []string) []string {
	for _, child := range e.children {
		removed = c.dropLocked(child, removed)
	}
	if e.parent != nil {
		delete(e.parent.children, e.node.Path)
		c.touchLocked(e.parent)
	}
	delete(c.index, e.node.Path)
	return append(removed, e.node.Path)
}

// aggregate returns the aggregate stored on path.
func (c *TreeCache) aggregate(path string) (SizeAggregate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[path]
	if !ok {
		return SizeAggregate{}, false
	}
	return e.node.Aggregate, true
}

// updateAggregate applies fn to the aggregate of path. Only the aggregation
// engine calls it.
func (c *TreeCache) updateAggregate(path string, fn func(SizeAggregate) SizeAggregate) bool {
	c.mu.Lock()
	e, ok := c.index[path]
	if !ok || e.node.Type == store.TypeObject || path == "" {
		c.mu.Unlock()
		return false
	}
	before := e.node.Aggregate
	after := fn(before)
	e.node.Aggregate = after
	if e.parent != nil && before != after {
		c.touchLocked(e.parent)
	}
	c.mu.Unlock()

	if before != after {
		c.events.emit(AggregateUpdated{Path: path, Aggregate: after})
	}
	return true
}

// remove drops deleted objects from the cache along with directories below
// a kept path that became empty. Only the deletion coordinator calls it.
func (c *TreeCache) remove(paths []string, keep map[string]bool) []string {
	c.mu.Lock()
	var removed []string
	for _, p := range paths {
		e, ok := c.index[p]
		if !ok {
			continue
		}
		parent := e.parent
		removed = c.dropLocked(e, removed)
		for parent != nil && parent.node.Type == store.TypeDirectory &&
			!keep[parent.node.Path] && len(parent.children) == 0 && underAny(parent.node.Path, keep) {
			next := parent.parent
			removed = c.dropLocked(parent, removed)
			parent = next
		}
	}
	metrics.SetCacheNodes(len(c.index) - 1)
	hooks := c.onPrune
	c.mu.Unlock()

	notify(hooks, removed)
	return removed
}

func underAny(path string, ancestors map[string]bool) bool {
	for a := range ancestors {
		if a != path && store.Within(path, a) {
			return true
		}
	}
	return false
}
