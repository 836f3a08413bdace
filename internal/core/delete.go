package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/slmtnm/s4/internal/metrics"
	"github.com/slmtnm/s4/internal/retry"
	"github.com/slmtnm/s4/internal/store"
)

// DeletionState is the state of the deletion coordinator.
type DeletionState int

const (
	DeletionIdle DeletionState = iota
	DeletionPlanning
	DeletionAwaitingConfirmation
	DeletionExecuting
	DeletionDone
	DeletionFailed
)

func (s DeletionState) String() string {
	switch s {
	case DeletionPlanning:
		return "planning"
	case DeletionAwaitingConfirmation:
		return "awaiting confirmation"
	case DeletionExecuting:
		return "executing"
	case DeletionDone:
		return "done"
	case DeletionFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ObjectKey is one object scheduled for deletion.
type ObjectKey struct {
	Bucket string
	Key    string
	Size   int64
}

// Path returns the cache path of the object.
func (k ObjectKey) Path() string {
	return store.JoinPath(k.Bucket, k.Key)
}

// KeyFailure is an object that could not be deleted.
type KeyFailure struct {
	Key ObjectKey
	Err error
}

// TargetFailure is a target whose expansion failed.
type TargetFailure struct {
	Path string
	Err  error
}

// DeletionPlan describes a recursive deletion.
type DeletionPlan struct {
	ID      uuid.UUID
	Targets []string
	// Keys is the expanded object set in path order. Prefixes never appear.
	Keys       []ObjectKey
	TotalBytes uint64
	TotalCount uint64
	// Accurate is false when some target could not be fully expanded; the
	// totals are then shown as N/A.
	Accurate bool
	State    DeletionState

	ExpandFailures []TargetFailure
	Deleted        int
	Failures       []KeyFailure
}

// Totals renders the plan size for confirmation.
func (p DeletionPlan) Totals() string {
	if !p.Accurate {
		return "N/A"
	}
	return fmt.Sprintf("%s in %s", humanize.IBytes(p.TotalBytes), pluralObjects(p.TotalCount))
}

func pluralObjects(n uint64) string {
	if n == 1 {
		return "1 object"
	}
	return humanize.Comma(int64(n)) + " objects"
}

func (p DeletionPlan) clone() DeletionPlan {
	c := p
	c.Targets = append([]string(nil), p.Targets...)
	c.Keys = append([]ObjectKey(nil), p.Keys...)
	c.ExpandFailures = append([]TargetFailure(nil), p.ExpandFailures...)
	c.Failures = append([]KeyFailure(nil), p.Failures...)
	return c
}

// DeletionOptions configures a DeletionCoordinator.
type DeletionOptions struct {
	// BatchSize is capped by the store's maximum batch.
	BatchSize int
	// Workers bounds concurrent target expansion.
	Workers int
	Retry   retry.Config
	Logger  *zap.Logger
	Events  *Events
}

// DeletionCoordinator plans and executes recursive deletes and reconciles
// the cache afterwards.
type DeletionCoordinator struct {
	cache     *TreeCache
	engine    *Engine
	selection *Selection
	client    store.Client
	batchSize int
	workers   int
	retry     retry.Config
	log       *zap.Logger
	events    *Events

	mu    sync.Mutex
	state DeletionState
	plan  *DeletionPlan
}

// NewDeletionCoordinator wires a coordinator to the cache, engine and
// selection it reconciles.
func NewDeletionCoordinator(cache *TreeCache, engine *Engine, selection *Selection, opts DeletionOptions) *DeletionCoordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	opts.Retry.Retryable = store.IsTransient

	batch := cache.client.MaxDeleteBatch()
	if opts.BatchSize > 0 && opts.BatchSize < batch {
		batch = opts.BatchSize
	}
	return &DeletionCoordinator{
		cache:     cache,
		engine:    engine,
		selection: selection,
		client:    cache.client,
		batchSize: batch,
		workers:   opts.Workers,
		retry:     opts.Retry,
		log:       opts.Logger,
		events:    opts.Events,
	}
}

// State returns the current state.
func (d *DeletionCoordinator) State() DeletionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Plan returns a copy of the current plan.
func (d *DeletionCoordinator) Plan() (DeletionPlan, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.plan == nil {
		return DeletionPlan{}, false
	}
	return d.plan.clone(), true
}

// BatchSize returns the effective delete batch size.
func (d *DeletionCoordinator) BatchSize() int {
	return d.batchSize
}

// Request plans the deletion of targets and waits for confirmation. An empty
// request is rejected with ErrEmptySelection and leaves the coordinator
// idle. A finished previous plan is discarded.
func (d *DeletionCoordinator) Request(ctx context.Context, targets []string) (DeletionPlan, error) {
	d.mu.Lock()
	switch d.state {
	case DeletionIdle, DeletionDone, DeletionFailed:
	default:
		state := d.state
		d.mu.Unlock()
		return DeletionPlan{}, fmt.Errorf("delete request while %s: %w", state, ErrIllegalState)
	}
	targets = normalizeTargets(targets)
	if len(targets) == 0 {
		d.state = DeletionIdle
		d.plan = nil
		d.mu.Unlock()
		d.log.Info("delete requested with empty selection")
		d.events.emit(LogMessage{Text: "Nothing selected for deletion"})
		return DeletionPlan{}, ErrEmptySelection
	}
	plan := &DeletionPlan{ID: uuid.New(), Targets: targets, State: DeletionPlanning}
	d.state = DeletionPlanning
	d.plan = plan
	d.mu.Unlock()

	log := d.log.With(zap.Stringer("plan", plan.ID))
	log.Info("planning deletion", zap.Strings("targets", targets))

	for _, t := range targets {
		if n := d.engine.CancelOverlapping(t); n > 0 {
			log.Debug("canceled overlapping walks", zap.String("target", t), zap.Int("walks", n))
		}
	}

	keys, failures, err := d.expand(ctx, targets)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = DeletionIdle
		d.plan = nil
		log.Info("deletion planning aborted", zap.Error(err))
		return DeletionPlan{}, err
	}

	plan.Keys = keys
	plan.ExpandFailures = failures
	plan.Accurate = len(failures) == 0
	for _, k := range keys {
		plan.TotalBytes += uint64(max(k.Size, 0))
	}
	plan.TotalCount = uint64(len(keys))

	if len(failures) == len(targets) && len(keys) == 0 {
		plan.State = DeletionFailed
		d.state = DeletionFailed
		log.Warn("deletion planning failed", zap.Int("targets", len(targets)))
		for _, f := range failures {
			d.events.emit(OperationFailed{Path: f.Path, Kind: store.KindOf(f.Err), Err: f.Err})
		}
		d.events.emit(LogMessage{Text: "Cannot plan deletion: " + failures[0].Err.Error()})
		return plan.clone(), nil
	}

	plan.State = DeletionAwaitingConfirmation
	d.state = DeletionAwaitingConfirmation
	log.Info("deletion planned",
		zap.Uint64("objects", plan.TotalCount),
		zap.Uint64("bytes", plan.TotalBytes),
		zap.Bool("accurate", plan.Accurate))
	for _, f := range failures {
		d.events.emit(OperationFailed{Path: f.Path, Kind: store.KindOf(f.Err), Err: f.Err})
	}
	return plan.clone(), nil
}

func normalizeTargets(targets []string) []string {
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// expand resolves targets into object keys. Only cancellation of ctx is
// returned as an error; per-target failures are collected.
func (d *DeletionCoordinator) expand(ctx context.Context, targets []string) ([]ObjectKey, []TargetFailure, error) {
	perTarget := make([][]ObjectKey, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, t := range targets {
		g.Go(func() error {
			keys, err := d.expandTarget(gctx, t)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			perTarget[i] = keys
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var failures []TargetFailure
	seen := make(map[string]struct{})
	var keys []ObjectKey
	for i, t := range targets {
		if errs[i] != nil {
			failures = append(failures, TargetFailure{Path: t, Err: errs[i]})
		}
		for _, k := range perTarget[i] {
			if _, dup := seen[k.Path()]; dup {
				continue
			}
			seen[k.Path()] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path() < keys[j].Path() })
	return keys, failures, nil
}

func (d *DeletionCoordinator) expandTarget(ctx context.Context, target string) ([]ObjectKey, error) {
	if store.TypeOf(target) == store.TypeObject {
		bucket, key := store.SplitPath(target)
		if n, ok := d.cache.Lookup(target); ok {
			return []ObjectKey{{Bucket: bucket, Key: key, Size: n.Size}}, nil
		}
		meta, err := retry.DoWithResult(ctx, d.retry, func() (store.ObjectMeta, error) {
			return d.client.Head(ctx, bucket, key)
		})
		switch {
		case err == nil:
			return []ObjectKey{{Bucket: bucket, Key: key, Size: meta.Size}}, nil
		case store.IsNotFound(err):
			return nil, nil
		default:
			return nil, err
		}
	}

	var keys []ObjectKey
	var firstErr error
	var visit func(path string) error
	visit = func(path string) error {
		if err := d.cache.Ensure(ctx, path); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !store.IsNotFound(err) && firstErr == nil {
				firstErr = err
			}
			return nil
		}
		nodes, _, _ := d.cache.children(path)
		for _, n := range nodes {
			if n.Type == store.TypeObject {
				bucket, key := store.SplitPath(n.Path)
				keys = append(keys, ObjectKey{Bucket: bucket, Key: key, Size: n.Size})
				continue
			}
			if err := visit(n.Path); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(target); err != nil {
		return nil, err
	}
	return keys, firstErr
}

// Cancel abandons a plan awaiting confirmation.
func (d *DeletionCoordinator) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DeletionAwaitingConfirmation {
		return fmt.Errorf("cancel deletion while %s: %w", d.state, ErrIllegalState)
	}
	d.log.Info("deletion canceled", zap.Stringer("plan", d.plan.ID))
	d.state = DeletionIdle
	d.plan = nil
	return nil
}

// Reset returns a finished coordinator to idle.
func (d *DeletionCoordinator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DeletionDone || d.state == DeletionFailed {
		d.state = DeletionIdle
		d.plan = nil
	}
}

// Confirm executes the plan awaiting confirmation. Execution is not
// cancelable: ctx only carries values, and the call always ends in Done
// with a per-key failure report.
func (d *DeletionCoordinator) Confirm(ctx context.Context) (DeletionPlan, error) {
	d.mu.Lock()
	if d.state != DeletionAwaitingConfirmation {
		state := d.state
		d.mu.Unlock()
		return DeletionPlan{}, fmt.Errorf("confirm deletion while %s: %w", state, ErrIllegalState)
	}
	d.state = DeletionExecuting
	d.plan.State = DeletionExecuting
	plan := d.plan
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	log := d.log.With(zap.Stringer("plan", plan.ID))
	log.Info("deletion started", zap.Int("objects", len(plan.Keys)), zap.Int("batch", d.batchSize))

	deleted, failures := d.execute(ctx, plan, log)
	d.reconcile(plan, deleted, failures)

	d.mu.Lock()
	plan.Deleted = len(deleted)
	plan.Failures = failures
	plan.State = DeletionDone
	d.state = DeletionDone
	final := plan.clone()
	d.mu.Unlock()

	metrics.RecordDeletedObjects(len(deleted), len(failures))
	log.Info("deletion finished", zap.Int("deleted", len(deleted)), zap.Int("failed", len(failures)))
	d.events.emit(DeletionProgress{Plan: final, Done: len(deleted)})
	d.report(final)
	return final, nil
}

func (d *DeletionCoordinator) execute(ctx context.Context, plan *DeletionPlan, log *zap.Logger) ([]ObjectKey, []KeyFailure) {
	var deleted []ObjectKey
	var failed []KeyFailure

	for _, batch := range d.batches(plan.Keys) {
		names := make([]string, len(batch))
		for i, k := range batch {
			names[i] = k.Key
		}
		bucket := batch[0].Bucket
		outcomes, err := retry.DoWithResult(ctx, d.retry, func() ([]store.DeleteOutcome, error) {
			return d.client.DeleteBatch(ctx, bucket, names)
		})
		if err != nil {
			log.Warn("delete batch failed", zap.String("bucket", bucket), zap.Int("keys", len(batch)), zap.Error(err))
			for _, k := range batch {
				failed = append(failed, KeyFailure{Key: k, Err: err})
			}
		} else {
			byKey := make(map[string]error, len(outcomes))
			for _, o := range outcomes {
				byKey[o.Key] = o.Err
			}
			for _, k := range batch {
				if err, ok := byKey[k.Key]; ok && err == nil {
					deleted = append(deleted, k)
				} else {
					if !ok {
						err = fmt.Errorf("no outcome reported for %s", k.Key)
					}
					failed = append(failed, KeyFailure{Key: k, Err: err})
				}
			}
		}

		d.mu.Lock()
		plan.Deleted = len(deleted)
		snapshot := plan.clone()
		d.mu.Unlock()
		d.events.emit(DeletionProgress{Plan: snapshot, Done: len(deleted)})
	}

	if len(failed) == 0 {
		return deleted, nil
	}

	// one individual retry per failed key
	log.Info("retrying failed keys individually", zap.Int("keys", len(failed)))
	var final []KeyFailure
	for _, f := range failed {
		outcomes, err := d.client.DeleteBatch(ctx, f.Key.Bucket, []string{f.Key.Key})
		if err == nil && len(outcomes) == 1 && outcomes[0].Err == nil {
			deleted = append(deleted, f.Key)
			continue
		}
		if err == nil && len(outcomes) == 1 {
			err = outcomes[0].Err
		} else if err == nil {
			err = errors.New("unexpected delete response")
		}
		final = append(final, KeyFailure{Key: f.Key, Err: err})
	}
	return deleted, final
}

// batches splits keys into per-bucket batches no larger than the batch size.
func (d *DeletionCoordinator) batches(keys []ObjectKey) [][]ObjectKey {
	var out [][]ObjectKey
	var cur []ObjectKey
	for _, k := range keys {
		if len(cur) > 0 && (len(cur) == d.batchSize || cur[0].Bucket != k.Bucket) {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, k)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// reconcile prunes deleted objects and invalidates every aggregate above
// them. Aggregates are never decremented.
func (d *DeletionCoordinator) reconcile(plan *DeletionPlan, deleted []ObjectKey, failures []KeyFailure) {
	keep := make(map[string]bool, len(plan.Targets))
	for _, t := range plan.Targets {
		if store.TypeOf(t) != store.TypeObject {
			keep[t] = true
		}
	}

	paths := make([]string, len(deleted))
	for i, k := range deleted {
		paths[i] = k.Path()
	}
	d.cache.remove(paths, keep)

	stale := make(map[string]struct{})
	for _, p := range paths {
		for a := store.ParentPath(p); a != ""; a = store.ParentPath(a) {
			if _, ok := stale[a]; ok {
				break
			}
			stale[a] = struct{}{}
		}
	}
	for t := range keep {
		for a := t; a != ""; a = store.ParentPath(a) {
			stale[a] = struct{}{}
		}
	}
	invalid := make([]string, 0, len(stale))
	for a := range stale {
		invalid = append(invalid, a)
	}
	sort.Strings(invalid)
	d.engine.Invalidate(invalid...)

	failedUnder := func(target string) bool {
		for _, f := range failures {
			if store.Within(f.Key.Path(), target) {
				return true
			}
		}
		return false
	}
	var done []string
	for _, t := range plan.Targets {
		if !failedUnder(t) {
			done = append(done, t)
		}
	}
	d.selection.Prune(done)

	notified := make(map[string]struct{})
	for _, t := range plan.Targets {
		for _, p := range []string{t, store.ParentPath(t)} {
			if _, ok := notified[p]; ok || (p != "" && store.TypeOf(p) == store.TypeObject) {
				continue
			}
			notified[p] = struct{}{}
			d.events.emit(ListingUpdated{Path: p, Complete: d.cache.Listed(p)})
		}
	}
}

const maxReportedFailures = 20

func (d *DeletionCoordinator) report(plan DeletionPlan) {
	if len(plan.Failures) == 0 {
		d.events.emit(LogMessage{Text: fmt.Sprintf("Deleted %s", pluralObjects(uint64(plan.Deleted)))})
		return
	}
	d.events.emit(LogMessage{Text: fmt.Sprintf("Deleted %s, %d failed",
		pluralObjects(uint64(plan.Deleted)), len(plan.Failures))})
	for i, f := range plan.Failures {
		if i == maxReportedFailures {
			d.events.emit(LogMessage{Text: fmt.Sprintf("... and %d more", len(plan.Failures)-i)})
			break
		}
		d.log.Warn("object not deleted", zap.String("path", f.Key.Path()), zap.Error(f.Err))
		d.events.emit(OperationFailed{Path: f.Key.Path(), Kind: store.KindOf(f.Err), Err: f.Err})
	}
}
