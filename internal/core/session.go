package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/slmtnm/s4/internal/retry"
	"github.com/slmtnm/s4/internal/store"
)

// Mode is the interactive state that decides which mutations are legal.
type Mode int

const (
	ModeBrowsing Mode = iota
	ModeCalculating
	ModeConfirmingDeletion
	ModeDeleting
)

func (m Mode) String() string {
	switch m {
	case ModeCalculating:
		return "calculating"
	case ModeConfirmingDeletion:
		return "confirming deletion"
	case ModeDeleting:
		return "deleting"
	default:
		return "browsing"
	}
}

// Config tunes a Session.
type Config struct {
	AggregateConcurrency int
	DeleteBatchSize      int
	ListWorkers          int
	Retry                retry.Config
	EventBuffer          int
	Logger               *zap.Logger
}

// ViewItem is the render snapshot of one row.
type ViewItem struct {
	Node        Node
	DisplaySize string
	DisplayTime string
	Selected    bool
	Position    int
}

// Session ties the cache, sort index, engine, selection and deletion
// coordinator to a viewport.
type Session struct {
	Cache     *TreeCache
	Sort      *SortIndex
	Engine    *Engine
	Selection *Selection
	Deletion  *DeletionCoordinator

	events *Events
	log    *zap.Logger

	mu   sync.Mutex
	path string
	key  SortKey
	dir  SortDirection
}

// NewSession builds the core over an authenticated store client. The view
// starts at the bucket list.
func NewSession(client store.Client, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	events := NewEvents(cfg.EventBuffer, log.Named("events"))
	cache := NewTreeCache(client, CacheOptions{
		Workers: cfg.ListWorkers,
		Retry:   cfg.Retry,
		Logger:  log.Named("cache"),
		Events:  events,
	})
	engine := NewEngine(cache, EngineOptions{
		Concurrency: cfg.AggregateConcurrency,
		Logger:      log.Named("aggregate"),
		Events:      events,
	})

	s := &Session{
		Cache:  cache,
		Sort:   NewSortIndex(cache),
		Engine: engine,
		events: events,
		log:    log,
	}
	s.Selection = NewSelection(s.visible)
	cache.OnPrune(s.Selection.Prune)
	s.Deletion = NewDeletionCoordinator(cache, engine, s.Selection, DeletionOptions{
		BatchSize: cfg.DeleteBatchSize,
		Workers:   cfg.AggregateConcurrency,
		Retry:     cfg.Retry,
		Logger:    log.Named("delete"),
		Events:    events,
	})
	return s
}

// Events returns the stream consumed by the interactive loop.
func (s *Session) Events() <-chan Event {
	return s.events.C()
}

// Close cancels background work and closes the event stream.
func (s *Session) Close() {
	s.Cache.Close()
	s.events.close()
}

// Mode derives the interactive state from the engine and the coordinator.
func (s *Session) Mode() Mode {
	switch s.Deletion.State() {
	case DeletionPlanning, DeletionAwaitingConfirmation:
		return ModeConfirmingDeletion
	case DeletionExecuting:
		return ModeDeleting
	}
	if s.Engine.Busy() {
		return ModeCalculating
	}
	return ModeBrowsing
}

func (s *Session) require(op string, allowed ...Mode) error {
	mode := s.Mode()
	for _, m := range allowed {
		if m == mode {
			return nil
		}
	}
	return fmt.Errorf("%s while %s: %w", op, mode, ErrIllegalState)
}

// Path returns the viewport path.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Navigate moves the viewport to path and cancels walks that are no longer
// visible from it.
func (s *Session) Navigate(path string) error {
	if err := s.require("navigate", ModeBrowsing, ModeCalculating); err != nil {
		return err
	}
	if path != "" && store.TypeOf(path) == store.TypeObject {
		return fmt.Errorf("navigate to %q: %w", path, ErrNotDirectory)
	}
	s.mu.Lock()
	prev := s.path
	s.path = path
	s.mu.Unlock()

	if n := s.Engine.CancelExcept(func(p string) bool {
		return store.ParentPath(p) == path || store.Within(path, p)
	}); n > 0 {
		s.log.Debug("canceled walks out of view", zap.String("from", prev), zap.String("to", path), zap.Int("walks", n))
	}
	s.Cache.ChildrenOf(path)
	return nil
}

// Up navigates to the parent of the viewport.
func (s *Session) Up() error {
	path := s.Path()
	if path == "" {
		return nil
	}
	return s.Navigate(store.ParentPath(path))
}

// Refresh relists the viewport.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.require("refresh", ModeBrowsing, ModeCalculating); err != nil {
		return err
	}
	return s.Cache.Refresh(ctx, s.Path())
}

// SortOrder returns the active sort.
func (s *Session) SortOrder() (SortKey, SortDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.dir
}

// SetSort changes the sort order.
func (s *Session) SetSort(key SortKey, dir SortDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key, s.dir = key, dir
}

// CycleSort advances name, size, modified; wrapping back to name flips the
// direction.
func (s *Session) CycleSort() (SortKey, SortDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = s.key.Next()
	if s.key == SortName {
		s.dir = s.dir.Flip()
	}
	return s.key, s.dir
}

// View returns the ordered rows of the viewport and whether the listing is
// complete.
func (s *Session) View() ([]ViewItem, bool) {
	s.mu.Lock()
	path, key, dir := s.path, s.key, s.dir
	s.mu.Unlock()

	nodes, listed := s.Sort.OrderedChildren(path, key, dir)
	items := make([]ViewItem, len(nodes))
	for i, n := range nodes {
		items[i] = ViewItem{
			Node:        n,
			DisplaySize: n.DisplaySize(),
			DisplayTime: n.DisplayTime(),
			Selected:    s.Selection.Contains(n.Path),
			Position:    i,
		}
	}
	return items, listed
}

// visible reports whether path is a cached child of the viewport.
func (s *Session) visible(path string) bool {
	if store.ParentPath(path) != s.Path() {
		return false
	}
	_, ok := s.Cache.Lookup(path)
	return ok
}

// Toggle flips the selection of a visible path.
func (s *Session) Toggle(path string) (bool, error) {
	if err := s.require("select", ModeBrowsing, ModeCalculating); err != nil {
		return false, err
	}
	return s.Selection.Toggle(path)
}

// ClearSelection empties the selection.
func (s *Session) ClearSelection() error {
	if err := s.require("clear selection", ModeBrowsing, ModeCalculating); err != nil {
		return err
	}
	s.Selection.Clear()
	return nil
}

// Calculate recomputes the size of path from fresh listings.
func (s *Session) Calculate(path string) (*Walk, error) {
	if err := s.require("calculate", ModeBrowsing, ModeCalculating); err != nil {
		return nil, err
	}
	return s.Engine.Recalculate(path)
}

// CalculateVisible starts walks for every visible container without a known
// size.
func (s *Session) CalculateVisible() ([]*Walk, error) {
	if err := s.require("calculate", ModeBrowsing, ModeCalculating); err != nil {
		return nil, err
	}
	items, _ := s.View()
	paths := make([]string, 0, len(items))
	for _, it := range items {
		if it.Node.IsContainer() {
			paths = append(paths, it.Node.Path)
		}
	}
	return s.Engine.CalculateAll(paths), nil
}

// CancelCalculations cancels every walk in flight.
func (s *Session) CancelCalculations() int {
	return s.Engine.CancelExcept(func(string) bool { return false })
}

// RequestDelete plans the deletion of the selection.
func (s *Session) RequestDelete(ctx context.Context) (DeletionPlan, error) {
	if err := s.require("delete", ModeBrowsing, ModeCalculating); err != nil {
		return DeletionPlan{}, err
	}
	return s.Deletion.Request(ctx, s.Selection.Members())
}

// ConfirmDelete executes the pending plan.
func (s *Session) ConfirmDelete(ctx context.Context) (DeletionPlan, error) {
	return s.Deletion.Confirm(ctx)
}

// CancelDelete abandons the pending plan.
func (s *Session) CancelDelete() error {
	return s.Deletion.Cancel()
}

// AcknowledgeDelete clears a finished deletion.
func (s *Session) AcknowledgeDelete() {
	s.Deletion.Reset()
}
