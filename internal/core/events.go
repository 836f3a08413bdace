package core

import (
	"sync"

	"go.uber.org/zap"

	"github.com/slmtnm/s4/internal/store"
)

// Event is a change notification for the interactive loop.
type Event interface {
	isEvent()
}

// ListingUpdated is emitted when the children of Path changed.
type ListingUpdated struct {
	Path     string
	Complete bool
}

func (ListingUpdated) isEvent() {}

// AggregateUpdated is emitted whenever the aggregate of Path is written.
type AggregateUpdated struct {
	Path      string
	Aggregate SizeAggregate
}

func (AggregateUpdated) isEvent() {}

// DeletionProgress is emitted once per executed delete batch.
type DeletionProgress struct {
	Plan DeletionPlan
	Done int
}

func (DeletionProgress) isEvent() {}

// OperationFailed reports a failure scoped to Path.
type OperationFailed struct {
	Path string
	Kind store.ErrorKind
	Err  error
}

func (OperationFailed) isEvent() {}

// LogMessage is an informational line for the log window.
type LogMessage struct {
	Text string
}

func (LogMessage) isEvent() {}

// Events delivers events to a single consumer in emission order. Sends
// never block. While they wait, listing and aggregate updates of the same
// path collapse into the latest one; failures, log lines and deletion
// progress are always delivered.
type Events struct {
	out  chan Event
	log  *zap.Logger
	wake chan struct{}
	stop chan struct{}

	mu      sync.Mutex
	queue   []*queued
	pending map[updateKey]*queued
	closed  bool
}

type updateKey struct {
	kind string
	path string
}

type queued struct {
	ev  Event
	key *updateKey
}

// NewEvents creates an event stream whose channel holds buffer events.
func NewEvents(buffer int, log *zap.Logger) *Events {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Events{
		out:     make(chan Event, buffer),
		log:     log,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		pending: make(map[updateKey]*queued),
	}
	go e.pump()
	return e
}

// C returns the receive side of the stream. It is closed after close.
func (e *Events) C() <-chan Event {
	return e.out
}

func (e *Events) emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	q := &queued{ev: ev}
	if key, ok := coalesceKey(ev); ok {
		if waiting, dup := e.pending[key]; dup {
			waiting.ev = ev
			e.mu.Unlock()
			return
		}
		q.key = &key
		e.pending[key] = q
	}
	e.queue = append(e.queue, q)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Events) next() (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	q := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	if q.key != nil && e.pending[*q.key] == q {
		delete(e.pending, *q.key)
	}
	return q.ev, true
}

// pump moves queued events into the channel and owns closing it.
func (e *Events) pump() {
	defer close(e.out)
	for {
		ev, ok := e.next()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.stop:
				return
			}
		}
		select {
		case e.out <- ev:
		case <-e.stop:
			return
		}
	}
}

func (e *Events) close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if n := len(e.queue); n > 0 {
		e.log.Debug("events discarded on close", zap.Int("count", n))
	}
	e.queue = nil
	clear(e.pending)
	close(e.stop)
}

// coalesceKey identifies events that only signal "look again" and can be
// merged with a waiting event of the same kind and path.
func coalesceKey(ev Event) (updateKey, bool) {
	switch ev := ev.(type) {
	case ListingUpdated:
		return updateKey{kind: eventType(ev), path: ev.Path}, true
	case AggregateUpdated:
		return updateKey{kind: eventType(ev), path: ev.Path}, true
	default:
		return updateKey{}, false
	}
}

func eventType(ev Event) string {
	switch ev.(type) {
	case ListingUpdated:
		return "listing_updated"
	case AggregateUpdated:
		return "aggregate_updated"
	case DeletionProgress:
		return "deletion_progress"
	case OperationFailed:
		return "operation_failed"
	case LogMessage:
		return "log"
	default:
		return "unknown"
	}
}
