// Package core implements the tree cache and aggregation engine behind the
// navigator: lazily listed nodes, sorted views, background size walks,
// selection, and recursive deletion.
//
// Mutation rights over the shared node graph are split by component: only
// TreeCache changes child collections, only Engine writes size aggregates,
// and only DeletionCoordinator removes nodes outside a refresh.
package core

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/slmtnm/s4/internal/store"
)

// SizeState is the lifecycle of a directory or bucket size.
type SizeState int

const (
	SizeUnknown SizeState = iota
	SizeComputing
	SizeKnown
)

func (s SizeState) String() string {
	switch s {
	case SizeComputing:
		return "computing"
	case SizeKnown:
		return "known"
	default:
		return "unknown"
	}
}

// SizeAggregate is the computed size of a directory or bucket.
type SizeAggregate struct {
	State       SizeState
	TotalBytes  uint64
	ObjectCount uint64
	ComputedAt  time.Time
	// Complete is true only when every descendant was enumerated without
	// error by the walk that produced the value.
	Complete bool
	// Failed marks a value produced by a walk that hit errors; it is
	// advisory and rendered as N/A.
	Failed bool
}

// Authoritative reports whether the aggregate may be shown as exact.
func (a SizeAggregate) Authoritative() bool {
	return a.State == SizeKnown && a.Complete
}

// Node is a snapshot of one entry of the tree.
type Node struct {
	Type store.EntryType
	Path string
	Name string
	// Size is exact for objects and unused otherwise.
	Size int64
	// Modified is zero for directories and for buckets without a creation
	// date.
	Modified  time.Time
	Aggregate SizeAggregate
}

// IsContainer reports whether the node can have children.
func (n Node) IsContainer() bool {
	switch n.Type {
	case store.TypeBucket, store.TypeDirectory:
		return true
	case store.TypeObject:
		return false
	default:
		panic(fmt.Sprintf("core: unknown entry type %d", n.Type))
	}
}

// SizeKnown reports whether the node has a size usable for sorting.
func (n Node) SizeKnown() bool {
	switch n.Type {
	case store.TypeObject:
		return true
	case store.TypeBucket, store.TypeDirectory:
		return n.Aggregate.State == SizeKnown
	default:
		panic(fmt.Sprintf("core: unknown entry type %d", n.Type))
	}
}

// Bytes returns the size used for sorting; only meaningful when SizeKnown.
func (n Node) Bytes() uint64 {
	if n.Type == store.TypeObject {
		if n.Size < 0 {
			return 0
		}
		return uint64(n.Size)
	}
	return n.Aggregate.TotalBytes
}

// DisplaySize renders the size column.
func (n Node) DisplaySize() string {
	switch n.Type {
	case store.TypeObject:
		return humanize.IBytes(n.Bytes())
	case store.TypeBucket, store.TypeDirectory:
		a := n.Aggregate
		switch {
		case a.State == SizeComputing:
			if a.ObjectCount == 0 {
				return "…"
			}
			return "≥" + humanize.IBytes(a.TotalBytes) + "…"
		case a.State == SizeKnown && a.Complete:
			return humanize.IBytes(a.TotalBytes)
		case a.State == SizeKnown && a.Failed:
			return "N/A"
		case a.State == SizeKnown:
			// invalidated, needs recalculation
			return humanize.IBytes(a.TotalBytes) + "?"
		default:
			return "-"
		}
	default:
		panic(fmt.Sprintf("core: unknown entry type %d", n.Type))
	}
}

// DisplayTime renders the modification column.
func (n Node) DisplayTime() string {
	if n.Modified.IsZero() {
		return ""
	}
	return n.Modified.Local().Format("2006-01-02 15:04:05")
}
