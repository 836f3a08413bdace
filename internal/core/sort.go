package core

import (
	"slices"
	"strings"
	"sync"
)

// SortKey selects the column children are ordered by.
type SortKey int

const (
	SortName SortKey = iota
	SortSize
	SortModified
)

func (k SortKey) String() string {
	switch k {
	case SortSize:
		return "size"
	case SortModified:
		return "modified"
	default:
		return "name"
	}
}

// Next cycles name, size, modified and back to name.
func (k SortKey) Next() SortKey {
	return (k + 1) % 3
}

// SortDirection is ascending or descending.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (d SortDirection) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Flip returns the opposite direction.
func (d SortDirection) Flip() SortDirection {
	if d == Descending {
		return Ascending
	}
	return Descending
}

type memoKey struct {
	path string
	key  SortKey
	dir  SortDirection
}

type memoValue struct {
	version uint64
	nodes   []Node
}

// SortIndex orders the children of a node. It keeps no state beyond a memo
// keyed by the child-set version of the cache.
type SortIndex struct {
	cache *TreeCache

	mu   sync.Mutex
	memo map[memoKey]memoValue
}

const maxMemoEntries = 512

// NewSortIndex creates a sort index over cache.
func NewSortIndex(cache *TreeCache) *SortIndex {
	return &SortIndex{cache: cache, memo: make(map[memoKey]memoValue)}
}

// OrderedChildren returns the children of path in the requested order and
// whether they are fully listed. The returned slice must not be modified.
func (s *SortIndex) OrderedChildren(path string, key SortKey, dir SortDirection) ([]Node, bool) {
	mk := memoKey{path: path, key: key, dir: dir}
	if version, listed, ok := s.cache.version(path); ok {
		s.mu.Lock()
		m, hit := s.memo[mk]
		s.mu.Unlock()
		if hit && m.version == version {
			if !listed {
				s.cache.schedule(path)
			}
			return m.nodes, listed
		}
	}

	nodes, listed, version := s.cache.children(path)
	if !listed {
		s.cache.schedule(path)
	}
	SortNodes(nodes, key, dir)

	s.mu.Lock()
	if len(s.memo) >= maxMemoEntries {
		clear(s.memo)
	}
	s.memo[mk] = memoValue{version: version, nodes: nodes}
	s.mu.Unlock()
	return nodes, listed
}

// SortNodes sorts nodes in place. Entries whose key is unknown (directories
// without a computed size, entries without a timestamp) come first in both
// directions; ties fall back to name ascending.
func SortNodes(nodes []Node, key SortKey, dir SortDirection) {
	slices.SortFunc(nodes, func(a, b Node) int {
		return compareNodes(a, b, key, dir)
	})
}

func compareNodes(a, b Node, key SortKey, dir SortDirection) int {
	var c int
	switch key {
	case SortSize:
		ak, bk := a.SizeKnown(), b.SizeKnown()
		if ak != bk {
			if !ak {
				return -1
			}
			return 1
		}
		if ak {
			c = compareUint(a.Bytes(), b.Bytes())
		}
	case SortModified:
		ak, bk := !a.Modified.IsZero(), !b.Modified.IsZero()
		if ak != bk {
			if !ak {
				return -1
			}
			return 1
		}
		if ak {
			c = a.Modified.Compare(b.Modified)
		}
	default:
		c = compareNames(a, b)
	}
	if c != 0 {
		if dir == Descending {
			return -c
		}
		return c
	}
	if c = compareNames(a, b); c != 0 {
		return c
	}
	if c = strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

func compareNames(a, b Node) int {
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
