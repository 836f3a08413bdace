package core

import (
	"sort"
	"sync"

	"github.com/slmtnm/s4/internal/store"
)

// Selection is the set of paths marked for a pending operation. Membership
// does not depend on sort order; paths leave the set when cleared, when a
// refresh proves them gone, or when they are deleted.
type Selection struct {
	valid func(path string) bool

	mu      sync.Mutex
	members map[string]struct{}
}

// NewSelection creates an empty selection. valid decides whether a path may
// be toggled; nil accepts everything.
func NewSelection(valid func(path string) bool) *Selection {
	return &Selection{valid: valid, members: make(map[string]struct{})}
}

// Toggle flips membership of path and reports whether it is now selected.
// It returns ErrNotVisible and changes nothing when path fails validation.
func (s *Selection) Toggle(path string) (bool, error) {
	if path == "" || (s.valid != nil && !s.valid(path)) {
		return false, ErrNotVisible
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[path]; ok {
		delete(s.members, path)
		return false, nil
	}
	s.members[path] = struct{}{}
	return true, nil
}

// Contains reports whether path is selected.
func (s *Selection) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[path]
	return ok
}

// Members returns the selected paths in lexical order.
func (s *Selection) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.members))
	for p := range s.members {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of selected paths.
func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.members)
}

// Prune drops paths and anything selected below them.
func (s *Selection) Prune(paths []string) {
	if len(paths) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.members, p)
		if store.TypeOf(p) == store.TypeObject {
			continue
		}
		for m := range s.members {
			if store.Within(m, p) {
				delete(s.members, m)
			}
		}
	}
}
