package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slmtnm/s4/internal/store"
)

func object(path string, size int64, modified time.Time) Node {
	return Node{Type: store.TypeObject, Path: path, Name: store.BaseName(path), Size: size, Modified: modified}
}

func dir(path string, agg SizeAggregate) Node {
	return Node{Type: store.TypeDirectory, Path: path, Name: store.BaseName(path), Aggregate: agg}
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func TestSortByNameIsIdempotentAndReversible(t *testing.T) {
	nodes := []Node{
		object("b/beta", 1, fixtureTime),
		dir("b/Gamma/", SizeAggregate{}),
		object("b/alpha", 1, fixtureTime),
		object("b/Alpha", 1, fixtureTime),
	}

	SortNodes(nodes, SortName, Ascending)
	assert.Equal(t, []string{"Alpha", "alpha", "beta", "Gamma"}, names(nodes))
	again := append([]Node(nil), nodes...)
	SortNodes(again, SortName, Ascending)
	assert.Equal(t, nodes, again)

	SortNodes(nodes, SortName, Descending)
	// ties keep name order
	assert.Equal(t, []string{"Gamma", "beta", "Alpha", "alpha"}, names(nodes))
}

func TestSortBySizeGroupsUnknownFirst(t *testing.T) {
	nodes := []Node{
		object("b/twenty", 20, fixtureTime),
		dir("b/known/", SizeAggregate{State: SizeKnown, TotalBytes: 10, Complete: true}),
		dir("b/pending/", SizeAggregate{State: SizeComputing, TotalBytes: 500}),
		object("b/five", 5, fixtureTime),
		dir("b/unknown/", SizeAggregate{}),
	}

	SortNodes(nodes, SortSize, Ascending)
	assert.Equal(t, []string{"pending", "unknown", "five", "known", "twenty"}, names(nodes))

	SortNodes(nodes, SortSize, Descending)
	assert.Equal(t, []string{"pending", "unknown", "twenty", "known", "five"}, names(nodes))
}

func TestSortByModifiedFallsBackToName(t *testing.T) {
	nodes := []Node{
		object("b/late", 1, fixtureTime.Add(time.Hour)),
		object("b/b-early", 1, fixtureTime),
		object("b/a-early", 1, fixtureTime),
		dir("b/dir/", SizeAggregate{}),
	}

	SortNodes(nodes, SortModified, Ascending)
	assert.Equal(t, []string{"dir", "a-early", "b-early", "late"}, names(nodes))

	SortNodes(nodes, SortModified, Descending)
	assert.Equal(t, []string{"dir", "late", "a-early", "b-early"}, names(nodes))
}

func TestOrderedChildrenMemoizedPerVersion(t *testing.T) {
	m := fixture()
	c := newTestCache(t, m)
	idx := NewSortIndex(c)
	require.NoError(t, c.Ensure(ctxT(t), "b/a/"))

	first, listed := idx.OrderedChildren("b/a/", SortName, Ascending)
	require.True(t, listed)
	assert.Equal(t, []string{"1", "2", "sub"}, names(first))
	second, _ := idx.OrderedChildren("b/a/", SortName, Ascending)
	assert.Same(t, &first[0], &second[0])

	desc, _ := idx.OrderedChildren("b/a/", SortName, Descending)
	assert.Equal(t, []string{"sub", "2", "1"}, names(desc))

	m.Put("b/a/0", 1, fixtureTime)
	require.NoError(t, c.Refresh(ctxT(t), "b/a/"))
	third, _ := idx.OrderedChildren("b/a/", SortName, Ascending)
	assert.Equal(t, []string{"0", "1", "2", "sub"}, names(third))
}

func TestOrderedChildrenAfterEntryRecreated(t *testing.T) {
	m := fixture()
	c := newTestCache(t, m)
	idx := NewSortIndex(c)
	require.NoError(t, c.Ensure(ctxT(t), "b/a/sub/deep/"))
	before, _ := idx.OrderedChildren("b/a/sub/deep/", SortSize, Ascending)
	require.Len(t, before, 1)
	assert.Equal(t, int64(400), before[0].Size)

	for _, p := range []string{"b/a/1", "b/a/2", "b/a/sub/3", "b/a/sub/deep/4"} {
		m.Remove(p)
	}
	require.NoError(t, c.Refresh(ctxT(t), "b"))
	_, ok := c.Lookup("b/a/sub/deep/")
	require.False(t, ok, "subtree pruned")

	m.Put("b/a/sub/deep/4", 999, fixtureTime)
	require.NoError(t, c.Ensure(ctxT(t), "b/a/sub/deep/"))
	after, listed := idx.OrderedChildren("b/a/sub/deep/", SortSize, Ascending)
	require.True(t, listed)
	require.Len(t, after, 1)
	assert.Equal(t, int64(999), after[0].Size)
}

func TestCycleSortFlipsDirectionOnWrap(t *testing.T) {
	s := newTestSession(t, fixture())

	steps := []struct {
		key SortKey
		dir SortDirection
	}{
		{SortSize, Ascending},
		{SortModified, Ascending},
		{SortName, Descending},
		{SortSize, Descending},
	}
	for _, want := range steps {
		key, dir := s.CycleSort()
		assert.Equal(t, want.key, key)
		assert.Equal(t, want.dir, dir)
	}
}
