package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleIsInvolutory(t *testing.T) {
	sel := NewSelection(nil)
	require.NoError(t, toggle(sel, "b/a/"))

	before := sel.Members()
	for _, p := range []string{"b/x", "b/a/", "c"} {
		require.NoError(t, toggle(sel, p))
		require.NoError(t, toggle(sel, p))
		assert.Equal(t, before, sel.Members(), "after toggling %s twice", p)
	}
}

func toggle(sel *Selection, path string) error {
	_, err := sel.Toggle(path)
	return err
}

func TestToggleRejectsInvalidPaths(t *testing.T) {
	sel := NewSelection(func(p string) bool { return p == "b/ok" })

	on, err := sel.Toggle("b/ok")
	require.NoError(t, err)
	assert.True(t, on)

	_, err = sel.Toggle("b/elsewhere")
	assert.ErrorIs(t, err, ErrNotVisible)
	_, err = sel.Toggle("")
	assert.ErrorIs(t, err, ErrNotVisible)
	assert.Equal(t, []string{"b/ok"}, sel.Members())
}

func TestPruneDropsDescendants(t *testing.T) {
	sel := NewSelection(nil)
	for _, p := range []string{"b/a/", "b/a/x", "b/ab", "c/y"} {
		require.NoError(t, toggle(sel, p))
	}

	sel.Prune([]string{"b/a/"})
	assert.Equal(t, []string{"b/ab", "c/y"}, sel.Members())

	sel.Prune([]string{"c"})
	assert.Equal(t, []string{"b/ab"}, sel.Members())

	sel.Clear()
	assert.Zero(t, sel.Len())
}

func TestSelectionSurvivesSortAndRefresh(t *testing.T) {
	m := fixture()
	s := newTestSession(t, m)
	require.NoError(t, s.Navigate("b"))
	require.NoError(t, s.Cache.Ensure(ctxT(t), "b"))

	on, err := s.Toggle("b/top")
	require.NoError(t, err)
	require.True(t, on)

	s.CycleSort()
	require.NoError(t, s.Refresh(ctxT(t)))
	assert.Equal(t, []string{"b/top"}, s.Selection.Members())

	m.Remove("b/top")
	require.NoError(t, s.Refresh(ctxT(t)))
	assert.Empty(t, s.Selection.Members(), "pruned once the refresh proves it gone")
}

func TestToggleOutsideViewport(t *testing.T) {
	s := newTestSession(t, fixture())
	require.NoError(t, s.Navigate("b"))
	require.NoError(t, s.Cache.Ensure(ctxT(t), "b"))

	_, err := s.Toggle("c/x")
	assert.ErrorIs(t, err, ErrNotVisible)
	_, err = s.Toggle("b/missing")
	assert.ErrorIs(t, err, ErrNotVisible)
	assert.Zero(t, s.Selection.Len())
}
