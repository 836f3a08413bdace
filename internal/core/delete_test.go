package core

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slmtnm/s4/internal/store"
)

// browse opens path and waits for its listing.
func browse(t *testing.T, s *Session, path string) {
	t.Helper()
	require.NoError(t, s.Navigate(path))
	require.NoError(t, s.Cache.Ensure(ctxT(t), path))
}

func TestDeleteDirectoryPlanExecuteReconcile(t *testing.T) {
	m := store.NewMemory(0)
	m.Put("b/x/dir/one", 500, fixtureTime)
	m.Put("b/x/dir/two", 500, fixtureTime)
	m.Put("b/x/dir/nested/three", 500, fixtureTime)
	m.Put("b/x/keep", 7, fixtureTime)
	s := newTestSession(t, m)

	calculate(t, s.Engine, "b")
	browse(t, s, "b/x/")
	_, err := s.Toggle("b/x/dir/")
	require.NoError(t, err)

	plan, err := s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, DeletionAwaitingConfirmation, plan.State)
	assert.True(t, plan.Accurate)
	assert.Equal(t, uint64(3), plan.TotalCount)
	assert.Equal(t, uint64(1500), plan.TotalBytes)
	assert.Equal(t, "1.5 KiB in 3 objects", plan.Totals())
	for _, k := range plan.Keys {
		assert.False(t, strings.HasSuffix(k.Key, "/"), "prefix submitted as key")
	}
	assert.Equal(t, ModeConfirmingDeletion, s.Mode())

	done, err := s.ConfirmDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, DeletionDone, done.State)
	assert.Equal(t, 3, done.Deleted)
	assert.Empty(t, done.Failures)
	assert.Equal(t, ModeBrowsing, s.Mode())

	for _, p := range []string{"b/x/dir/one", "b/x/dir/two", "b/x/dir/nested/three"} {
		assert.False(t, m.Exists(p), p)
	}
	assert.True(t, m.Exists("b/x/keep"))

	children, listed := s.Cache.ChildrenOf("b/x/dir/")
	assert.True(t, listed)
	assert.Empty(t, children)
	_, ok := s.Cache.Lookup("b/x/dir/nested/")
	assert.False(t, ok)

	for _, ancestor := range []string{"b/x/", "b"} {
		n, ok := s.Cache.Lookup(ancestor)
		require.True(t, ok)
		assert.False(t, n.Aggregate.Complete, ancestor)
		assert.Equal(t, SizeKnown, n.Aggregate.State, "kept as a stale value, not decremented")
	}
	n, _ := s.Cache.Lookup("b/x/")
	assert.Equal(t, uint64(1507), n.Aggregate.TotalBytes)

	assert.Empty(t, s.Selection.Members())
}

func TestDeleteEmptySelectionIsRejected(t *testing.T) {
	s := newTestSession(t, fixture())

	_, err := s.RequestDelete(ctxT(t))
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.Equal(t, DeletionIdle, s.Deletion.State())
	assert.Equal(t, ModeBrowsing, s.Mode())

	ev := waitFor(t, s, func(ev Event) bool { _, ok := ev.(LogMessage); return ok })
	assert.Contains(t, ev.(LogMessage).Text, "Nothing selected")
}

func TestDeleteBatchesAndRetriesIndividually(t *testing.T) {
	m := store.NewMemory(0)
	for i := 0; i < 5; i++ {
		m.Put(fmt.Sprintf("b/d/k%d", i), 10, fixtureTime)
	}
	m.FailBatch(errDenied)
	m.FailDelete("b/d/k3", errDenied, errDenied)
	s := newTestSession(t, m, func(c *Config) { c.DeleteBatchSize = 2 })
	assert.Equal(t, 2, s.Deletion.BatchSize())

	browse(t, s, "b")
	_, err := s.Toggle("b/d/")
	require.NoError(t, err)
	_, err = s.RequestDelete(ctxT(t))
	require.NoError(t, err)

	done, err := s.ConfirmDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, DeletionDone, done.State)
	assert.Equal(t, 4, done.Deleted)
	require.Len(t, done.Failures, 1)
	assert.Equal(t, "b/d/k3", done.Failures[0].Key.Path())
	assert.Equal(t, store.KindAccessDenied, store.KindOf(done.Failures[0].Err))

	// three batches, then k0, k1 (failed batch) and k3 one by one
	assert.Equal(t, 6, m.DeleteCalls())
	assert.True(t, m.Exists("b/d/k3"))

	children, _ := s.Cache.ChildrenOf("b/d/")
	assert.Equal(t, []string{"b/d/k3"}, childPaths(children))
	assert.Equal(t, []string{"b/d/"}, s.Selection.Members(), "partially deleted target stays selected")

	var progress []int
	for len(progress) < 4 {
		ev := waitFor(t, s, func(ev Event) bool { _, ok := ev.(DeletionProgress); return ok })
		progress = append(progress, ev.(DeletionProgress).Done)
	}
	assert.Equal(t, []int{0, 1, 2, 4}, progress)
}

func TestDeleteExpansionFailureReportsNA(t *testing.T) {
	m := fixture()
	m.Put("b/locked/secret", 1, fixtureTime)
	s := newTestSession(t, m)
	browse(t, s, "b")
	m.FailList("b/locked/", errDenied)

	for _, p := range []string{"b/a/", "b/locked/"} {
		_, err := s.Toggle(p)
		require.NoError(t, err)
	}
	plan, err := s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, DeletionAwaitingConfirmation, plan.State)
	assert.False(t, plan.Accurate)
	assert.Equal(t, "N/A", plan.Totals())
	require.Len(t, plan.ExpandFailures, 1)
	assert.Equal(t, "b/locked/", plan.ExpandFailures[0].Path)

	require.NoError(t, s.CancelDelete())
	assert.Equal(t, DeletionIdle, s.Deletion.State())
	_, err = s.ConfirmDelete(ctxT(t))
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.True(t, m.Exists("b/a/1"))
}

func TestDeleteUnreachableTargetsFail(t *testing.T) {
	m := fixture()
	s := newTestSession(t, m)
	browse(t, s, "b")
	m.FailList("b/a/", errDenied)

	_, err := s.Toggle("b/a/")
	require.NoError(t, err)
	plan, err := s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, DeletionFailed, plan.State)
	assert.Equal(t, ModeBrowsing, s.Mode())
	assert.Zero(t, m.DeleteCalls())

	// a failed plan does not block the next request
	plan, err = s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, DeletionAwaitingConfirmation, plan.State)
}

func TestDeleteBucketContentsKeepsBucket(t *testing.T) {
	m := fixture()
	s := newTestSession(t, m)
	browse(t, s, "")
	_, err := s.Toggle("b")
	require.NoError(t, err)

	plan, err := s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), plan.TotalCount)
	assert.Equal(t, uint64(1050), plan.TotalBytes)

	_, err = s.ConfirmDelete(ctxT(t))
	require.NoError(t, err)
	_, ok := s.Cache.Lookup("b")
	assert.True(t, ok)
	children, _ := s.Cache.ChildrenOf("b")
	assert.Empty(t, children)
	assert.True(t, m.Exists("c/x"))
}

func TestDeleteSingleObjectAndOverlap(t *testing.T) {
	m := fixture()
	s := newTestSession(t, m)
	browse(t, s, "b/a/")
	for _, p := range []string{"b/a/1", "b/a/sub/"} {
		_, err := s.Toggle(p)
		require.NoError(t, err)
	}

	plan, err := s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	var keys []string
	for _, k := range plan.Keys {
		keys = append(keys, k.Path())
	}
	assert.Equal(t, []string{"b/a/1", "b/a/sub/3", "b/a/sub/deep/4"}, keys)

	_, err = s.ConfirmDelete(ctxT(t))
	require.NoError(t, err)
	children, _ := s.Cache.ChildrenOf("b/a/")
	assert.Equal(t, []string{"b/a/2", "b/a/sub/"}, childPaths(children))
}

func TestDeleteCancelsOverlappingWalk(t *testing.T) {
	m := fixture()
	m.Put("b/slow/x", 1, fixtureTime)
	s := newTestSession(t, m)
	browse(t, s, "b")
	reached, release := blockList(t, m, "b/slow/")

	w, err := s.Engine.Calculate("b")
	require.NoError(t, err)
	<-reached
	_, err = s.Toggle("b/top")
	require.NoError(t, err)

	go func() {
		<-w.Done()
		release()
	}()
	plan, err := s.RequestDelete(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), plan.TotalCount)

	_, err = w.Wait(ctxT(t))
	assert.ErrorIs(t, err, context.Canceled)
}
