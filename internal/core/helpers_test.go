package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/slmtnm/s4/internal/retry"
	"github.com/slmtnm/s4/internal/store"
)

var (
	fixtureTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	errDenied = store.NewError(store.KindAccessDenied, "test", "", errors.New("access denied"))
	errSlow   = store.NewError(store.KindTransient, "test", "", errors.New("slow down"))
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
		Multiplier:  2,
	}
}

// testLogger only records warnings so background goroutines finishing after
// the test do not write to a completed testing.T.
func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

func newTestSession(t *testing.T, m *store.Memory, opts ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		AggregateConcurrency: 4,
		ListWorkers:          4,
		Retry:                fastRetry(),
		EventBuffer:          1024,
		Logger:               testLogger(t),
	}
	for _, o := range opts {
		o(&cfg)
	}
	s := NewSession(m, cfg)
	t.Cleanup(s.Close)
	return s
}

// fixture builds:
//
//	b/top          50
//	b/a/1         100
//	b/a/2         200
//	b/a/sub/3     300
//	b/a/sub/deep/4 400
//	c/x            10
func fixture() *store.Memory {
	m := store.NewMemory(2)
	m.Put("b/top", 50, fixtureTime)
	m.Put("b/a/1", 100, fixtureTime)
	m.Put("b/a/2", 200, fixtureTime.Add(time.Hour))
	m.Put("b/a/sub/3", 300, fixtureTime)
	m.Put("b/a/sub/deep/4", 400, fixtureTime)
	m.Put("c/x", 10, fixtureTime)
	return m
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func childPaths(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Path
	}
	return out
}

// blockList makes listings of path wait until release is called. reached
// is closed once a listing of path started.
func blockList(t *testing.T, m *store.Memory, path string) (reached <-chan struct{}, release func()) {
	r := make(chan struct{})
	gate := make(chan struct{})
	var started, released sync.Once
	m.SetListHook(func(p, _ string) {
		if p != path {
			return
		}
		started.Do(func() { close(r) })
		<-gate
	})
	release = func() {
		released.Do(func() { close(gate) })
	}
	t.Cleanup(release)
	return r, release
}

// waitFor drains events until match accepts one.
func waitFor(t *testing.T, s *Session, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "event stream closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}
