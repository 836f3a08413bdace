package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slmtnm/s4/internal/store"
)

func TestEventsKeepFailuresAndCoalesceUpdates(t *testing.T) {
	e := NewEvents(1, zap.NewNop())
	t.Cleanup(e.close)

	for i := 0; i < 100; i++ {
		e.emit(ListingUpdated{Path: "b", Complete: i == 99})
		e.emit(LogMessage{Text: fmt.Sprint(i)})
	}

	var logs []string
	var listings []ListingUpdated
	timeout := time.After(5 * time.Second)
	for len(logs) < 100 || len(listings) == 0 || !listings[len(listings)-1].Complete {
		select {
		case ev := <-e.C():
			switch ev := ev.(type) {
			case LogMessage:
				logs = append(logs, ev.Text)
			case ListingUpdated:
				listings = append(listings, ev)
			}
		case <-timeout:
			t.Fatalf("got %d log lines and %d listing updates", len(logs), len(listings))
		}
	}
	for i, text := range logs {
		assert.Equal(t, fmt.Sprint(i), text)
	}
	assert.LessOrEqual(t, len(listings), 100)
}

func TestSlowConsumerStillSeesFailures(t *testing.T) {
	m := fixture()
	m.FailList("b/a/sub/deep/", errDenied)
	s := newTestSession(t, m, func(c *Config) { c.EventBuffer = 8 })

	agg := calculate(t, s.Engine, "b")
	require.True(t, agg.Failed)

	ev := waitFor(t, s, func(ev Event) bool {
		f, ok := ev.(OperationFailed)
		return ok && f.Path == "b/a/sub/deep/"
	})
	assert.Equal(t, store.KindAccessDenied, ev.(OperationFailed).Kind)
}

func TestCloseDiscardsQueuedEvents(t *testing.T) {
	e := NewEvents(1, zap.NewNop())
	for i := 0; i < 10; i++ {
		e.emit(LogMessage{Text: fmt.Sprint(i)})
	}
	e.close()
	e.emit(LogMessage{Text: "late"})

	n := 0
	for range e.C() {
		n++
	}
	assert.LessOrEqual(t, n, 2)
}
