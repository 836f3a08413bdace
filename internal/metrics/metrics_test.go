package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")))
}

func TestRecordStoreOperation(t *testing.T) {
	ok := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("list", "success"))
	failed := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("list", "error"))

	RecordStoreOperation("list", 10*time.Millisecond, true)
	RecordStoreOperation("list", time.Millisecond, false)

	assert.Equal(t, ok+1, testutil.ToFloat64(storeOperationsTotal.WithLabelValues("list", "success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(storeOperationsTotal.WithLabelValues("list", "error")))
}

func TestWalkAndDeletionCounters(t *testing.T) {
	partial := testutil.ToFloat64(walksTotal.WithLabelValues("partial"))
	deleted := testutil.ToFloat64(deletedObjectsTotal.WithLabelValues("success"))
	rejected := testutil.ToFloat64(deletedObjectsTotal.WithLabelValues("error"))

	RecordWalk("partial")
	AddActiveWalks(2)
	AddActiveWalks(-2)
	RecordDeletedObjects(998, 2)
	SetCacheNodes(42)

	assert.Equal(t, partial+1, testutil.ToFloat64(walksTotal.WithLabelValues("partial")))
	assert.Zero(t, testutil.ToFloat64(walksActive))
	assert.Equal(t, deleted+998, testutil.ToFloat64(deletedObjectsTotal.WithLabelValues("success")))
	assert.Equal(t, rejected+2, testutil.ToFloat64(deletedObjectsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(42), testutil.ToFloat64(cacheNodes))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordListingPage()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "s4_listing_pages_total")
	assert.Contains(t, rec.Body.String(), "s4_cache_lookups_total")
}
