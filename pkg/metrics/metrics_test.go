package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.PageStaged("v3", "main", 10000)
	c.PageStaged("v3", "main", 4128)
	c.TableDone("converted")
	c.DatasetDone("published")
	c.ObserveRequest("opendata.cbs.nl", 200, 120*time.Millisecond, nil)
	c.ObserveStage("Fetching", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pages.WithLabelValues("v3", "main")))
	assert.Equal(t, 14128.0, testutil.ToFloat64(c.rows.WithLabelValues("v3", "main")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tables.WithLabelValues("converted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.datasets.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("opendata.cbs.nl", "200")))
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	c.PageStaged("v4", "main", 1)
	c.DatasetDone("failed")
	assert.NoError(t, c.Push(context.Background(), "http://unused", "statline"))
}

func TestCollector_Push(t *testing.T) {
	var pushed int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pushed, 1)
		assert.Contains(t, r.URL.Path, "/metrics/job/statline")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCollector(prometheus.NewRegistry())
	c.DatasetDone("skipped")

	require.NoError(t, c.Push(context.Background(), srv.URL, "statline"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&pushed))
}
