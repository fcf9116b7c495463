package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/statline/pkg/testutil"
)

func TestHTTPClient_GetBody(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.UserAgent = "statline-test"
	client := NewHTTPClient(cfg, testutil.TestLogger(t))

	var observed int32
	client.SetObserver(func(host string, status int, d time.Duration, err error) {
		atomic.AddInt32(&observed, 1)
	})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	body, status, err := client.GetBody(ctx, srv.URL+"/ok", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "statline-test", agent.Load())

	_, status, err = client.GetBody(ctx, srv.URL+"/missing", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, int32(2), atomic.LoadInt32(&observed))
	assert.Equal(t, int64(2), client.GetStats().TotalRequests)
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	client := NewHTTPClient(cfg, testutil.TestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := client.GetBody(ctx, srv.URL, nil)
	require.NoError(t, err)

	_, _, err = client.GetBody(ctx, srv.URL, nil)
	assert.Error(t, err)
	assert.Equal(t, int64(1), client.GetStats().FailedRequests)
}
