// Package clients provides the rate-limited HTTP client used to talk to the
// statistics API.
package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// RequestObserver is notified after every completed or failed request.
// status is zero when no response was received.
type RequestObserver func(host string, status int, duration time.Duration, err error)

// HTTPClient is a shared, rate-limited HTTP client. It is safe for concurrent use.
type HTTPClient struct {
	config      *HTTPConfig
	logger      *zap.Logger
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	observer    RequestObserver

	totalRequests  int64
	failedRequests int64
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	KeepAlive           time.Duration `json:"keep_alive"`

	// Rate limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	UserAgent string `json:"user_agent"`

	// Transport replaces the tuned transport, for tests and stubs.
	Transport http.RoundTripper `json:"-"`
}

// DefaultHTTPConfig returns the default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		EnableHTTP2:         true,
		DialTimeout:         30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		RequestTimeout:      90 * time.Second,
		KeepAlive:           30 * time.Second,
		RateLimit:           10,
		RateBurst:           5,
		UserAgent:           "statline",
	}
}

// HTTPStats is a snapshot of client counters.
type HTTPStats struct {
	TotalRequests  int64
	FailedRequests int64
}

// NewHTTPClient creates a new HTTP client. A nil config selects the defaults.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.RateBurst < 1 {
		config.RateBurst = 1
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
	}

	transport := config.Transport
	if transport == nil {
		t := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   config.DialTimeout,
				KeepAlive: config.KeepAlive,
			}).DialContext,
			MaxIdleConns:          config.MaxIdleConns,
			MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
			IdleConnTimeout:       config.IdleConnTimeout,
			TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}

		if config.EnableHTTP2 {
			if err := http2.ConfigureTransport(t); err != nil {
				client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
			}
		}
		transport = t
	}

	client.httpClient = &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	return client
}

// SetObserver installs a request observer. It must be called before the
// client is shared.
func (c *HTTPClient) SetObserver(observer RequestObserver) {
	c.observer = observer
}

// Get performs an HTTP GET request. The caller closes the response body.
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	return c.Do(req)
}

// GetBody performs a GET and returns the full body along with the status code.
// Non-2xx responses are not treated as errors here.
func (c *HTTPClient) GetBody(ctx context.Context, url string, headers map[string]string) ([]byte, int, error) {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Do performs an HTTP request after waiting on the rate limiter.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer(req.URL.Host, status, duration, err)
	}

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, err
	}

	c.logger.Debug("http request",
		zap.String("url", req.URL.String()),
		zap.Int("status", status),
		zap.Duration("duration", duration))

	return resp, nil
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	return HTTPStats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
	}
}
