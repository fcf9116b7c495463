package odata

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/statline/pkg/clients"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// Page is one response of a paginated table.
type Page struct {
	Records []gojson.RawMessage
	// Next is the continuation link, empty on the last page.
	Next string
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Client issues OData requests. It is safe for concurrent use.
type Client struct {
	http   *clients.HTTPClient
	logger *zap.Logger
}

// NewClient wraps a shared HTTP client.
func NewClient(httpClient *clients.HTTPClient, logger *zap.Logger) *Client {
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "odata_client")),
	}
}

var jsonHeaders = map[string]string{"Accept": "application/json"}

// Probe returns the status code of a GET. Transport errors are returned as is.
func (c *Client) Probe(ctx context.Context, url string) (int, error) {
	resp, err := c.http.Get(ctx, url, jsonHeaders)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// GetRaw returns the body of a successful GET.
func (c *Client) GetRaw(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if headers == nil {
		headers = jsonHeaders
	}
	body, status, err := c.http.GetBody(ctx, url, headers)
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "request failed").
			WithDetail("url", url)
	}
	if status != http.StatusOK {
		errType := statlineerrors.ErrorTypeConnection
		if status == http.StatusNotFound {
			errType = statlineerrors.ErrorTypeNotFound
		}
		return nil, statlineerrors.Wrap(&StatusError{URL: url, StatusCode: status}, errType, "unexpected response").
			WithDetail("status", status)
	}
	return body, nil
}

// GetJSON decodes the body of a successful GET into v.
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	body, err := c.GetRaw(ctx, url, nil)
	if err != nil {
		return err
	}
	if err := gojson.Unmarshal(body, v); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "malformed JSON response").
			WithDetail("url", url)
	}
	return nil
}

// FetchPage retrieves one page. A missing or null "value" is an empty page.
func (c *Client) FetchPage(ctx context.Context, url, cursorField string) (*Page, error) {
	body, err := c.GetRaw(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return DecodePage(body, cursorField)
}

// DecodePage parses a page body.
func DecodePage(body []byte, cursorField string) (*Page, error) {
	var envelope map[string]gojson.RawMessage
	if err := gojson.Unmarshal(body, &envelope); err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "malformed page")
	}

	page := &Page{}
	if raw, ok := envelope["value"]; ok && !isNull(raw) {
		if err := gojson.Unmarshal(raw, &page.Records); err != nil {
			return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "page value is not an array")
		}
	}

	if raw, ok := envelope[cursorField]; ok && !isNull(raw) {
		if err := gojson.Unmarshal(raw, &page.Next); err != nil {
			return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "next link is not a string").
				WithDetail("field", cursorField)
		}
	}

	return page, nil
}

func isNull(raw []byte) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
