// Package odata talks to the statistics agency's OData API. It hides the
// differences between the v3 and v4 dialects behind Adapter and exposes
// dataset discovery and page retrieval on top of a rate-limited client.
package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Version is an OData protocol major version.
type Version string

const (
	V3 Version = "v3"
	V4 Version = "v4"
)

// PageStrategy selects how a Main table is paginated.
type PageStrategy int

const (
	// OffsetPages pre-computes every page URL from the advertised row count.
	OffsetPages PageStrategy = iota
	// FollowCursor requests the base URL and follows next links until none is returned.
	FollowCursor
)

func (s PageStrategy) String() string {
	if s == FollowCursor {
		return "follow_cursor"
	}
	return "offset_pages"
}

// Endpoints are the API hosts, without trailing slashes.
type Endpoints struct {
	V3           string
	V3ThirdParty string
	V4           string
}

// MetadataKeys names the dataset metadata fields a dialect uses.
type MetadataKeys struct {
	Description string
	Modified    string
	RowCount    string
	ColumnCount string
}

// Adapter captures everything that differs between the two dialects.
type Adapter interface {
	Version() Version
	// ManifestURL lists the tables of a dataset.
	ManifestURL(datasetID string) string
	// MetadataURL returns the dataset-level metadata document.
	MetadataURL(datasetID string) string
	// SchemaURL returns the type description document, if the dialect has a usable one.
	SchemaURL(datasetID string) (string, bool)
	// TableURL turns a manifest entry's url into the table's base request URL.
	TableURL(datasetID, raw string) string
	// PageURLs pre-computes ceil(rowCount/PageRowLimit) page URLs from baseURL.
	PageURLs(baseURL string, rowCount int64) []string
	NextCursorField() string
	PageRowLimit() int64
	Strategy() PageStrategy
	MainTableName() string
	MetadataKeys() MetadataKeys
}

// NewAdapter returns the adapter for v. Third-party datasets exist only in v3.
func NewAdapter(v Version, endpoints Endpoints, thirdParty bool) (Adapter, error) {
	switch v {
	case V3:
		base := endpoints.V3
		if thirdParty {
			base = endpoints.V3ThirdParty
		}
		return &v3Adapter{base: strings.TrimRight(base, "/")}, nil
	case V4:
		if thirdParty {
			return nil, fmt.Errorf("third-party datasets have no v4 endpoint")
		}
		return &v4Adapter{base: strings.TrimRight(endpoints.V4, "/")}, nil
	default:
		return nil, fmt.Errorf("unknown odata version %q", v)
	}
}

const (
	v3PageRowLimit = 10000
	v4PageRowLimit = 100000
)

type v3Adapter struct {
	base string
}

func (a *v3Adapter) Version() Version { return V3 }

func (a *v3Adapter) ManifestURL(datasetID string) string {
	return a.base + "/ODataFeed/odata/" + datasetID + "?$format=json"
}

func (a *v3Adapter) MetadataURL(datasetID string) string {
	filter := strings.ReplaceAll(url.QueryEscape("Identifier eq '"+datasetID+"'"), "+", "%20")
	return a.base + "/ODataCatalog/Tables?$format=json&$filter=" + filter
}

func (a *v3Adapter) SchemaURL(datasetID string) (string, bool) {
	return a.base + "/ODataFeed/odata/" + datasetID + "/$metadata", true
}

func (a *v3Adapter) TableURL(_, raw string) string {
	return appendQuery(raw, "$format=json")
}

func (a *v3Adapter) PageURLs(baseURL string, rowCount int64) []string {
	return offsetPageURLs(baseURL, rowCount, v3PageRowLimit)
}

func (a *v3Adapter) NextCursorField() string { return "odata.nextLink" }
func (a *v3Adapter) PageRowLimit() int64     { return v3PageRowLimit }
func (a *v3Adapter) Strategy() PageStrategy  { return OffsetPages }
func (a *v3Adapter) MainTableName() string   { return "TypedDataSet" }

func (a *v3Adapter) MetadataKeys() MetadataKeys {
	return MetadataKeys{
		Description: "ShortDescription",
		Modified:    "Modified",
		RowCount:    "RecordCount",
		ColumnCount: "ColumnCount",
	}
}

type v4Adapter struct {
	base string
}

func (a *v4Adapter) Version() Version { return V4 }

func (a *v4Adapter) ManifestURL(datasetID string) string {
	return a.base + "/CBS/" + datasetID
}

func (a *v4Adapter) MetadataURL(datasetID string) string {
	return a.base + "/CBS/" + datasetID + "/Properties"
}

// SchemaURL is unavailable: v4 observations are long-format and typed per measure.
func (a *v4Adapter) SchemaURL(string) (string, bool) {
	return "", false
}

// TableURL resolves manifest entries, which are relative to the dataset root.
func (a *v4Adapter) TableURL(datasetID, raw string) string {
	ref, err := url.Parse(raw)
	if err == nil && ref.IsAbs() {
		return raw
	}
	root, err := url.Parse(a.ManifestURL(datasetID) + "/")
	if err != nil || ref == nil {
		return a.ManifestURL(datasetID) + "/" + strings.TrimLeft(raw, "/")
	}
	return root.ResolveReference(ref).String()
}

func (a *v4Adapter) PageURLs(baseURL string, rowCount int64) []string {
	return offsetPageURLs(baseURL, rowCount, v4PageRowLimit)
}

func (a *v4Adapter) NextCursorField() string { return "@odata.nextLink" }
func (a *v4Adapter) PageRowLimit() int64     { return v4PageRowLimit }
func (a *v4Adapter) Strategy() PageStrategy  { return FollowCursor }
func (a *v4Adapter) MainTableName() string   { return "Observations" }

func (a *v4Adapter) MetadataKeys() MetadataKeys {
	return MetadataKeys{
		Description: "Description",
		Modified:    "Modified",
		RowCount:    "ObservationCount",
	}
}

// offsetPageURLs returns ceil(rowCount/limit) URLs: the base URL followed by
// $skip windows of limit rows.
func offsetPageURLs(baseURL string, rowCount, limit int64) []string {
	if rowCount <= 0 {
		return nil
	}
	n := (rowCount + limit - 1) / limit
	urls := make([]string, 0, n)
	urls = append(urls, baseURL)
	for i := int64(1); i < n; i++ {
		urls = append(urls, appendQuery(baseURL, "$skip="+strconv.FormatInt(i*limit, 10)))
	}
	return urls
}

func appendQuery(u, param string) string {
	if strings.Contains(u, "?") {
		return u + "&" + param
	}
	return u + "?" + param
}
