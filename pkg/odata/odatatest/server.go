// Package odatatest provides an in-process fake of the statistics API for
// tests. It serves the v3 feed, v3 catalog and $metadata documents, and the
// v4 dataset root, properties and cursor-paged tables.
package odatatest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/statline/pkg/odata"
)

const (
	v3Prefix           = "/v3"
	v3ThirdPartyPrefix = "/v3tp"
	v4Prefix           = "/v4"
	v3PageSize         = 10000
	v4PageSize         = 100000
)

// Dataset is one dataset served by the fake.
type Dataset struct {
	ID         string
	Version    odata.Version
	ThirdParty bool
	// Metadata is the catalog record (v3) or the Properties document (v4).
	Metadata map[string]interface{}
	// Tables maps table names to rows. Every table is listed in the manifest.
	Tables map[string][]map[string]interface{}
	// Schema is served as the Main table's entity type in $metadata (v3).
	Schema []odata.Property
	// PageSize overrides the server-side page size for cursor pagination.
	PageSize int
	// Fail maps a table name to the status code its requests fail with.
	Fail map[string]int
	// NullValue tables answer with {"value": null}.
	NullValue map[string]bool
	// CatalogMatches repeats the v3 catalog record; zero means one.
	CatalogMatches int
}

// Server is the fake API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	datasets map[string]*Dataset
	requests map[string]int
}

// NewServer starts a fake serving datasets. It is closed when the test ends.
func NewServer(t testing.TB, datasets ...*Dataset) *Server {
	s := &Server{
		datasets: make(map[string]*Dataset),
		requests: make(map[string]int),
	}
	for _, ds := range datasets {
		s.Put(ds)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Put adds or replaces a dataset.
func (s *Server) Put(ds *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[key(ds.Version, ds.ThirdParty, ds.ID)] = ds
}

// Endpoints returns the hosts to configure an odata client with.
func (s *Server) Endpoints() odata.Endpoints {
	return odata.Endpoints{
		V3:           s.URL + v3Prefix,
		V3ThirdParty: s.URL + v3ThirdPartyPrefix,
		V4:           s.URL + v4Prefix,
	}
}

// TableRequests counts requests made for one table of a dataset.
func (s *Server) TableRequests(datasetID, table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for path, count := range s.requests {
		if strings.HasSuffix(path, "/"+datasetID+"/"+table) {
			n += count
		}
	}
	return n
}

// TotalTableRequests counts requests for any table of a dataset, excluding
// manifest, metadata and schema requests.
func (s *Server) TotalTableRequests(datasetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for path, count := range s.requests {
		i := strings.Index(path, "/"+datasetID+"/")
		if i < 0 {
			continue
		}
		rest := path[i+len(datasetID)+2:]
		if rest == "$metadata" || rest == "Properties" {
			continue
		}
		n += count
	}
	return n
}

func key(v odata.Version, thirdParty bool, id string) string {
	return fmt.Sprintf("%s/%t/%s", v, thirdParty, id)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	s.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, v3ThirdPartyPrefix+"/"):
		s.handleV3(w, r, true, strings.TrimPrefix(path, v3ThirdPartyPrefix))
	case strings.HasPrefix(path, v3Prefix+"/"):
		s.handleV3(w, r, false, strings.TrimPrefix(path, v3Prefix))
	case strings.HasPrefix(path, v4Prefix+"/CBS/"):
		s.handleV4(w, r, strings.TrimPrefix(path, v4Prefix+"/CBS/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) lookup(v odata.Version, thirdParty bool, id string) *Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasets[key(v, thirdParty, id)]
}

func (s *Server) handleV3(w http.ResponseWriter, r *http.Request, thirdParty bool, path string) {
	prefix := v3Prefix
	if thirdParty {
		prefix = v3ThirdPartyPrefix
	}

	if path == "/ODataCatalog/Tables" {
		id := parseIdentifierFilter(r.URL.Query().Get("$filter"))
		records := []map[string]interface{}{}
		if ds := s.lookup(odata.V3, thirdParty, id); ds != nil {
			n := ds.CatalogMatches
			if n == 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				records = append(records, ds.Metadata)
			}
		}
		writeJSON(w, map[string]interface{}{"value": records})
		return
	}

	rest, ok := strings.CutPrefix(path, "/ODataFeed/odata/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, table, _ := strings.Cut(rest, "/")
	ds := s.lookup(odata.V3, thirdParty, id)
	if ds == nil {
		http.NotFound(w, r)
		return
	}

	switch table {
	case "":
		entries := make([]map[string]string, 0, len(ds.Tables))
		for _, name := range tableNames(ds) {
			entries = append(entries, map[string]string{
				"name": name,
				"url":  s.URL + prefix + "/ODataFeed/odata/" + id + "/" + name,
			})
		}
		writeJSON(w, map[string]interface{}{"value": entries})
	case "$metadata":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(EDMX("TypedDataSet", ds.Schema)))
	default:
		base := s.URL + prefix + "/ODataFeed/odata/" + id + "/" + table + "?$format=json"
		s.serveTable(w, r, ds, table, v3PageSize, "odata.nextLink", base)
	}
}

func (s *Server) handleV4(w http.ResponseWriter, r *http.Request, path string) {
	id, table, _ := strings.Cut(path, "/")
	ds := s.lookup(odata.V4, false, id)
	if ds == nil {
		http.NotFound(w, r)
		return
	}

	switch table {
	case "":
		entries := []map[string]string{{"name": "Properties", "url": "Properties"}}
		for _, name := range tableNames(ds) {
			entries = append(entries, map[string]string{"name": name, "url": name})
		}
		writeJSON(w, map[string]interface{}{"value": entries})
	case "Properties":
		writeJSON(w, ds.Metadata)
	default:
		size := ds.PageSize
		if size == 0 {
			size = v4PageSize
		}
		base := s.URL + v4Prefix + "/CBS/" + id + "/" + table
		s.serveTable(w, r, ds, table, size, "@odata.nextLink", base)
	}
}

func (s *Server) serveTable(w http.ResponseWriter, r *http.Request, ds *Dataset, table string, pageSize int, cursorField, base string) {
	if code, ok := ds.Fail[table]; ok {
		http.Error(w, "injected failure", code)
		return
	}
	rows, ok := ds.Tables[table]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if ds.NullValue[table] {
		writeJSON(w, map[string]interface{}{"value": nil})
		return
	}

	skip := 0
	if v := r.URL.Query().Get("$skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "bad $skip", http.StatusBadRequest)
			return
		}
		skip = n
	}

	start := min(skip, len(rows))
	end := min(start+pageSize, len(rows))
	body := map[string]interface{}{"value": rows[start:end]}
	if end < len(rows) {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		body[cursorField] = base + sep + "$skip=" + strconv.Itoa(end)
	}
	writeJSON(w, body)
}

func tableNames(ds *Dataset) []string {
	names := make([]string, 0, len(ds.Tables))
	for name := range ds.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseIdentifierFilter(filter string) string {
	const prefix = "Identifier eq '"
	rest, ok := strings.CutPrefix(strings.TrimSpace(filter), prefix)
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "'")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body, err := gojson.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

// EDMX renders a minimal $metadata document with one entity type.
func EDMX(entityType string, props []odata.Property) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">`)
	b.WriteString(`<edmx:DataServices m:DataServiceVersion="3.0" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">`)
	b.WriteString(`<Schema Namespace="Cbs.OData" xmlns="http://schemas.microsoft.com/ado/2009/11/edm">`)
	fmt.Fprintf(&b, `<EntityType Name="%s"><Key><PropertyRef Name="ID"/></Key>`, entityType)
	for _, p := range props {
		fmt.Fprintf(&b, `<Property Name="%s" Type="%s"/>`, p.Name, p.Type)
	}
	b.WriteString(`</EntityType></Schema></edmx:DataServices></edmx:Edmx>`)
	return b.String()
}

// Rows generates n rows from fn, for large synthetic tables.
func Rows(n int, fn func(i int) map[string]interface{}) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = fn(i)
	}
	return rows
}
