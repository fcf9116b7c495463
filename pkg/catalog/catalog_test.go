package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

func TestApplyDescriptions(t *testing.T) {
	s := bigquery.Schema{
		{Name: "ID", Type: bigquery.IntegerFieldType},
		{Name: "Perioden", Type: bigquery.StringFieldType, Description: "old"},
		{Name: "Unit_Label", Type: bigquery.StringFieldType},
		{Name: "Bevolking_1", Type: bigquery.FloatFieldType},
	}

	out, n := applyDescriptions(s, map[string]string{
		"Perioden":    "Perioden",
		"Unit.Label":  "Eenheid",
		"Bevolking_1": "",
		"Unknown":     "ignored",
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, "", out[0].Description)
	assert.Equal(t, "Perioden", out[1].Description)
	assert.Equal(t, "Eenheid", out[2].Description)
	assert.Equal(t, "", out[3].Description)

	// The input is not modified.
	assert.Equal(t, "old", s[1].Description)
	assert.Equal(t, "", s[2].Description)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusNotFound})))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestRefs(t *testing.T) {
	ds := DatasetRef{Project: "p", Dataset: "cbs_v3_83583NED"}
	assert.Equal(t, "p.cbs_v3_83583NED", ds.String())
	assert.Equal(t, "p.cbs_v3_83583NED.TypedDataSet", TableRef{DatasetRef: ds, Table: "TypedDataSet"}.String())
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()
	ref := DatasetRef{Project: "p", Dataset: "d"}

	exists, err := c.DatasetExists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, exists)

	require.Error(t, c.CreateExternalTable(ctx, TableRef{DatasetRef: ref, Table: "t"}, nil))

	require.NoError(t, c.CreateDataset(ctx, ref, "desc", "EU"))
	require.Error(t, c.CreateDataset(ctx, ref, "desc", "EU"))
	require.NoError(t, c.CreateExternalTable(ctx, TableRef{DatasetRef: ref, Table: "t"}, []string{"gs://b/k"}))
	require.NoError(t, c.UpdateTableSchema(ctx, TableRef{DatasetRef: ref, Table: "t"}, map[string]string{"a": "b"}))

	ds := c.Dataset(ref)
	require.NotNil(t, ds)
	assert.Equal(t, "EU", ds.Location)
	assert.Equal(t, []string{"gs://b/k"}, ds.Tables["t"].SourceURIs)
	assert.Equal(t, map[string]string{"a": "b"}, ds.Tables["t"].Descriptions)

	c.FailTables = map[string]bool{"u": true}
	require.Error(t, c.CreateExternalTable(ctx, TableRef{DatasetRef: ref, Table: "u"}, nil))

	require.NoError(t, c.DeleteDataset(ctx, ref))
	assert.Nil(t, c.TableNames(ref))
}

func TestBigQueryCatalog_DeleteDataset(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantLogged bool
		wantErr    bool
	}{
		{"deleted", http.StatusNoContent, true, false},
		{"already absent", http.StatusNotFound, false, false},
		{"forbidden", http.StatusForbidden, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deletes int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete || !strings.HasSuffix(r.URL.Path, "/projects/p/datasets/cbs_v3_83583NED") {
					http.NotFound(w, r)
					return
				}
				deletes++
				assert.Equal(t, "true", r.URL.Query().Get("deleteContents"))
				if tt.status == http.StatusNoContent {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, tt.status, http.StatusText(tt.status))
			}))
			defer srv.Close()

			core, logs := observer.New(zap.DebugLevel)
			ctx := context.Background()
			c, err := NewBigQueryCatalog(ctx, "p", zap.New(core),
				option.WithEndpoint(srv.URL+"/bigquery/v2/"),
				option.WithoutAuthentication())
			require.NoError(t, err)
			defer c.Close()

			err = c.DeleteDataset(ctx, DatasetRef{Project: "p", Dataset: "cbs_v3_83583NED"})
			if tt.wantErr {
				assert.True(t, statlineerrors.IsType(err, statlineerrors.ErrorTypeCatalogRegistrationFailed))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, deletes)
			assert.Equal(t, tt.wantLogged, logs.FilterMessage("dataset deleted").Len() == 1)
		})
	}
}
