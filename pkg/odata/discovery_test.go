package odata_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/statline/pkg/clients"
	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/odata/odatatest"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
	"github.com/ajitpratap0/statline/pkg/testutil"
)

func v3Dataset() *odatatest.Dataset {
	return &odatatest.Dataset{
		ID:      "83583NED",
		Version: odata.V3,
		Metadata: map[string]interface{}{
			"Identifier":       "83583NED",
			"ShortDescription": "Bevolking per regio",
			"Modified":         "2026-01-14T02:00:00",
			"RecordCount":      304128,
			"ColumnCount":      10,
		},
		Tables: map[string][]map[string]interface{}{
			"TypedDataSet":   {{"ID": 0, "Perioden": "2020JJ00"}},
			"TableInfos":     {{"Title": "x"}},
			"UntypedDataSet": {{"ID": 0}},
			"Perioden":       {{"Key": "2020JJ00", "Title": "2020"}},
			"DataProperties": {
				{"Key": "Bevolking_1", "Description": "Aantal\r\ninwoners", "Type": "Topic"},
				{"Key": "Perioden", "Description": nil, "Type": "TimeDimension"},
				{"Key": "", "Description": "group", "Type": "TopicGroup"},
			},
		},
		Schema: []odata.Property{{Name: "ID", Type: "Edm.Int32"}, {Name: "Perioden", Type: "Edm.String"}},
	}
}

func v4Dataset() *odatatest.Dataset {
	return &odatatest.Dataset{
		ID:      "83765NED",
		Version: odata.V4,
		Metadata: map[string]interface{}{
			"Identifier":       "83765NED",
			"Description":      "Kerncijfers wijken en buurten",
			"Modified":         "2026-02-01T00:00:00",
			"ObservationCount": 2432,
		},
		Tables: map[string][]map[string]interface{}{
			"Observations": {{"Id": 0, "Measure": "M001", "Value": 1.5}},
			"MeasureCodes": {{"Identifier": "M001"}},
		},
	}
}

func newDiscovery(t *testing.T, srv *odatatest.Server) *odata.Discovery {
	logger := testutil.TestLogger(t)
	client := odata.NewClient(clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger), logger)
	return odata.NewDiscovery(client, srv.Endpoints(), logger)
}

func TestDiscovery_DetectVersion(t *testing.T) {
	srv := odatatest.NewServer(t, v3Dataset(), v4Dataset())
	d := newDiscovery(t, srv)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	tests := []struct {
		name       string
		id         string
		thirdParty bool
		v4Only     bool
		want       odata.Version
		wantErr    statlineerrors.ErrorType
	}{
		{"probe 200", "83765NED", false, false, odata.V4, ""},
		{"probe 404", "83583NED", false, false, odata.V3, ""},
		{"third party", "83765NED", true, false, odata.V3, ""},
		{"forced v4", "83583NED", false, true, odata.V4, ""},
		{"third party forced v4", "83583NED", true, true, "", statlineerrors.ErrorTypeUnsupportedCombination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DetectVersion(ctx, tt.id, tt.thirdParty, tt.v4Only)
			if tt.wantErr != "" {
				assert.True(t, statlineerrors.IsType(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscovery_DetectVersion_Unreachable(t *testing.T) {
	logger := testutil.TestLogger(t)
	client := odata.NewClient(clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger), logger)
	d := odata.NewDiscovery(client, odata.Endpoints{V4: "http://127.0.0.1:1"}, logger)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	v, err := d.DetectVersion(ctx, "83583NED", false, false)
	require.NoError(t, err)
	assert.Equal(t, odata.V3, v)
}

func TestDiscovery_ListTables_V3(t *testing.T) {
	srv := odatatest.NewServer(t, v3Dataset())
	d := newDiscovery(t, srv)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	a, err := d.Adapter(odata.V3, false)
	require.NoError(t, err)

	tables, err := d.ListTables(ctx, "83583NED", a)
	require.NoError(t, err)

	roles := map[string]odata.Role{}
	for _, tbl := range tables {
		roles[tbl.Name] = tbl.Role
	}
	assert.Equal(t, map[string]odata.Role{
		"DataProperties": odata.RoleAuxiliary,
		"Perioden":       odata.RoleDimension,
		"TableInfos":     odata.RoleMetadata,
		"TypedDataSet":   odata.RoleMain,
		"UntypedDataSet": odata.RoleMetadata,
	}, roles)

	main, ok := odata.MainTable(tables)
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/v3/ODataFeed/odata/83583NED/TypedDataSet?$format=json", main.SourceURL)
}

func TestDiscovery_ListTables_V4(t *testing.T) {
	srv := odatatest.NewServer(t, v4Dataset())
	d := newDiscovery(t, srv)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	a, err := d.Adapter(odata.V4, false)
	require.NoError(t, err)

	tables, err := d.ListTables(ctx, "83765NED", a)
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, "MeasureCodes", tables[0].Name)
	assert.Equal(t, "Observations", tables[1].Name)
	assert.Equal(t, srv.URL+"/v4/CBS/83765NED/Observations", tables[1].SourceURL)
	assert.Equal(t, odata.RoleMetadata, tables[2].Role)
}

func TestDiscovery_DatasetMetadata(t *testing.T) {
	ambiguous := v3Dataset()
	ambiguous.ID = "99999NED"
	ambiguous.CatalogMatches = 2

	srv := odatatest.NewServer(t, v3Dataset(), v4Dataset(), ambiguous)
	d := newDiscovery(t, srv)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	v3, _ := d.Adapter(odata.V3, false)
	v4, _ := d.Adapter(odata.V4, false)

	md, err := d.DatasetMetadata(ctx, "83583NED", v3)
	require.NoError(t, err)
	assert.Equal(t, "Bevolking per regio", md.Description)
	assert.Equal(t, "2026-01-14T02:00:00", md.Modified)
	require.NotNil(t, md.Shape.RowCount)
	assert.Equal(t, int64(304128), *md.Shape.RowCount)
	require.NotNil(t, md.Shape.ColumnCount)
	assert.Equal(t, int64(10), *md.Shape.ColumnCount)
	assert.Contains(t, string(md.Raw), `"Identifier":"83583NED"`)

	md, err = d.DatasetMetadata(ctx, "83765NED", v4)
	require.NoError(t, err)
	assert.Equal(t, "Kerncijfers wijken en buurten", md.Description)
	require.NotNil(t, md.Shape.RowCount)
	assert.Equal(t, int64(2432), *md.Shape.RowCount)
	assert.Nil(t, md.Shape.ColumnCount)

	_, err = d.DatasetMetadata(ctx, "00000NED", v3)
	assert.True(t, statlineerrors.IsType(err, statlineerrors.ErrorTypeNotFound))

	_, err = d.DatasetMetadata(ctx, "99999NED", v3)
	assert.True(t, statlineerrors.IsType(err, statlineerrors.ErrorTypeAmbiguousMetadata))

	_, err = d.DatasetMetadata(ctx, "00000NED", v4)
	assert.True(t, statlineerrors.IsType(err, statlineerrors.ErrorTypeNotFound))
}

func TestDiscovery_ColumnDescriptions(t *testing.T) {
	srv := odatatest.NewServer(t, v3Dataset(), v4Dataset())
	d := newDiscovery(t, srv)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	v3, _ := d.Adapter(odata.V3, false)
	tables, err := d.ListTables(ctx, "83583NED", v3)
	require.NoError(t, err)

	desc, err := d.ColumnDescriptions(ctx, tables, v3)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Bevolking_1": "Aantalinwoners"}, desc)

	v4, _ := d.Adapter(odata.V4, false)
	tables, err = d.ListTables(ctx, "83765NED", v4)
	require.NoError(t, err)
	desc, err = d.ColumnDescriptions(ctx, tables, v4)
	require.NoError(t, err)
	assert.Empty(t, desc)
}

func TestDiscovery_MainTableSchema(t *testing.T) {
	srv := odatatest.NewServer(t, v3Dataset(), v4Dataset())
	d := newDiscovery(t, srv)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	v3, _ := d.Adapter(odata.V3, false)
	props, ok, err := d.MainTableSchema(ctx, "83583NED", v3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []odata.Property{{Name: "ID", Type: "Edm.Int32"}, {Name: "Perioden", Type: "Edm.String"}}, props)

	v4, _ := d.Adapter(odata.V4, false)
	_, ok, err = d.MainTableSchema(ctx, "83765NED", v4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_FetchPage_Status(t *testing.T) {
	ds := v4Dataset()
	ds.Fail = map[string]int{"MeasureCodes": http.StatusServiceUnavailable}
	srv := odatatest.NewServer(t, ds)

	logger := testutil.TestLogger(t)
	client := odata.NewClient(clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger), logger)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	_, err := client.FetchPage(ctx, srv.URL+"/v4/CBS/83765NED/MeasureCodes", "@odata.nextLink")
	require.Error(t, err)
	assert.True(t, statlineerrors.IsType(err, statlineerrors.ErrorTypeConnection))

	var statusErr *odata.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}
