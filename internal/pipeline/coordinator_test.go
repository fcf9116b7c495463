package pipeline

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/statline/pkg/catalog"
	"github.com/ajitpratap0/statline/pkg/config"
	"github.com/ajitpratap0/statline/pkg/metrics"
	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/odata/odatatest"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
	"github.com/ajitpratap0/statline/pkg/storage"
	"github.com/ajitpratap0/statline/pkg/testutil"
)

const (
	v3ID = "83583NED"
	v4ID = "83765NED"
)

var runDate = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func v3Dataset() *odatatest.Dataset {
	return &odatatest.Dataset{
		ID:      v3ID,
		Version: odata.V3,
		Metadata: map[string]interface{}{
			"Identifier":       v3ID,
			"ShortDescription": "Bevolking; kerncijfers",
			"Modified":         "2024-01-01T02:00:00",
			"RecordCount":      25,
			"ColumnCount":      3,
		},
		Schema: []odata.Property{
			{Name: "ID", Type: "Edm.Int32"},
			{Name: "Perioden", Type: "Edm.String"},
			{Name: "Bevolking_1", Type: "Edm.Double"},
		},
		Tables: map[string][]map[string]interface{}{
			"TypedDataSet": odatatest.Rows(25, func(i int) map[string]interface{} {
				return map[string]interface{}{"ID": i, "Perioden": "2020JJ00", "Bevolking_1": 1000 + i}
			}),
			"Perioden": {
				{"Key": "2020JJ00", "Title": "2020"},
				{"Key": "2021JJ00", "Title": "2021"},
			},
			"DataProperties": {
				{"Key": "Bevolking_1", "Description": "Aantal\r\ninwoners", "Type": "Topic"},
				{"Key": "Perioden", "Description": nil, "Type": "TimeDimension"},
			},
			"CategoryGroups": {},
			"TableInfos":     {{"Title": "Bevolking"}},
			"UntypedDataSet": {{"ID": 0}},
		},
	}
}

func v4Dataset() *odatatest.Dataset {
	return &odatatest.Dataset{
		ID:       v4ID,
		Version:  odata.V4,
		PageSize: 7,
		Metadata: map[string]interface{}{
			"Identifier":       v4ID,
			"Description":      "Observations in long format",
			"Modified":         "2024-01-01T00:00:00Z",
			"ObservationCount": 20,
		},
		Tables: map[string][]map[string]interface{}{
			"Observations": odatatest.Rows(20, func(i int) map[string]interface{} {
				return map[string]interface{}{"Id": i, "Measure": "M000352", "Value": float64(i) / 2}
			}),
			"MeasureCodes": {{"Identifier": "M000352", "Title": "Bevolking"}},
			"PeriodenCodes": {
				{"Identifier": "2020JJ00", "Title": "2020"},
			},
		},
	}
}

type CoordinatorSuite struct {
	testutil.PipelineSuite

	srv      *odatatest.Server
	store    *storage.MemoryStore
	cat      *catalog.MemoryCatalog
	cfg      *config.Config
	root      string
	registry  *prometheus.Registry
	collector *metrics.Collector
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.PipelineSuite.SetupTest()

	s.srv = odatatest.NewServer(s.T(), v3Dataset(), v4Dataset())
	s.store = storage.NewMemoryStore()
	s.cat = catalog.NewMemoryCatalog()
	s.root = s.T().TempDir()
	s.registry = prometheus.NewRegistry()
	s.collector = metrics.NewCollector(s.registry)

	cfg := config.Default()
	cfg.GCP.Dev = config.Environment{ProjectID: "statline-dev", Bucket: "statline-dev-bucket", Location: "EU"}
	endpoints := s.srv.Endpoints()
	cfg.OData.V3URL = endpoints.V3
	cfg.OData.V3ThirdPartyURL = endpoints.V3ThirdParty
	cfg.OData.V4URL = endpoints.V4
	cfg.OData.RateLimit = 1000
	cfg.OData.RateBurst = 100
	cfg.Paths["root"] = s.root
	cfg.Pipeline.BatchSize = 10
	s.cfg = cfg
}

func (s *CoordinatorSuite) coordinator() *Coordinator {
	discovery, fetcher, _ := NewSourceClients(s.cfg, s.Logger(), s.collector)
	return New(s.cfg, Dependencies{
		Discovery: discovery,
		Fetcher:   fetcher,
		Store:     s.store,
		Catalog:   s.cat,
		Metrics:   s.collector,
		Logger:    s.Logger(),
		Now:       func() time.Time { return runDate },
	})
}

func (s *CoordinatorSuite) run(req Request) (*Outcome, error) {
	if req.Tier == "" {
		req.Tier = config.TierDev
	}
	return s.coordinator().Run(s.Context(), req)
}

func (s *CoordinatorSuite) v3Ref() catalog.DatasetRef {
	return catalog.DatasetRef{Project: "statline-dev", Dataset: "cbs_v3_" + v3ID}
}

func (s *CoordinatorSuite) TestPublishesV3Dataset() {
	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(StatusPublished, out.Status)
	s.Equal(StageDone, out.Stage)
	s.Equal(odata.V3, out.Version)
	s.Equal([]string{v3ID + "_DataProperties", v3ID + "_Perioden", v3ID + "_TypedDataSet"}, out.Tables)
	s.Equal([]string{"CategoryGroups"}, out.EmptyTables)
	s.Equal("gs://statline-dev-bucket/cbs/v3/"+v3ID+"/20240102", out.GCSFolder)

	ds := s.cat.Dataset(s.v3Ref())
	s.Require().NotNil(ds)
	s.Equal("Bevolking; kerncijfers", ds.Description)
	s.Equal("EU", ds.Location)
	s.Equal(out.Tables, s.cat.TableNames(s.v3Ref()))

	main := ds.Tables[v3ID+"_TypedDataSet"]
	s.Equal([]string{"gs://statline-dev-bucket/cbs/v3/" + v3ID + "/20240102/cbs.v3." + v3ID + "_TypedDataSet.parquet"}, main.SourceURIs)
	s.Equal(map[string]string{"Bevolking_1": "Aantalinwoners"}, main.Descriptions)
	s.Nil(ds.Tables[v3ID+"_Perioden"].Descriptions)

	keys, err := s.store.List(context.Background(), "statline-dev-bucket", "cbs/v3/"+v3ID+"/20240102/")
	s.Require().NoError(err)
	s.Contains(keys, "cbs/v3/"+v3ID+"/20240102/cbs.v3."+v3ID+"_Metadata.json")
	s.Contains(keys, "cbs/v3/"+v3ID+"/20240102/cbs.v3."+v3ID+"_ColDescriptions.json")
	s.Len(keys, 5)

	s.Zero(s.srv.TableRequests(v3ID, "TableInfos"))
	s.Zero(s.srv.TableRequests(v3ID, "UntypedDataSet"))
	s.Empty(testutil.ListFiles(s.T(), s.root))

	count, err := promtestutil.GatherAndCount(s.registry, "statline_datasets_total")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *CoordinatorSuite) TestSkipsUnchangedDataset() {
	_, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)
	before := s.srv.TotalTableRequests(v3ID)
	puts := s.store.Puts()

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(StatusSkipped, out.Status)
	s.Equal(StageSkipped, out.Stage)
	s.Equal("2024-01-01T02:00:00", out.SourceModified)
	s.Equal("2024-01-01T02:00:00", out.PublishedModified)
	s.Equal(before, s.srv.TotalTableRequests(v3ID))
	s.Equal(puts, s.store.Puts())
}

func (s *CoordinatorSuite) TestForceRepublishesIdentically() {
	first, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)
	firstTables := s.cat.TableNames(s.v3Ref())

	second, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery, Force: true})
	s.Require().NoError(err)

	s.Equal(StatusPublished, second.Status)
	s.Equal(first.Tables, second.Tables)
	s.Equal(firstTables, s.cat.TableNames(s.v3Ref()))
	s.Require().Len(second.Files, len(first.Files))
	for i := range first.Files {
		s.Equal(first.Files[i].Rows, second.Files[i].Rows)
	}
}

func (s *CoordinatorSuite) TestChangedSourceIsRepublished() {
	_, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	ds := v3Dataset()
	ds.Metadata["Modified"] = "2024-01-02T02:00:00"
	s.srv.Put(ds)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)
	s.Equal(StatusPublished, out.Status)
	s.Equal("2024-01-01T02:00:00", out.PublishedModified)
}

func (s *CoordinatorSuite) TestNonMainFailureIsPartial() {
	ds := v3Dataset()
	ds.Fail = map[string]int{"Perioden": http.StatusInternalServerError}
	s.srv.Put(ds)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(StatusPartial, out.Status)
	s.Require().Len(out.FailedTables, 1)
	s.Equal("Perioden", out.FailedTables[0].Table)
	s.Equal(StageFetching, out.FailedTables[0].Stage)
	s.True(statlineerrors.IsType(out.PartialError(), statlineerrors.ErrorTypePublishPartial))
	s.Equal([]string{v3ID + "_DataProperties", v3ID + "_TypedDataSet"}, s.cat.TableNames(s.v3Ref()))
}

func (s *CoordinatorSuite) TestMainFetchFailureFailsDataset() {
	ds := v3Dataset()
	ds.Fail = map[string]int{"TypedDataSet": http.StatusBadGateway}
	s.srv.Put(ds)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().Error(err)

	s.Equal(StatusFailed, out.Status)
	s.Equal(StageFetching, out.Stage)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeFetchFailed))
	s.True(out.Retryable)
	s.Equal("TypedDataSet", statlineerrors.TableOf(err))
	s.Equal(string(StageFetching), statlineerrors.StageOf(err))
	s.Empty(out.Tables)
	s.Nil(s.cat.Dataset(s.v3Ref()))
	s.Zero(s.store.Puts())
	s.Empty(testutil.ListFiles(s.T(), s.root))
}

func (s *CoordinatorSuite) TestMainConversionFailureFailsDataset() {
	ds := v3Dataset()
	ds.Tables["TypedDataSet"][3]["ID"] = "not-a-number"
	s.srv.Put(ds)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().Error(err)

	s.Equal(StageConverting, out.Stage)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeConversionFailed))
	s.False(out.Retryable)
	s.Zero(s.store.Puts())
	s.Empty(testutil.ListFiles(s.T(), s.root))
}

func (s *CoordinatorSuite) TestEmptyMainTableIsNotAFailure() {
	ds := v3Dataset()
	ds.Tables["TypedDataSet"] = []map[string]interface{}{}
	ds.Metadata["RecordCount"] = 0
	s.srv.Put(ds)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(StatusPublished, out.Status)
	s.Contains(out.EmptyTables, "TypedDataSet")
	s.NotContains(out.Tables, v3ID+"_TypedDataSet")
	s.Equal([]string{v3ID + "_DataProperties", v3ID + "_Perioden"}, s.cat.TableNames(s.v3Ref()))
}

func (s *CoordinatorSuite) TestLocalEndpointKeepsOutput() {
	dir := filepath.Join(s.T().TempDir(), "out")

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointLocal, LocalDir: dir})
	s.Require().NoError(err)

	s.Equal(StatusPublished, out.Status)
	s.Equal(dir, out.LocalFolder)
	s.Empty(out.GCSFolder)
	s.Zero(s.store.Puts())
	s.Nil(s.cat.Dataset(s.v3Ref()))

	files := testutil.ListFiles(s.T(), dir)
	s.ElementsMatch([]string{
		"cbs.v3." + v3ID + "_DataProperties.parquet",
		"cbs.v3." + v3ID + "_Perioden.parquet",
		"cbs.v3." + v3ID + "_TypedDataSet.parquet",
		"cbs.v3." + v3ID + "_Metadata.json",
		"cbs.v3." + v3ID + "_ColDescriptions.json",
	}, files)

	_, err = os.Stat(filepath.Join(dir, stagingDirName))
	s.True(os.IsNotExist(err))
}

func (s *CoordinatorSuite) TestLocalEndpointIgnoresPreviousPublish() {
	_, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointLocal, LocalDir: s.T().TempDir()})
	s.Require().NoError(err)
	s.Equal(StatusPublished, out.Status)
}

func (s *CoordinatorSuite) TestGCSEndpointSkipsCatalog() {
	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointGCS})
	s.Require().NoError(err)

	s.Equal(StatusPublished, out.Status)
	s.Equal(StageDone, out.Stage)
	s.Equal(5, s.store.Puts())
	s.Nil(s.cat.Dataset(s.v3Ref()))
	s.Empty(out.CatalogDataset)
}

func (s *CoordinatorSuite) TestPublishesV4Dataset() {
	out, err := s.run(Request{DatasetID: v4ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(odata.V4, out.Version)
	s.Equal(StatusPublished, out.Status)

	ref := catalog.DatasetRef{Project: "statline-dev", Dataset: "cbs_v4_" + v4ID}
	s.Equal([]string{v4ID + "_MeasureCodes", v4ID + "_Observations", v4ID + "_PeriodenCodes"}, s.cat.TableNames(ref))
	s.Equal(3, s.srv.TableRequests(v4ID, "Observations"))

	for _, f := range out.Files {
		if f.TableName == "Observations" {
			s.Equal(int64(20), f.Rows)
		}
	}

	keys, err := s.store.List(context.Background(), "statline-dev-bucket", "cbs/v4/")
	s.Require().NoError(err)
	for _, k := range keys {
		s.False(strings.HasSuffix(k, descriptionsSuffix), k)
	}
}

func (s *CoordinatorSuite) TestThirdPartyWithAgencySourceIsRejected() {
	out, err := s.run(Request{DatasetID: v3ID, Source: "CBS", ThirdParty: true, Endpoint: EndpointBigQuery})
	s.Require().Error(err)

	s.Equal(StatusFailed, out.Status)
	s.Equal(StageStart, out.Stage)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeValidation))
	s.Zero(s.srv.TotalTableRequests(v3ID))
}

func (s *CoordinatorSuite) TestThirdPartyV4IsUnsupported() {
	out, err := s.run(Request{DatasetID: v3ID, Source: "iv3", ThirdParty: true, V4Only: true, Endpoint: EndpointLocal})
	s.Require().Error(err)
	s.Equal(StatusFailed, out.Status)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeUnsupportedCombination))
}

func (s *CoordinatorSuite) TestUnknownDataset() {
	out, err := s.run(Request{DatasetID: "00000NED", Endpoint: EndpointBigQuery})
	s.Require().Error(err)
	s.Equal(StageProtocolResolved, out.Stage)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeNotFound))
}

func (s *CoordinatorSuite) TestCatalogFailureIsFatal() {
	s.cat.FailTables = map[string]bool{v3ID + "_Perioden": true}

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().Error(err)

	s.Equal(StageCatalogRegistering, out.Stage)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeCatalogRegistrationFailed))
	s.Empty(testutil.ListFiles(s.T(), s.root))
}

func (s *CoordinatorSuite) TestRetryAfterCatalogFailurePublishes() {
	s.cat.FailTables = map[string]bool{v3ID + "_Perioden": true}
	_, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().Error(err)

	metaKey := "cbs/v3/" + v3ID + "/20240102/cbs.v3." + v3ID + "_Metadata.json"
	_, err = s.store.Get(context.Background(), "statline-dev-bucket", metaKey)
	s.ErrorIs(err, storage.ErrObjectNotFound)

	s.cat.FailTables = nil
	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(StatusPublished, out.Status)
	s.Equal([]string{v3ID + "_DataProperties", v3ID + "_Perioden", v3ID + "_TypedDataSet"}, s.cat.TableNames(s.v3Ref()))
	_, err = s.store.Get(context.Background(), "statline-dev-bucket", metaKey)
	s.NoError(err)
}

func (s *CoordinatorSuite) TestBigQueryAfterGCSRegistersCatalog() {
	_, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointGCS})
	s.Require().NoError(err)
	s.Nil(s.cat.Dataset(s.v3Ref()))

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	s.Equal(StatusPublished, out.Status)
	s.Equal("2024-01-01T02:00:00", out.PublishedModified)
	s.Equal(out.Tables, s.cat.TableNames(s.v3Ref()))
}

func (s *CoordinatorSuite) TestSameDayRepublishRemovesStaleTables() {
	_, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery})
	s.Require().NoError(err)

	ds := v3Dataset()
	ds.Fail = map[string]int{"Perioden": http.StatusInternalServerError}
	s.srv.Put(ds)

	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery, Force: true})
	s.Require().NoError(err)
	s.Equal(StatusPartial, out.Status)

	folder := "cbs/v3/" + v3ID + "/20240102/"
	keys, err := s.store.List(context.Background(), "statline-dev-bucket", folder)
	s.Require().NoError(err)
	s.Equal([]string{
		folder + "cbs.v3." + v3ID + "_ColDescriptions.json",
		folder + "cbs.v3." + v3ID + "_DataProperties.parquet",
		folder + "cbs.v3." + v3ID + "_Metadata.json",
		folder + "cbs.v3." + v3ID + "_TypedDataSet.parquet",
	}, keys)
	s.Equal([]string{v3ID + "_DataProperties", v3ID + "_TypedDataSet"}, s.cat.TableNames(s.v3Ref()))
}

func (s *CoordinatorSuite) TestMissingTierConfiguration() {
	out, err := s.run(Request{DatasetID: v3ID, Endpoint: EndpointBigQuery, Tier: config.TierProd})
	s.Require().Error(err)
	s.Equal(StageStart, out.Stage)
	s.True(statlineerrors.IsType(err, statlineerrors.ErrorTypeConfig))
}

func TestParseEndpoint(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Endpoint
	}{
		{"local", EndpointLocal},
		{" GCS ", EndpointGCS},
		{"bq", EndpointBigQuery},
	} {
		got, err := ParseEndpoint(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := ParseEndpoint("s3")
	assert.Error(t, err)
}
