// Package pipeline publishes one statistics dataset end to end: version
// detection, skip check, paginated fetch, Parquet conversion, upload to the
// blob store and registration as external tables in the catalog.
//
// # Stages
//
// A run moves through
//
//	Start → ProtocolResolved → SkipCheck → Skipped
//	                                     → Fetching → Converting → Uploading →
//	                                       CatalogRegistering → ColumnDescribing →
//	                                       CleaningUp → Done
//
// and stops early for the local and gcs endpoints. A failure ends the run in
// the stage it happened in; Outcome.Stage and the error's stage record it.
//
// # Failure containment
//
// A table other than the Main table that fails to fetch or convert is left
// out of the publish and reported in Outcome.FailedTables; the run still
// succeeds with StatusPartial. A Main table failure fails the run. Upload
// and catalog errors are always fatal. Local staging and output files are
// removed on every exit path; only a successful local run keeps its output.
//
// # Usage
//
//	discovery, fetcher, _ := pipeline.NewSourceClients(cfg, logger, collector)
//	coord := pipeline.New(cfg, pipeline.Dependencies{
//	    Discovery: discovery,
//	    Fetcher:   fetcher,
//	    Store:     gcs,
//	    Catalog:   bq,
//	    Logger:    logger,
//	})
//	outcome, err := coord.Run(ctx, pipeline.Request{DatasetID: "83583NED", Tier: config.TierDev})
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/statline/pkg/catalog"
	"github.com/ajitpratap0/statline/pkg/clients"
	"github.com/ajitpratap0/statline/pkg/columnar"
	"github.com/ajitpratap0/statline/pkg/config"
	"github.com/ajitpratap0/statline/pkg/fetch"
	"github.com/ajitpratap0/statline/pkg/logger"
	"github.com/ajitpratap0/statline/pkg/metrics"
	"github.com/ajitpratap0/statline/pkg/observability"
	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/schema"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
	"github.com/ajitpratap0/statline/pkg/storage"
)

const stagingDirName = ".staging"

// Dependencies are the collaborators a Coordinator calls. Store is required
// for the gcs and bq endpoints, Catalog for bq. Converter, Metrics and
// Tracer are optional.
type Dependencies struct {
	Discovery *odata.Discovery
	Fetcher   *fetch.Fetcher
	Converter *columnar.Converter
	Store     storage.BlobStore
	Catalog   catalog.Catalog
	Metrics   *metrics.Collector
	Tracer    *observability.Tracer
	Logger    *zap.Logger
	// Now returns the run date; time.Now when nil.
	Now func() time.Time
}

// Coordinator runs datasets. Runs share no mutable state, so one
// Coordinator may serve concurrent runs of different datasets.
type Coordinator struct {
	cfg       *config.Config
	discovery *odata.Discovery
	fetcher   *fetch.Fetcher
	converter *columnar.Converter
	store     storage.BlobStore
	catalog   catalog.Catalog
	metrics   *metrics.Collector
	tracer    *observability.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Coordinator.
func New(cfg *config.Config, deps Dependencies) *Coordinator {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	conv := deps.Converter
	if conv == nil {
		conv = columnar.NewConverter(columnar.ConverterConfig{
			BatchSize:   cfg.Pipeline.BatchSize,
			Compression: "snappy",
		}, log)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		cfg:       cfg,
		discovery: deps.Discovery,
		fetcher:   deps.Fetcher,
		converter: conv,
		store:     deps.Store,
		catalog:   deps.Catalog,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    log.With(zap.String("component", "coordinator")),
		now:       now,
	}
}

// NewSourceClients builds the OData discovery and fetcher from cfg, sharing
// the returned rate-limited HTTP client.
func NewSourceClients(cfg *config.Config, log *zap.Logger, collector *metrics.Collector) (*odata.Discovery, *fetch.Fetcher, *clients.HTTPClient) {
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RateLimit = cfg.OData.RateLimit
	httpCfg.RateBurst = cfg.OData.RateBurst
	httpCfg.RequestTimeout = cfg.OData.RequestTimeout
	if cfg.OData.UserAgent != "" {
		httpCfg.UserAgent = cfg.OData.UserAgent
	}

	httpClient := clients.NewHTTPClient(httpCfg, log)
	httpClient.SetObserver(collector.ObserveRequest)

	client := odata.NewClient(httpClient, log)
	endpoints := odata.Endpoints{
		V3:           cfg.OData.V3URL,
		V3ThirdParty: cfg.OData.V3ThirdPartyURL,
		V4:           cfg.OData.V4URL,
	}
	return odata.NewDiscovery(client, endpoints, log),
		fetch.NewFetcher(client, cfg.OData.PageConcurrency, log, collector),
		httpClient
}

// Run publishes one dataset. The outcome is always non-nil; err is non-nil
// exactly when the outcome status is StatusFailed.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Outcome, error) {
	runDate := c.now()
	r := &run{
		c:       c,
		req:     req,
		runDate: runDate,
		out: &Outcome{
			DatasetID: req.DatasetID,
			Source:    req.Source,
			Stage:     StageStart,
		},
	}

	ctx = logger.WithDataset(ctx, req.DatasetID)
	if _, ok := ctx.Value(logger.RunIDKey).(string); !ok {
		ctx = logger.WithRunID(ctx, fmt.Sprintf("%s-%d", req.DatasetID, runDate.UnixNano()))
	}
	r.logger = logger.FromContext(ctx, c.logger)
	if timeout := c.cfg.Pipeline.DatasetTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := c.tracer.StartDataset(ctx, req.DatasetID, req.Source)
	r.ctx = ctx

	err := r.execute(ctx)
	r.finishStage(err)
	span.SetAttribute("status", string(r.out.Status))
	span.End(err)
	c.metrics.DatasetDone(string(r.out.Status))

	if err != nil {
		r.out.Retryable = statlineerrors.IsRetryable(err)
		r.logger.Error("dataset failed",
			zap.String("stage", string(r.out.Stage)),
			zap.Bool("retryable", r.out.Retryable),
			zap.String("table", statlineerrors.TableOf(err)),
			zap.Error(err))
	}
	return r.out, err
}

// run is the state of one dataset run.
type run struct {
	c       *Coordinator
	req     Request
	out     *Outcome
	logger  *zap.Logger
	runDate time.Time
	ctx     context.Context

	stage     Stage
	stageAt   time.Time
	stageSpan *observability.Span

	mu      sync.Mutex
	written []string
}

func (r *run) enter(stage Stage) {
	r.finishStage(nil)
	r.stage = stage
	r.out.Stage = stage
	r.stageAt = time.Now()
	_, r.stageSpan = r.c.tracer.StartStage(r.ctx, string(stage))
	r.logger.Info("stage",
		zap.String("stage", string(stage)),
		zap.String("odata_version", string(r.out.Version)))
}

func (r *run) finishStage(err error) {
	if r.stageSpan == nil {
		return
	}
	r.stageSpan.End(err)
	r.stageSpan = nil
	r.c.metrics.ObserveStage(string(r.stage), time.Since(r.stageAt))
}

// fail records err as the run's failure in the current stage.
func (r *run) fail(err error) error {
	var e *statlineerrors.Error
	if !errors.As(err, &e) {
		e = statlineerrors.Wrap(err, statlineerrors.ErrorTypeInternal, "run failed")
		err = e
	}
	if e.Stage == "" {
		e.WithStage(string(r.stage))
	}
	r.out.Status = StatusFailed
	r.out.Error = err.Error()
	return err
}

func (r *run) track(path string) {
	r.mu.Lock()
	r.written = append(r.written, path)
	r.mu.Unlock()
}

func (r *run) recordFailure(table string, stage Stage, err error) {
	r.mu.Lock()
	r.out.FailedTables = append(r.out.FailedTables, TableFailure{
		Table: table,
		Stage: stage,
		Err:   err,
		Cause: err.Error(),
	})
	r.mu.Unlock()
}

func (r *run) execute(ctx context.Context) (err error) {
	c := r.c
	r.enter(StageStart)

	if err := r.req.normalize(); err != nil {
		return r.fail(err)
	}
	req := r.req
	r.out.Source = req.Source

	var target config.ProjectTarget
	if req.Endpoint != EndpointLocal {
		target, err = c.cfg.ResolveEnvironment(req.Tier, req.Source)
		if err != nil {
			return r.fail(statlineerrors.Wrap(err, statlineerrors.ErrorTypeConfig, "no cloud target"))
		}
		if c.store == nil {
			return r.fail(statlineerrors.New(statlineerrors.ErrorTypeConfig, "blob store is not configured"))
		}
		if req.Endpoint == EndpointBigQuery && c.catalog == nil {
			return r.fail(statlineerrors.New(statlineerrors.ErrorTypeConfig, "catalog is not configured"))
		}
	}

	version, err := c.discovery.DetectVersion(ctx, req.DatasetID, req.ThirdParty, req.V4Only)
	if err != nil {
		return r.fail(err)
	}
	a, err := c.discovery.Adapter(version, req.ThirdParty)
	if err != nil {
		return r.fail(err)
	}
	r.out.Version = version
	r.enter(StageProtocolResolved)

	md, err := c.discovery.DatasetMetadata(ctx, req.DatasetID, a)
	if err != nil {
		return r.fail(err)
	}
	r.out.SourceModified = md.Modified

	if req.Endpoint != EndpointLocal {
		r.enter(StageSkipCheck)
		published, ok := publishedModified(ctx, c.store, target.Bucket, req.Source, a, req.DatasetID, r.logger)
		r.out.PublishedModified = published
		skip := shouldSkip(md.Modified, published, ok, req.Force)
		if skip && req.Endpoint == EndpointBigQuery {
			skip = r.catalogPresent(ctx, catalogRef(target, req.Source, version, req.DatasetID))
		}
		if skip {
			r.enter(StageSkipped)
			r.out.Status = StatusSkipped
			r.logger.Info("dataset unchanged, skipping",
				zap.String("source_modified", md.Modified),
				zap.String("published_modified", published))
			return nil
		}
		r.logger.Info("dataset will be published",
			zap.String("source_modified", md.Modified),
			zap.String("published_modified", published),
			zap.Bool("force", req.Force))
	}

	outputDir := req.LocalDir
	if outputDir == "" {
		outputDir = c.cfg.ResolveOutputPath(req.DatasetID, string(version), req.Source, r.runDate)
	}
	stagingDir := filepath.Join(outputDir, stagingDirName)

	defer func() {
		keep := req.Endpoint == EndpointLocal && err == nil
		if err == nil {
			r.enter(StageCleaningUp)
		}
		if cerr := r.cleanup(outputDir, stagingDir, keep); cerr != nil {
			if err == nil {
				err = r.fail(statlineerrors.Wrap(cerr, statlineerrors.ErrorTypeFile, "cleanup failed"))
				return
			}
			r.logger.Warn("cleanup after failure incomplete", zap.Error(cerr))
		}
		if err == nil {
			r.enter(StageDone)
		}
	}()

	// Fetching
	r.enter(StageFetching)
	tables, err := c.discovery.ListTables(ctx, req.DatasetID, a)
	if err != nil {
		return r.fail(err)
	}
	explicit := r.mainSchema(ctx, a)

	staged, err := r.fetchAll(ctx, a, tables, md.Shape, explicit, stagingDir)
	if err != nil {
		return r.fail(err)
	}

	// Converting
	r.enter(StageConverting)
	files, err := r.convertAll(ctx, a, staged, outputDir)
	if err != nil {
		return r.fail(err)
	}
	r.out.Files = files
	for _, f := range files {
		r.out.Tables = append(r.out.Tables, TableID(filepath.Base(f.LocalPath)))
	}

	sidecars, descriptions, err := r.writeSidecars(ctx, a, tables, md, outputDir)
	if err != nil {
		return r.fail(err)
	}

	if req.Endpoint == EndpointLocal {
		r.out.LocalFolder = outputDir
		r.finish()
		return nil
	}

	// Uploading
	r.enter(StageUploading)
	folder := RunFolder(req.Source, version, req.DatasetID, r.runDate)
	uploads := make([]string, 0, len(files)+len(sidecars.descriptions))
	for _, f := range files {
		uploads = append(uploads, f.LocalPath)
	}
	uploads = append(uploads, sidecars.descriptions...)
	uris, err := r.upload(ctx, target.Bucket, folder, uploads)
	if err != nil {
		return r.fail(err)
	}
	if err := r.prune(ctx, target.Bucket, folder, uris); err != nil {
		return r.fail(err)
	}
	r.out.GCSFolder = storage.URI(target.Bucket, folder)

	if req.Endpoint == EndpointBigQuery {
		// CatalogRegistering
		r.enter(StageCatalogRegistering)
		ref := catalogRef(target, req.Source, version, req.DatasetID)
		if err := r.register(ctx, ref, md.Description, target.Location, files, uris); err != nil {
			return r.fail(err)
		}
		r.out.CatalogDataset = ref.String()

		// ColumnDescribing
		r.enter(StageColumnDescribing)
		if main, ok := mainFile(files, a); ok && len(descriptions) > 0 {
			tableRef := catalog.TableRef{DatasetRef: ref, Table: TableID(filepath.Base(main.LocalPath))}
			if err := c.catalog.UpdateTableSchema(ctx, tableRef, descriptions); err != nil {
				return r.fail(statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to attach column descriptions").
					WithTable(main.TableName))
			}
		}
	}

	// The metadata file is what the skip check reads, so it is only written
	// once everything else for the endpoint has succeeded.
	if _, err := r.upload(ctx, target.Bucket, folder, []string{sidecars.metadata}); err != nil {
		return r.fail(err)
	}

	r.finish()
	return nil
}

// upload puts each local file under folder and returns their URIs by local path.
func (r *run) upload(ctx context.Context, bucket, folder string, paths []string) (map[string]string, error) {
	uris := make(map[string]string, len(paths))
	for _, local := range paths {
		key := folder + "/" + filepath.Base(local)
		if err := r.c.store.Put(ctx, bucket, key, local); err != nil {
			return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeUploadFailed, "upload failed").
				WithStage(string(StageUploading)).
				WithDetail("key", key)
		}
		uris[local] = storage.URI(bucket, key)
	}
	return uris, nil
}

// prune deletes objects under folder that this run did not upload: tables
// left over from an earlier run on the same day, and that run's metadata
// file until this run writes its own.
func (r *run) prune(ctx context.Context, bucket, folder string, uploaded map[string]string) error {
	keep := make(map[string]bool, len(uploaded))
	for _, uri := range uploaded {
		keep[uri] = true
	}

	keys, err := r.c.store.List(ctx, bucket, folder+"/")
	if err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeUploadFailed, "failed to list run folder").
			WithDetail("folder", folder)
	}
	for _, key := range keys {
		if keep[storage.URI(bucket, key)] {
			continue
		}
		if err := r.c.store.Delete(ctx, bucket, key); err != nil {
			return statlineerrors.Wrap(err, statlineerrors.ErrorTypeUploadFailed, "failed to remove stale object").
				WithDetail("key", key)
		}
		r.logger.Info("stale object removed", zap.String("key", key))
	}
	return nil
}

// catalogPresent reports whether the catalog dataset of an unchanged source
// still exists. A lookup error counts as absent.
func (r *run) catalogPresent(ctx context.Context, ref catalog.DatasetRef) bool {
	exists, err := r.c.catalog.DatasetExists(ctx, ref)
	if err != nil {
		r.logger.Warn("could not look up catalog dataset", zap.String("dataset", ref.String()), zap.Error(err))
		return false
	}
	if !exists {
		r.logger.Info("source unchanged but catalog dataset is missing", zap.String("dataset", ref.String()))
	}
	return exists
}

func catalogRef(target config.ProjectTarget, source string, v odata.Version, datasetID string) catalog.DatasetRef {
	return catalog.DatasetRef{Project: target.ProjectID, Dataset: CatalogDatasetID(source, v, datasetID)}
}

// finish sets the success status.
func (r *run) finish() {
	r.out.Status = StatusPublished
	if perr := r.out.PartialError(); perr != nil {
		r.out.Status = StatusPartial
		r.logger.Warn("dataset published without some tables", zap.Error(perr))
		return
	}
	r.logger.Info("dataset published", zap.Strings("tables", r.out.Tables))
}

// mainSchema returns the Main table's explicit schema, or nil to infer it.
func (r *run) mainSchema(ctx context.Context, a odata.Adapter) *schema.Schema {
	props, ok, err := r.c.discovery.MainTableSchema(ctx, r.req.DatasetID, a)
	if err != nil {
		r.logger.Warn("type description unavailable, inferring Main table schema", zap.Error(err))
		return nil
	}
	if !ok || len(props) == 0 {
		return nil
	}
	return schema.FromProperties(props)
}

// fetchAll stages every fetchable table. Only a Main table failure is
// returned; other failures are recorded on the outcome.
func (r *run) fetchAll(ctx context.Context, a odata.Adapter, tables []odata.TableDescriptor, shape odata.TableShape, explicit *schema.Schema, stagingDir string) ([]*fetch.StagedArtifact, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		staged []*fetch.StagedArtifact
		g      errgroup.Group
	)
	g.SetLimit(r.c.tableWorkers())

	for _, t := range tables {
		if !t.Fetchable() {
			continue
		}
		t := t
		g.Go(func() error {
			tableShape := odata.TableShape{}
			var tableSchema *schema.Schema
			if t.Role == odata.RoleMain {
				tableShape = shape
				tableSchema = explicit
			}

			var artifact *fetch.StagedArtifact
			err := r.c.tracer.TraceTable(ctx, t.Name, t.Role.String(), func(ctx context.Context) error {
				var err error
				artifact, err = r.c.fetcher.Fetch(ctx, a, t, tableShape, stagingDir, tableSchema)
				return err
			})
			if err != nil {
				r.c.metrics.TableDone("fetch_failed")
				if t.Role == odata.RoleMain {
					cancel()
					return err
				}
				r.logger.Warn("table fetch failed, continuing without it", zap.String("table", t.Name), zap.Error(err))
				r.recordFailure(t.Name, StageFetching, err)
				return nil
			}

			mu.Lock()
			staged = append(staged, artifact)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, s := range staged {
			_ = s.Cleanup()
		}
		return nil, err
	}

	sort.Slice(staged, func(i, j int) bool { return staged[i].Table.Name < staged[j].Table.Name })
	return staged, nil
}

// convertAll converts staged tables into outputDir, sorted by table name.
func (r *run) convertAll(ctx context.Context, a odata.Adapter, staged []*fetch.StagedArtifact, outputDir string) ([]*columnar.ColumnarFile, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		files []*columnar.ColumnarFile
		g     errgroup.Group
	)
	g.SetLimit(r.c.tableWorkers())

	for _, artifact := range staged {
		artifact := artifact
		g.Go(func() error {
			defer artifact.Cleanup() //nolint:errcheck // staging root is removed on every exit path

			name := artifact.Table.Name
			file, err := r.c.converter.Convert(ctx, artifact, columnar.Target{
				DatasetID: r.req.DatasetID,
				Version:   a.Version(),
				Dir:       outputDir,
				FileName:  TableFileName(r.req.Source, a.Version(), r.req.DatasetID, name),
			})
			if err != nil {
				r.c.metrics.TableDone("conversion_failed")
				if artifact.Table.Role == odata.RoleMain {
					cancel()
					return err
				}
				r.logger.Warn("table conversion failed, continuing without it", zap.String("table", name), zap.Error(err))
				r.recordFailure(name, StageConverting, err)
				return nil
			}
			if file == nil {
				r.c.metrics.TableDone("empty")
				mu.Lock()
				r.out.EmptyTables = append(r.out.EmptyTables, name)
				mu.Unlock()
				return nil
			}

			r.track(file.LocalPath)
			r.c.metrics.TableDone("converted")
			mu.Lock()
			files = append(files, file)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].TableName < files[j].TableName })
	sort.Strings(r.out.EmptyTables)
	return files, nil
}

// sidecarFiles are the local paths of a run's JSON side files.
type sidecarFiles struct {
	metadata string
	// descriptions holds the column descriptions file for v3, else nothing.
	descriptions []string
}

// writeSidecars writes _Metadata.json and, for v3, _ColDescriptions.json.
// It returns their paths and the column descriptions.
func (r *run) writeSidecars(ctx context.Context, a odata.Adapter, tables []odata.TableDescriptor, md *odata.Metadata, outputDir string) (sidecarFiles, map[string]string, error) {
	var files sidecarFiles
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return files, nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeFile, "failed to create output directory")
	}

	files.metadata = filepath.Join(outputDir, MetadataFileName(r.req.Source, a.Version(), r.req.DatasetID))
	if err := r.writeFile(files.metadata, md.Raw); err != nil {
		return files, nil, err
	}

	if a.Version() != odata.V3 {
		return files, nil, nil
	}

	descriptions, err := r.c.discovery.ColumnDescriptions(ctx, tables, a)
	if err != nil {
		r.logger.Warn("column descriptions unavailable", zap.Error(err))
		return files, nil, nil
	}
	data, err := gojson.Marshal(descriptions)
	if err != nil {
		return files, nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeInternal, "failed to encode column descriptions")
	}
	descPath := filepath.Join(outputDir, DescriptionsFileName(r.req.Source, a.Version(), r.req.DatasetID))
	if err := r.writeFile(descPath, data); err != nil {
		return files, nil, err
	}
	files.descriptions = []string{descPath}
	return files, descriptions, nil
}

func (r *run) writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeFile, "failed to write file").
			WithDetail("path", path)
	}
	r.track(path)
	return nil
}

// register replaces the catalog dataset and defines one external table per file.
func (r *run) register(ctx context.Context, ref catalog.DatasetRef, description, location string, files []*columnar.ColumnarFile, uris map[string]string) error {
	cat := r.c.catalog

	exists, err := cat.DatasetExists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		if err := cat.DeleteDataset(ctx, ref); err != nil {
			return err
		}
	}
	if err := cat.CreateDataset(ctx, ref, description, location); err != nil {
		return err
	}

	for _, f := range files {
		tableRef := catalog.TableRef{DatasetRef: ref, Table: TableID(filepath.Base(f.LocalPath))}
		if err := cat.CreateExternalTable(ctx, tableRef, []string{uris[f.LocalPath]}); err != nil {
			return statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to register table").
				WithTable(f.TableName)
		}
	}
	r.logger.Info("catalog dataset registered", zap.String("dataset", ref.String()), zap.Int("tables", len(files)))
	return nil
}

// cleanup removes the staging directory and, unless keepOutput, every file
// the run wrote plus the output directory if it is then empty.
func (r *run) cleanup(outputDir, stagingDir string, keepOutput bool) error {
	var errs []error
	if err := os.RemoveAll(stagingDir); err != nil {
		errs = append(errs, err)
	}
	if !keepOutput {
		r.mu.Lock()
		written := r.written
		r.mu.Unlock()
		for _, p := range written {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		if entries, err := os.ReadDir(outputDir); err == nil && len(entries) == 0 {
			_ = os.Remove(outputDir)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) tableWorkers() int {
	if c.cfg.Pipeline.TableWorkers < 1 {
		return 1
	}
	return c.cfg.Pipeline.TableWorkers
}

func mainFile(files []*columnar.ColumnarFile, a odata.Adapter) (*columnar.ColumnarFile, bool) {
	for _, f := range files {
		if f.TableName == a.MainTableName() {
			return f, true
		}
	}
	return nil, false
}
