// Package fetch stages every page of a table to local disk without holding
// the table in memory.
package fetch

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/statline/pkg/logger"
	"github.com/ajitpratap0/statline/pkg/metrics"
	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/schema"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// PageSource retrieves one page. *odata.Client implements it.
type PageSource interface {
	FetchPage(ctx context.Context, url, cursorField string) (*odata.Page, error)
}

// Plan is how a table will be paginated.
type Plan struct {
	// URLs are the pre-computed page URLs; with FollowCursor only the first is known.
	URLs         []string
	FollowCursor bool
}

// Fetcher stages tables page by page.
type Fetcher struct {
	source      PageSource
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// NewFetcher creates a Fetcher issuing at most concurrency page requests at once.
func NewFetcher(source PageSource, concurrency int, logger *zap.Logger, collector *metrics.Collector) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		source:      source,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "fetcher")),
		metrics:     collector,
	}
}

// Plan decides the page requests for a table. Only the Main table is
// paginated by row count; when the count is unknown or the dialect's
// strategy is cursor-following, next links are followed instead.
func (f *Fetcher) Plan(a odata.Adapter, table odata.TableDescriptor, shape odata.TableShape) Plan {
	if table.Role != odata.RoleMain {
		return Plan{URLs: []string{table.SourceURL}}
	}
	if a.Strategy() == odata.FollowCursor || shape.RowCount == nil {
		return Plan{URLs: []string{table.SourceURL}, FollowCursor: true}
	}
	return Plan{URLs: a.PageURLs(table.SourceURL, *shape.RowCount)}
}

// Fetch stages all pages of table below stagingRoot. Any page failure
// removes everything staged for the table and returns FetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, a odata.Adapter, table odata.TableDescriptor, shape odata.TableShape, stagingRoot string, explicit *schema.Schema) (*StagedArtifact, error) {
	if !table.Fetchable() {
		return nil, statlineerrors.New(statlineerrors.ErrorTypeValidation, "metadata tables are not fetched").
			WithTable(table.Name)
	}

	dir := filepath.Join(stagingRoot, table.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeFetchFailed, "failed to create staging directory").
			WithTable(table.Name)
	}

	artifact := &StagedArtifact{Table: table, Dir: dir, Schema: explicit}
	plan := f.Plan(a, table, shape)

	ctx = logger.WithTable(ctx, table.Name)
	log := logger.FromContext(ctx, f.logger).With(
		zap.String("role", table.Role.String()),
		zap.Bool("follow_cursor", plan.FollowCursor),
		zap.Int("planned_pages", len(plan.URLs)))
	log.Debug("fetching table")

	var err error
	if plan.FollowCursor {
		err = f.followCursor(ctx, a, artifact, plan.URLs[0])
	} else {
		err = f.fetchPages(ctx, a, artifact, plan.URLs)
	}
	if err != nil {
		_ = artifact.Cleanup()
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeFetchFailed, "failed to stage table").
			WithTable(table.Name)
	}

	artifact.sortPages()
	for _, p := range artifact.Pages {
		artifact.Rows += int64(p.Rows)
	}

	log.Info("table staged",
		zap.Int("pages", len(artifact.Pages)),
		zap.Int64("rows", artifact.Rows))
	return artifact, nil
}

// fetchPages issues pre-computed page requests concurrently.
func (f *Fetcher) fetchPages(ctx context.Context, a odata.Adapter, artifact *StagedArtifact, urls []string) error {
	pages := make([]StagedPage, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			page, err := f.stagePage(gctx, a, artifact, i, url)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	artifact.Pages = pages
	return nil
}

// followCursor requests pages sequentially until no next link is returned.
func (f *Fetcher) followCursor(ctx context.Context, a odata.Adapter, artifact *StagedArtifact, first string) error {
	seen := make(map[string]struct{})

	for i, url := 0, first; url != ""; i++ {
		if _, dup := seen[url]; dup {
			return statlineerrors.New(statlineerrors.ErrorTypeData, "next link repeats an earlier page").
				WithDetail("url", url)
		}
		seen[url] = struct{}{}

		page, nextURL, err := f.stageCursorPage(ctx, a, artifact, i, url)
		if err != nil {
			return err
		}
		artifact.Pages = append(artifact.Pages, page)
		url = nextURL
	}
	return nil
}

func (f *Fetcher) stagePage(ctx context.Context, a odata.Adapter, artifact *StagedArtifact, index int, url string) (StagedPage, error) {
	page, _, err := f.stageCursorPage(ctx, a, artifact, index, url)
	return page, err
}

func (f *Fetcher) stageCursorPage(ctx context.Context, a odata.Adapter, artifact *StagedArtifact, index int, url string) (StagedPage, string, error) {
	page, err := f.source.FetchPage(ctx, url, a.NextCursorField())
	if err != nil {
		return StagedPage{}, "", statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "page request failed").
			WithDetail("page", index).
			WithDetail("url", url)
	}

	path := pagePath(artifact.Dir, index)
	if err := writePage(path, page.Records); err != nil {
		return StagedPage{}, "", statlineerrors.Wrap(err, statlineerrors.ErrorTypeFile, "failed to write page").
			WithDetail("page", index)
	}

	logger.FromContext(ctx, f.logger).Debug("page staged",
		zap.Int("page", index),
		zap.Int("rows", len(page.Records)),
		zap.String("url", url))
	f.metrics.PageStaged(string(a.Version()), artifact.Table.Role.String(), len(page.Records))

	return StagedPage{Index: index, Path: path, Rows: len(page.Records)}, page.Next, nil
}
