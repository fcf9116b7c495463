package catalog

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/statline/pkg/schema"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// BigQueryCatalog is a Catalog backed by BigQuery.
type BigQueryCatalog struct {
	client *bigquery.Client
	logger *zap.Logger
}

// NewBigQueryCatalog creates a client billed to projectID.
func NewBigQueryCatalog(ctx context.Context, projectID string, logger *zap.Logger, opts ...option.ClientOption) (*BigQueryCatalog, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "failed to create BigQuery client")
	}
	return &BigQueryCatalog{
		client: client,
		logger: logger.With(zap.String("component", "bigquery")),
	}, nil
}

func (c *BigQueryCatalog) dataset(ref DatasetRef) *bigquery.Dataset {
	return c.client.DatasetInProject(ref.Project, ref.Dataset)
}

// DatasetExists reports whether the dataset is defined.
func (c *BigQueryCatalog) DatasetExists(ctx context.Context, ref DatasetRef) (bool, error) {
	_, err := c.dataset(ref).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to read dataset").
		WithDetail("dataset", ref.String())
}

// CreateDataset creates an empty dataset.
func (c *BigQueryCatalog) CreateDataset(ctx context.Context, ref DatasetRef, description, location string) error {
	err := c.dataset(ref).Create(ctx, &bigquery.DatasetMetadata{
		Description: description,
		Location:    location,
	})
	if err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to create dataset").
			WithDetail("dataset", ref.String())
	}
	c.logger.Info("dataset created", zap.String("dataset", ref.String()), zap.String("location", location))
	return nil
}

// DeleteDataset drops the dataset with its tables.
func (c *BigQueryCatalog) DeleteDataset(ctx context.Context, ref DatasetRef) error {
	err := c.dataset(ref).DeleteWithContents(ctx)
	switch {
	case err == nil:
		c.logger.Info("dataset deleted", zap.String("dataset", ref.String()))
	case isNotFound(err):
		c.logger.Debug("dataset already absent", zap.String("dataset", ref.String()))
	default:
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to delete dataset").
			WithDetail("dataset", ref.String())
	}
	return nil
}

// CreateExternalTable defines a Parquet external table; the schema is read
// from the files.
func (c *BigQueryCatalog) CreateExternalTable(ctx context.Context, ref TableRef, sourceURIs []string) error {
	md := &bigquery.TableMetadata{
		ExternalDataConfig: &bigquery.ExternalDataConfig{
			SourceFormat: bigquery.Parquet,
			SourceURIs:   sourceURIs,
		},
	}
	if err := c.dataset(ref.DatasetRef).Table(ref.Table).Create(ctx, md); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to create external table").
			WithTable(ref.Table).
			WithDetail("uris", sourceURIs)
	}
	c.logger.Info("external table created", zap.String("table", ref.String()), zap.Strings("uris", sourceURIs))
	return nil
}

// UpdateTableSchema attaches column descriptions.
func (c *BigQueryCatalog) UpdateTableSchema(ctx context.Context, ref TableRef, descriptions map[string]string) error {
	table := c.dataset(ref.DatasetRef).Table(ref.Table)
	md, err := table.Metadata(ctx)
	if err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to read table").
			WithTable(ref.Table)
	}

	updated, n := applyDescriptions(md.Schema, descriptions)
	if n == 0 {
		c.logger.Debug("no column descriptions matched", zap.String("table", ref.String()))
		return nil
	}

	if _, err := table.Update(ctx, bigquery.TableMetadataToUpdate{Schema: updated}, md.ETag); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeCatalogRegistrationFailed, "failed to update table schema").
			WithTable(ref.Table)
	}
	c.logger.Info("column descriptions attached", zap.String("table", ref.String()), zap.Int("columns", n))
	return nil
}

// Close releases the client.
func (c *BigQueryCatalog) Close() error {
	return c.client.Close()
}

// applyDescriptions returns a copy of s with descriptions set on matching
// columns and the number of columns changed. Description keys are matched
// after the same sanitization column names went through.
func applyDescriptions(s bigquery.Schema, descriptions map[string]string) (bigquery.Schema, int) {
	byName := make(map[string]string, len(descriptions))
	for k, v := range descriptions {
		byName[schema.SanitizeName(k)] = v
	}

	out := make(bigquery.Schema, len(s))
	n := 0
	for i, f := range s {
		field := *f
		if d, ok := byName[field.Name]; ok && d != "" {
			field.Description = d
			n++
		}
		out[i] = &field
	}
	return out, n
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
