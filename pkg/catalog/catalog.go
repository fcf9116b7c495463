// Package catalog registers published files as external tables in the data
// warehouse catalog.
package catalog

import (
	"context"
	"fmt"
)

// DatasetRef names a catalog dataset.
type DatasetRef struct {
	Project string
	Dataset string
}

func (r DatasetRef) String() string {
	return fmt.Sprintf("%s.%s", r.Project, r.Dataset)
}

// TableRef names a table within a dataset.
type TableRef struct {
	DatasetRef
	Table string
}

func (r TableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Project, r.Dataset, r.Table)
}

// Catalog is the warehouse metadata service.
type Catalog interface {
	DatasetExists(ctx context.Context, ref DatasetRef) (bool, error)
	CreateDataset(ctx context.Context, ref DatasetRef, description, location string) error
	// DeleteDataset removes the dataset and every table in it.
	DeleteDataset(ctx context.Context, ref DatasetRef) error
	// CreateExternalTable defines a Parquet-backed table over sourceURIs.
	CreateExternalTable(ctx context.Context, ref TableRef, sourceURIs []string) error
	// UpdateTableSchema sets column descriptions, keyed by column name.
	// Columns without a description are left unchanged.
	UpdateTableSchema(ctx context.Context, ref TableRef, descriptions map[string]string) error
}
