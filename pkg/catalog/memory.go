package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// MemoryTable is an external table held by MemoryCatalog.
type MemoryTable struct {
	SourceURIs   []string
	Descriptions map[string]string
}

// MemoryDataset is a dataset held by MemoryCatalog.
type MemoryDataset struct {
	Description string
	Location    string
	Tables      map[string]*MemoryTable
}

// MemoryCatalog is an in-process Catalog for dry runs and tests.
type MemoryCatalog struct {
	mu       sync.Mutex
	datasets map[DatasetRef]*MemoryDataset
	// FailTables makes CreateExternalTable fail for these table ids.
	FailTables map[string]bool
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{datasets: make(map[DatasetRef]*MemoryDataset)}
}

func (m *MemoryCatalog) DatasetExists(_ context.Context, ref DatasetRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.datasets[ref]
	return ok, nil
}

func (m *MemoryCatalog) CreateDataset(_ context.Context, ref DatasetRef, description, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[ref]; ok {
		return statlineerrors.Newf(statlineerrors.ErrorTypeCatalogRegistrationFailed, "dataset %s already exists", ref)
	}
	m.datasets[ref] = &MemoryDataset{
		Description: description,
		Location:    location,
		Tables:      make(map[string]*MemoryTable),
	}
	return nil
}

func (m *MemoryCatalog) DeleteDataset(_ context.Context, ref DatasetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.datasets, ref)
	return nil
}

func (m *MemoryCatalog) CreateExternalTable(_ context.Context, ref TableRef, sourceURIs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTables[ref.Table] {
		return statlineerrors.New(statlineerrors.ErrorTypeCatalogRegistrationFailed, "table rejected").WithTable(ref.Table)
	}
	ds, ok := m.datasets[ref.DatasetRef]
	if !ok {
		return statlineerrors.Newf(statlineerrors.ErrorTypeCatalogRegistrationFailed, "dataset %s does not exist", ref.DatasetRef)
	}
	if _, ok := ds.Tables[ref.Table]; ok {
		return statlineerrors.Newf(statlineerrors.ErrorTypeCatalogRegistrationFailed, "table %s already exists", ref)
	}
	ds.Tables[ref.Table] = &MemoryTable{SourceURIs: append([]string(nil), sourceURIs...)}
	return nil
}

func (m *MemoryCatalog) UpdateTableSchema(_ context.Context, ref TableRef, descriptions map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[ref.DatasetRef]
	if !ok {
		return statlineerrors.Newf(statlineerrors.ErrorTypeCatalogRegistrationFailed, "dataset %s does not exist", ref.DatasetRef)
	}
	t, ok := ds.Tables[ref.Table]
	if !ok {
		return statlineerrors.Newf(statlineerrors.ErrorTypeCatalogRegistrationFailed, "table %s does not exist", ref)
	}
	t.Descriptions = make(map[string]string, len(descriptions))
	for k, v := range descriptions {
		t.Descriptions[k] = v
	}
	return nil
}

// Dataset returns a snapshot of a dataset, or nil.
func (m *MemoryCatalog) Dataset(ref DatasetRef) *MemoryDataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[ref]
	if !ok {
		return nil
	}
	cp := &MemoryDataset{Description: ds.Description, Location: ds.Location, Tables: make(map[string]*MemoryTable, len(ds.Tables))}
	for name, t := range ds.Tables {
		tc := *t
		cp.Tables[name] = &tc
	}
	return cp
}

// TableNames returns the sorted table ids of a dataset.
func (m *MemoryCatalog) TableNames(ref DatasetRef) []string {
	ds := m.Dataset(ref)
	if ds == nil {
		return nil
	}
	names := make([]string, 0, len(ds.Tables))
	for name := range ds.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
