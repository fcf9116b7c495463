// Package columnar writes rows into columnar files.
package columnar

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/statline/pkg/schema"
)

// Format represents a columnar storage format
type Format string

const (
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
)

// Writer writes rows in schema order.
type Writer interface {
	// WriteRow appends one row; values are nil, int64, float64, bool or string.
	WriteRow(values []interface{}) error
	// Flush writes buffered rows as a record batch
	Flush() error
	// Close flushes and finalizes the file
	Close() error
	// Format returns the columnar format
	Format() Format
	// RecordsWritten returns rows written so far
	RecordsWritten() int64
}

// WriterConfig configures columnar writers
type WriterConfig struct {
	Format         Format
	Schema         *schema.Schema
	Compression    string
	BatchSize      int
	PageSize       int
	DictionarySize int
}

// DefaultWriterConfig returns default writer configuration
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		Format:         Parquet,
		Compression:    "snappy",
		BatchSize:      10000,
		PageSize:       1024 * 1024,
		DictionarySize: 1024 * 1024,
	}
}

// NewWriter creates a new columnar writer
func NewWriter(w io.Writer, config *WriterConfig) (Writer, error) {
	if config == nil {
		config = DefaultWriterConfig()
	}

	switch config.Format {
	case Parquet, "":
		return newParquetWriter(w, config)
	default:
		return nil, fmt.Errorf("unsupported columnar format: %s", config.Format)
	}
}
