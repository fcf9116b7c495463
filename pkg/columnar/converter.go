package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/statline/pkg/fetch"
	colfmt "github.com/ajitpratap0/statline/pkg/formats/columnar"
	"github.com/ajitpratap0/statline/pkg/logger"
	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/schema"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// Source is a table's staged pages. *fetch.StagedArtifact implements it.
type Source interface {
	TableName() string
	// ExplicitSchema is nil when the schema must be inferred.
	ExplicitSchema() *schema.Schema
	PageCount() int
	OpenPage(i int) (fetch.RecordReader, error)
	RemovePage(i int) error
}

// Target is where a converted table is written.
type Target struct {
	DatasetID string
	Version   odata.Version
	Dir       string
	FileName  string
}

// ColumnarFile is one finished table file on local disk.
type ColumnarFile struct {
	DatasetID string
	Version   odata.Version
	TableName string
	LocalPath string
	Rows      int64
	Schema    *schema.Schema
}

// ConverterConfig configures the Parquet output.
type ConverterConfig struct {
	// BatchSize is the number of rows per row group.
	BatchSize   int
	Compression string
}

// DefaultConverterConfig returns the default configuration.
func DefaultConverterConfig() ConverterConfig {
	return ConverterConfig{
		BatchSize:   10000,
		Compression: "snappy",
	}
}

// Converter merges staged pages into Parquet files.
type Converter struct {
	config ConverterConfig
	logger *zap.Logger
}

// NewConverter creates a Converter.
func NewConverter(config ConverterConfig, logger *zap.Logger) *Converter {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConverterConfig().BatchSize
	}
	return &Converter{
		config: config,
		logger: logger.With(zap.String("component", "converter")),
	}
}

// Convert writes all pages of src to dst. Without an explicit schema the
// pages are read twice, once to infer column types. It returns a nil
// file and a nil error when the table holds no records. Pages are removed as
// they are consumed; on error no output file is left behind and the error
// is ConversionFailed.
func (c *Converter) Convert(ctx context.Context, src Source, dst Target) (*ColumnarFile, error) {
	table := src.TableName()
	ctx = logger.WithTable(ctx, table)
	log := logger.FromContext(ctx, c.logger)

	file, err := c.convert(ctx, src, dst)
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConversionFailed, "failed to convert table").
			WithTable(table)
	}
	if file == nil {
		log.Info("table is empty, no file written")
		return nil, nil
	}

	log.Info("table converted",
		zap.String("path", file.LocalPath),
		zap.Int64("rows", file.Rows),
		zap.Int("columns", len(file.Schema.Fields)))
	return file, nil
}

func (c *Converter) convert(ctx context.Context, src Source, dst Target) (*ColumnarFile, error) {
	sch := src.ExplicitSchema()
	if sch == nil {
		inferred, err := inferSchema(ctx, src)
		if err != nil {
			return nil, err
		}
		if inferred == nil {
			return nil, removePages(src)
		}
		sch = inferred
	}

	if err := os.MkdirAll(dst.Dir, 0o755); err != nil {
		return nil, err
	}
	finalPath := filepath.Join(dst.Dir, dst.FileName)
	tmpPath := finalPath + ".tmp"

	rows, err := c.writeFile(ctx, src, sch, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if rows == 0 {
		_ = os.Remove(tmpPath)
		return nil, nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	return &ColumnarFile{
		DatasetID: dst.DatasetID,
		Version:   dst.Version,
		TableName: src.TableName(),
		LocalPath: finalPath,
		Rows:      rows,
		Schema:    sch,
	}, nil
}

// inferSchema scans every page once so that column types reflect the whole
// table. It returns nil when no page holds a record.
func inferSchema(ctx context.Context, src Source) (*schema.Schema, error) {
	in := schema.NewInferrer()
	for i := 0; i < src.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := streamPage(src, i, in.Observe); err != nil {
			return nil, fmt.Errorf("schema inference failed: %w", err)
		}
	}
	if in.Records() == 0 {
		return nil, nil
	}
	return in.Schema(), nil
}

func removePages(src Source) error {
	for i := 0; i < src.PageCount(); i++ {
		if err := src.RemovePage(i); err != nil {
			return err
		}
	}
	return nil
}

// writeFile streams every page into path, removing each page once written.
func (c *Converter) writeFile(ctx context.Context, src Source, sch *schema.Schema, path string) (rows int64, err error) {
	f, err := os.Create(path) //nolint:gosec // G304: path is built from the output directory
	if err != nil {
		return 0, err
	}
	defer func() {
		// The Parquet writer closes its sink when it is closed.
		if cerr := f.Close(); err == nil && cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = cerr
		}
	}()

	cfg := colfmt.DefaultWriterConfig()
	cfg.Schema = sch
	cfg.BatchSize = c.config.BatchSize
	cfg.Compression = c.config.Compression

	w, err := colfmt.NewWriter(f, cfg)
	if err != nil {
		return 0, err
	}

	row := make([]interface{}, len(sch.Fields))
	write := func(rec []byte) error {
		if err := toRow(rec, sch, row); err != nil {
			return err
		}
		return w.WriteRow(row)
	}

	for i := 0; i < src.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return 0, err
		}
		if err := streamPage(src, i, write); err != nil {
			_ = w.Close()
			return 0, err
		}
		if err := src.RemovePage(i); err != nil {
			_ = w.Close()
			return 0, err
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.RecordsWritten(), nil
}

func streamPage(src Source, i int, fn func([]byte) error) error {
	r, err := src.OpenPage(i)
	if err != nil {
		return err
	}
	defer r.Close()

	for n := 0; ; n++ {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("page %d record %d: %w", i, n, err)
		}
	}
}

// toRow fills row with rec's values in schema order. Keys missing from the
// record become nulls; keys absent from the schema are ignored.
func toRow(rec []byte, sch *schema.Schema, row []interface{}) error {
	m, err := schema.DecodeRecord(rec)
	if err != nil {
		return err
	}
	for i, field := range sch.Fields {
		v, err := schema.Coerce(m[field.Source], field.Type)
		if err != nil {
			return fmt.Errorf("column %s: %w", field.Name, err)
		}
		row[i] = v
	}
	return nil
}
