package columnar

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/statline/pkg/schema"
)

// parquetWriter implements Writer for Parquet format. Each flushed batch
// becomes its own row group so memory stays bounded by BatchSize.
type parquetWriter struct {
	config         *WriterConfig
	arrowSchema    *arrow.Schema
	fileWriter     *pqarrow.FileWriter
	recordBuilder  *array.RecordBuilder
	recordsWritten int64
	currentBatch   int
}

func newParquetWriter(w io.Writer, config *WriterConfig) (*parquetWriter, error) {
	if config.Schema == nil {
		return nil, fmt.Errorf("schema is required for Parquet writer")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWriterConfig().BatchSize
	}

	arrowSchema, err := ToArrowSchema(config.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema: %w", err)
	}

	pw := &parquetWriter{
		config:      config,
		arrowSchema: arrowSchema,
	}

	pool := memory.NewGoAllocator()
	pw.recordBuilder = array.NewRecordBuilder(pool, arrowSchema)

	opts := []parquet.WriterProperty{
		parquet.WithCompression(getParquetCompression(config.Compression)),
		parquet.WithDictionaryDefault(config.DictionarySize > 0),
		parquet.WithCreatedBy("statline"),
	}
	if config.PageSize > 0 {
		opts = append(opts, parquet.WithDataPageSize(int64(config.PageSize)))
	}
	if config.DictionarySize > 0 {
		opts = append(opts, parquet.WithDictionaryPageSizeLimit(int64(config.DictionarySize)))
	}
	props := parquet.NewWriterProperties(opts...)

	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(pool),
	)

	fw, err := pqarrow.NewFileWriter(arrowSchema, w, props, arrowProps)
	if err != nil {
		pw.recordBuilder.Release()
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	pw.fileWriter = fw

	return pw, nil
}

func (pw *parquetWriter) WriteRow(values []interface{}) error {
	if len(values) != len(pw.arrowSchema.Fields()) {
		return fmt.Errorf("row has %d values, schema has %d fields", len(values), len(pw.arrowSchema.Fields()))
	}

	for i, field := range pw.arrowSchema.Fields() {
		if err := pw.appendValue(i, values[i]); err != nil {
			return fmt.Errorf("failed to append value for field %s: %w", field.Name, err)
		}
	}

	pw.currentBatch++
	if pw.currentBatch >= pw.config.BatchSize {
		return pw.flushBatch()
	}
	return nil
}

func (pw *parquetWriter) Flush() error {
	return pw.flushBatch()
}

func (pw *parquetWriter) Close() error {
	defer pw.recordBuilder.Release()

	if err := pw.flushBatch(); err != nil {
		_ = pw.fileWriter.Close()
		return err
	}
	if err := pw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

func (pw *parquetWriter) Format() Format {
	return Parquet
}

func (pw *parquetWriter) RecordsWritten() int64 {
	return pw.recordsWritten
}

func (pw *parquetWriter) flushBatch() error {
	if pw.currentBatch == 0 {
		return nil
	}

	record := pw.recordBuilder.NewRecord()
	defer record.Release()

	if err := pw.fileWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}

	pw.recordsWritten += int64(pw.currentBatch)
	pw.currentBatch = 0
	return nil
}

func (pw *parquetWriter) appendValue(colIdx int, value interface{}) error {
	builder := pw.recordBuilder.Field(colIdx)

	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		b.Append(v)

	case *array.Int64Builder:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", value)
		}
		b.Append(v)

	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case int64:
			b.Append(float64(v))
		default:
			return fmt.Errorf("expected float64, got %T", value)
		}

	case *array.StringBuilder:
		if v, ok := value.(string); ok {
			b.Append(v)
		} else {
			b.Append(fmt.Sprintf("%v", value))
		}

	default:
		return fmt.Errorf("unsupported builder type: %T", builder)
	}

	return nil
}

// ToArrowSchema converts a table schema to an Arrow schema. Every column is nullable.
func ToArrowSchema(s *schema.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(s.Fields))

	for _, field := range s.Fields {
		arrowType, err := toArrowType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %s: %w", field.Name, err)
		}

		fields = append(fields, arrow.Field{
			Name:     field.Name,
			Type:     arrowType,
			Nullable: true,
		})
	}

	return arrow.NewSchema(fields, nil), nil
}

func toArrowType(fieldType schema.FieldType) (arrow.DataType, error) {
	switch fieldType {
	case schema.FieldTypeString:
		return arrow.BinaryTypes.String, nil
	case schema.FieldTypeInt:
		return arrow.PrimitiveTypes.Int64, nil
	case schema.FieldTypeFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case schema.FieldTypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, fmt.Errorf("unsupported field type: %s", fieldType)
	}
}

func getParquetCompression(name string) compress.Compression {
	switch strings.ToLower(name) {
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Snappy
	}
}
