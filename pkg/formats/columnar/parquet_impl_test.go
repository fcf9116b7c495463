package columnar

import (
	"bytes"
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/statline/pkg/schema"
)

var testSchema = &schema.Schema{Fields: []schema.Field{
	{Name: "ID", Source: "ID", Type: schema.FieldTypeInt},
	{Name: "Perioden", Source: "Perioden", Type: schema.FieldTypeString},
	{Name: "Waarde", Source: "Waarde", Type: schema.FieldTypeFloat},
	{Name: "Voorlopig", Source: "Voorlopig", Type: schema.FieldTypeBool},
}}

func readTable(t *testing.T, data []byte) arrow.Table {
	t.Helper()
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	tbl, err := fr.ReadTable(context.Background())
	require.NoError(t, err)
	return tbl
}

func TestParquetWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultWriterConfig()
	cfg.Schema = testSchema
	cfg.BatchSize = 2

	w, err := NewWriter(&buf, cfg)
	require.NoError(t, err)

	rows := [][]interface{}{
		{int64(0), "2020JJ00", 1.5, true},
		{int64(1), "2021JJ00", nil, false},
		{nil, nil, int64(3), nil},
	}
	for _, row := range rows {
		require.NoError(t, w.WriteRow(row))
	}
	assert.Equal(t, int64(2), w.RecordsWritten())
	require.NoError(t, w.Close())
	assert.Equal(t, int64(3), w.RecordsWritten())

	tbl := readTable(t, buf.Bytes())
	defer tbl.Release()

	assert.Equal(t, int64(3), tbl.NumRows())
	assert.Equal(t, "Perioden", tbl.Schema().Field(1).Name)

	waarde := tbl.Column(2).Data().Chunk(0).(*array.Float64)
	assert.Equal(t, 1.5, waarde.Value(0))
	assert.True(t, waarde.IsNull(1))

	ids := tbl.Column(0).Data()
	assert.Equal(t, 1, ids.NullN())
}

func TestParquetWriter_Errors(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, DefaultWriterConfig())
	assert.Error(t, err, "schema required")

	cfg := DefaultWriterConfig()
	cfg.Schema = testSchema
	cfg.Format = "orc"
	_, err = NewWriter(&bytes.Buffer{}, cfg)
	assert.Error(t, err)

	cfg.Format = Parquet
	w, err := NewWriter(&bytes.Buffer{}, cfg)
	require.NoError(t, err)
	assert.Error(t, w.WriteRow([]interface{}{int64(1)}))
	assert.Error(t, w.WriteRow([]interface{}{"x", "y", 1.0, true}))
}

func TestParquetWriter_Deterministic(t *testing.T) {
	write := func() []byte {
		var buf bytes.Buffer
		cfg := DefaultWriterConfig()
		cfg.Schema = testSchema
		w, err := NewWriter(&buf, cfg)
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			require.NoError(t, w.WriteRow([]interface{}{int64(i), "p", float64(i) / 3, i%2 == 0}))
		}
		require.NoError(t, w.Close())
		return buf.Bytes()
	}

	assert.Equal(t, write(), write())
}
