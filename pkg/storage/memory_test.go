package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/statline/pkg/testutil"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	path := testutil.WriteFile(t, t.TempDir(), "a.parquet", []byte("PAR1"))
	require.NoError(t, store.Put(ctx, "bucket", "cbs/v3/83583NED/20240102/a.parquet", path))
	store.PutBytes("bucket", "cbs/v3/83583NED/20240101/_Metadata.json", []byte(`{}`))
	store.PutBytes("other", "cbs/v3/83583NED/20240103/_Metadata.json", []byte(`{}`))

	keys, err := store.List(ctx, "bucket", "cbs/v3/83583NED/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cbs/v3/83583NED/20240101/_Metadata.json",
		"cbs/v3/83583NED/20240102/a.parquet",
	}, keys)

	data, err := store.Get(ctx, "bucket", "cbs/v3/83583NED/20240102/a.parquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("PAR1"), data)

	_, err = store.Get(ctx, "bucket", "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.Equal(t, 3, store.Puts())

	require.NoError(t, store.Delete(ctx, "bucket", "cbs/v3/83583NED/20240101/_Metadata.json"))
	require.NoError(t, store.Delete(ctx, "bucket", "missing"))
	keys, err = store.List(ctx, "bucket", "cbs/v3/83583NED/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cbs/v3/83583NED/20240102/a.parquet"}, keys)
}

func TestURI(t *testing.T) {
	assert.Equal(t, "gs://b/cbs/v3/x.parquet", URI("b", "cbs/v3/x.parquet"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.apache.parquet", contentType("a/b.parquet"))
	assert.Equal(t, "application/json", contentType("a/_Metadata.json"))
	assert.Equal(t, "application/octet-stream", contentType("a/b"))
}
