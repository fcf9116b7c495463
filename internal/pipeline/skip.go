package pipeline

import (
	"context"
	"errors"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/storage"
)

// publishedModified reads the last-modified timestamp recorded by the most
// recent publish of a dataset. It reports false when no previous publish,
// metadata file or timestamp can be found; any such gap means "do not skip".
func publishedModified(ctx context.Context, store storage.BlobStore, bucket, source string, a odata.Adapter, datasetID string, logger *zap.Logger) (string, bool) {
	prefix := DatasetPrefix(source, a.Version(), datasetID)
	keys, err := store.List(ctx, bucket, prefix)
	if err != nil {
		logger.Warn("could not list previous publishes", zap.String("prefix", prefix), zap.Error(err))
		return "", false
	}

	folder, ok := latestRunFolder(keys, prefix)
	if !ok {
		return "", false
	}

	key := ""
	for _, k := range keys {
		if strings.HasPrefix(k, folder+"/") && strings.HasSuffix(k, metadataSuffix) {
			key = k
			break
		}
	}
	if key == "" {
		logger.Debug("latest publish has no metadata file", zap.String("folder", folder))
		return "", false
	}

	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			logger.Warn("could not read previous metadata", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}

	var fields map[string]interface{}
	if err := gojson.Unmarshal(data, &fields); err != nil {
		logger.Warn("previous metadata is not valid JSON", zap.String("key", key), zap.Error(err))
		return "", false
	}
	modified, _ := fields[a.MetadataKeys().Modified].(string)
	return modified, modified != ""
}

// shouldSkip applies the skip policy: both timestamps known and equal, and
// the run not forced.
func shouldSkip(sourceModified, published string, havePublished, force bool) bool {
	return !force && havePublished && sourceModified != "" && sourceModified == published
}
