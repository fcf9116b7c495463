package pipeline

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/ajitpratap0/statline/pkg/odata"
)

const (
	parquetExt          = ".parquet"
	metadataSuffix      = "_Metadata.json"
	descriptionsSuffix  = "_ColDescriptions.json"
	runDateLayout       = "20060102"
	fileNameSeparator   = "."
	catalogIDSeparator  = "_"
	tableIDSegmentIndex = 2
)

var runDatePattern = regexp.MustCompile(`^\d{8}$`)

// filePrefix is "{source}.{version}.{id}".
func filePrefix(source string, v odata.Version, datasetID string) string {
	return strings.Join([]string{source, string(v), datasetID}, fileNameSeparator)
}

// TableFileName is "{source}.{version}.{id}_{table}.parquet".
func TableFileName(source string, v odata.Version, datasetID, table string) string {
	return filePrefix(source, v, datasetID) + "_" + table + parquetExt
}

// MetadataFileName is "{source}.{version}.{id}_Metadata.json".
func MetadataFileName(source string, v odata.Version, datasetID string) string {
	return filePrefix(source, v, datasetID) + metadataSuffix
}

// DescriptionsFileName is "{source}.{version}.{id}_ColDescriptions.json".
func DescriptionsFileName(source string, v odata.Version, datasetID string) string {
	return filePrefix(source, v, datasetID) + descriptionsSuffix
}

// DatasetPrefix is the blob-store folder holding every run of a dataset.
func DatasetPrefix(source string, v odata.Version, datasetID string) string {
	return path.Join(source, string(v), datasetID) + "/"
}

// RunFolder is the dated blob-store folder of one run.
func RunFolder(source string, v odata.Version, datasetID string, runDate time.Time) string {
	return path.Join(source, string(v), datasetID, runDate.Format(runDateLayout))
}

// CatalogDatasetID is "{source}_{version}_{id}".
func CatalogDatasetID(source string, v odata.Version, datasetID string) string {
	return strings.Join([]string{source, string(v), datasetID}, catalogIDSeparator)
}

// TableID is the third dot-separated segment of a published file name.
func TableID(fileName string) string {
	parts := strings.Split(path.Base(fileName), fileNameSeparator)
	if len(parts) <= tableIDSegmentIndex {
		return strings.TrimSuffix(fileName, parquetExt)
	}
	return parts[tableIDSegmentIndex]
}

// latestRunFolder returns the greatest YYYYMMDD folder directly below
// prefix, or false when there is none.
func latestRunFolder(keys []string, prefix string) (string, bool) {
	latest := ""
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		folder, _, found := strings.Cut(rest, "/")
		if !found || !runDatePattern.MatchString(folder) {
			continue
		}
		if folder > latest {
			latest = folder
		}
	}
	if latest == "" {
		return "", false
	}
	return prefix + latest, true
}
