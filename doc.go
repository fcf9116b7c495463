// Package statline publishes statistics datasets from an OData API to Google
// Cloud Storage and BigQuery.
//
// A dataset is published in one run: the protocol version is detected, the
// run is skipped when the source has not changed since the last publish, and
// otherwise every table is fetched page by page, converted to Parquet and
// uploaded under a dated folder. The BigQuery dataset is then rebuilt with
// one external table per file.
//
// # Architecture
//
// The module is organised in layers:
//
//   - pkg/odata: version detection, dialect adapters, table discovery and
//     paged JSON retrieval for OData v3 and v4
//   - pkg/fetch: stages every page of a table to disk as gzipped NDJSON
//   - pkg/schema and pkg/columnar: schema derivation and Parquet conversion
//   - pkg/storage and pkg/catalog: Cloud Storage and BigQuery, with
//     in-memory implementations for dry runs and tests
//   - internal/pipeline: the per-dataset state machine tying it together
//   - cmd/statline: the command line interface
//
// # Quick Start
//
//	statline run --dataset 83583NED --env dev --config statline.toml
//
// prints one JSON outcome line per dataset:
//
//	{"dataset_id":"83583NED","source":"cbs","odata_version":"v3","status":"published",...}
//
// # Configuration
//
// Configuration is read from TOML, YAML or JSON and may be overridden with
// STATLINE_ prefixed environment variables:
//
//	[gcp.dev]
//	project_id = "statline-dev"
//	bucket     = "statline-dev"
//	location   = "EU"
//
//	[odata]
//	rate_limit = 10
//
//	[pipeline]
//	table_workers = 4
//
// See pkg/config for every option.
package statline
