// Package config loads and validates statline's configuration.
//
// A single immutable Config is built once per process by Load and passed into
// the pipeline. It carries one cloud target per environment tier, the local
// staging layout, and the OData client and pipeline tuning knobs.
//
// # File format
//
// The file format is taken from the extension; TOML is the documented one:
//
//	[gcp.dev]
//	project_id = "my-project-dev"
//	bucket     = "my-bucket-dev"
//	location   = "EU"
//
//	[gcp.prod.sources.external]
//	project_id = "my-external-dl"
//	bucket     = "my-external-bucket"
//	location   = "EU"
//
//	[paths]
//	root = "/var/lib/statline"
//	cbs  = "cbs"
//
//	[odata]
//	rate_limit      = 5
//	request_timeout = "90s"
//
// ${VAR_NAME} references are substituted from the environment before parsing,
// and any key can be overridden with a STATLINE_ prefixed variable, for example
// STATLINE_PIPELINE_TABLE_WORKERS=2.
//
// # Datasets list
//
// Batch runs read dataset ids from a separate TOML file with LoadDatasets:
//
//	ids = ["83583NED", "83765NED"]
package config
