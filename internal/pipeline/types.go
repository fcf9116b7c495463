package pipeline

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/statline/pkg/columnar"
	"github.com/ajitpratap0/statline/pkg/config"
	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// Endpoint selects how far a run proceeds.
type Endpoint string

const (
	// EndpointLocal writes files to a local directory only.
	EndpointLocal Endpoint = "local"
	// EndpointGCS also uploads to the blob store.
	EndpointGCS Endpoint = "gcs"
	// EndpointBigQuery also registers the files in the catalog.
	EndpointBigQuery Endpoint = "bq"
)

// ParseEndpoint validates an endpoint name.
func ParseEndpoint(s string) (Endpoint, error) {
	switch e := Endpoint(strings.ToLower(strings.TrimSpace(s))); e {
	case EndpointLocal, EndpointGCS, EndpointBigQuery:
		return e, nil
	default:
		return "", fmt.Errorf("unknown endpoint %q, expected one of local, gcs, bq", s)
	}
}

// Stage is a state of one dataset run.
type Stage string

const (
	StageStart              Stage = "Start"
	StageProtocolResolved   Stage = "ProtocolResolved"
	StageSkipCheck          Stage = "SkipCheck"
	StageSkipped            Stage = "Skipped"
	StageFetching           Stage = "Fetching"
	StageConverting         Stage = "Converting"
	StageUploading          Stage = "Uploading"
	StageCatalogRegistering Stage = "CatalogRegistering"
	StageColumnDescribing   Stage = "ColumnDescribing"
	StageCleaningUp         Stage = "CleaningUp"
	StageDone               Stage = "Done"
)

// Request is one dataset run.
type Request struct {
	DatasetID string
	// Source names the data owner; empty means the agency itself.
	Source     string
	ThirdParty bool
	// V4Only skips version detection.
	V4Only   bool
	Tier     config.Tier
	Endpoint Endpoint
	// Force publishes even when the source is unchanged.
	Force bool
	// LocalDir overrides the configured output directory.
	LocalDir string
}

func (r *Request) normalize() error {
	r.DatasetID = strings.TrimSpace(r.DatasetID)
	if r.DatasetID == "" {
		return statlineerrors.New(statlineerrors.ErrorTypeValidation, "dataset id is required")
	}
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
	if r.Source == "" {
		r.Source = config.DefaultSource
	}
	if r.ThirdParty && r.Source == config.DefaultSource {
		return statlineerrors.Newf(statlineerrors.ErrorTypeValidation,
			"third-party datasets need their own source name, not %q", config.DefaultSource).
			WithDetail("dataset_id", r.DatasetID)
	}
	if r.Endpoint == "" {
		r.Endpoint = EndpointBigQuery
	}
	if _, err := ParseEndpoint(string(r.Endpoint)); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeValidation, "invalid endpoint")
	}
	if r.Tier == "" {
		r.Tier = config.TierDev
	}
	if _, err := config.ParseTier(string(r.Tier)); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeValidation, "invalid environment tier")
	}
	return nil
}

// Status is the result class of a run.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusPublished Status = "published"
	// StatusPartial is a publish missing one or more non-Main tables.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// TableFailure is a table left out of the published set.
type TableFailure struct {
	Table string `json:"table"`
	Stage Stage  `json:"stage"`
	Err   error  `json:"-"`
	Cause string `json:"error"`
}

// Outcome reports one dataset run.
type Outcome struct {
	DatasetID string        `json:"dataset_id"`
	Source    string        `json:"source"`
	Version   odata.Version `json:"odata_version,omitempty"`
	Status    Status        `json:"status"`
	// Stage is the last stage entered; for failures, the failing stage.
	Stage Stage `json:"stage"`
	// Tables lists the published table ids in order.
	Tables       []string                 `json:"tables,omitempty"`
	Files        []*columnar.ColumnarFile `json:"-"`
	FailedTables []TableFailure           `json:"failed_tables,omitempty"`
	// EmptyTables had no records and produced no file.
	EmptyTables       []string `json:"empty_tables,omitempty"`
	SourceModified    string   `json:"source_modified,omitempty"`
	PublishedModified string   `json:"published_modified,omitempty"`
	LocalFolder       string   `json:"local_folder,omitempty"`
	GCSFolder         string   `json:"gcs_folder,omitempty"`
	CatalogDataset    string   `json:"catalog_dataset,omitempty"`
	Error             string   `json:"error,omitempty"`
	// Retryable marks failures a whole-dataset re-run may clear.
	Retryable bool `json:"retryable,omitempty"`
}

// PartialError describes the tables a published dataset is missing, or
// returns nil when nothing is missing.
func (o *Outcome) PartialError() error {
	if len(o.FailedTables) == 0 {
		return nil
	}
	names := make([]string, len(o.FailedTables))
	for i, f := range o.FailedTables {
		names[i] = f.Table
	}
	return statlineerrors.Newf(statlineerrors.ErrorTypePublishPartial,
		"published without %d table(s): %s", len(names), strings.Join(names, ", ")).
		WithDetail("dataset_id", o.DatasetID)
}
