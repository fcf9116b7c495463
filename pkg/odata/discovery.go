package odata

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// maxDescriptionLength is the catalog's column description ceiling.
const maxDescriptionLength = 1023

// Metadata is the dataset-level metadata record.
type Metadata struct {
	// Raw is the record as returned by the API; it is published as _Metadata.json.
	Raw         gojson.RawMessage
	Description string
	Modified    string
	Shape       TableShape
}

// Discovery resolves a dataset's dialect, tables and metadata.
type Discovery struct {
	client    *Client
	endpoints Endpoints
	logger    *zap.Logger
}

// NewDiscovery creates a Discovery.
func NewDiscovery(client *Client, endpoints Endpoints, logger *zap.Logger) *Discovery {
	return &Discovery{
		client:    client,
		endpoints: endpoints,
		logger:    logger.With(zap.String("component", "discovery")),
	}
}

// Adapter returns the dialect adapter for a resolved version.
func (d *Discovery) Adapter(v Version, thirdParty bool) (Adapter, error) {
	a, err := NewAdapter(v, d.endpoints, thirdParty)
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeUnsupportedCombination, "no adapter for dataset")
	}
	return a, nil
}

// DetectVersion resolves the protocol version once per run. Third-party
// datasets are always v3. Otherwise a 200 on the v4 dataset root means v4 and
// any other outcome, connection failures included, means v3.
func (d *Discovery) DetectVersion(ctx context.Context, datasetID string, thirdParty, v4Only bool) (Version, error) {
	if thirdParty && v4Only {
		return "", statlineerrors.New(statlineerrors.ErrorTypeUnsupportedCombination,
			"third-party datasets are only served over v3").
			WithDetail("dataset_id", datasetID)
	}
	if thirdParty {
		return V3, nil
	}
	if v4Only {
		return V4, nil
	}

	probeURL := (&v4Adapter{base: strings.TrimRight(d.endpoints.V4, "/")}).ManifestURL(datasetID)
	status, err := d.client.Probe(ctx, probeURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", statlineerrors.Wrap(ctx.Err(), statlineerrors.ErrorTypeConnection, "version probe cancelled")
		}
		d.logger.Debug("v4 probe failed, using v3", zap.String("dataset_id", datasetID), zap.Error(err))
		return V3, nil
	}
	if status == http.StatusOK {
		return V4, nil
	}
	return V3, nil
}

type manifestEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ListTables reads the dataset manifest and classifies every entry.
// The result is sorted by table name.
func (d *Discovery) ListTables(ctx context.Context, datasetID string, a Adapter) ([]TableDescriptor, error) {
	var manifest struct {
		Value []manifestEntry `json:"value"`
	}
	if err := d.client.GetJSON(ctx, a.ManifestURL(datasetID), &manifest); err != nil {
		return nil, statlineerrors.Wrap(err, errTypeOf(err), "failed to read table manifest").
			WithDetail("dataset_id", datasetID)
	}

	tables := make([]TableDescriptor, 0, len(manifest.Value))
	for _, entry := range manifest.Value {
		if entry.Name == "" || entry.URL == "" {
			continue
		}
		tables = append(tables, TableDescriptor{
			Name:      entry.Name,
			SourceURL: a.TableURL(datasetID, entry.URL),
			Role:      Classify(entry.Name, a),
		})
	}
	sortTables(tables)

	if _, ok := MainTable(tables); !ok {
		return nil, statlineerrors.Newf(statlineerrors.ErrorTypeData,
			"manifest has no %s table", a.MainTableName()).
			WithDetail("dataset_id", datasetID)
	}
	return tables, nil
}

// DatasetMetadata fetches the dataset-level metadata record. For v3 the
// catalog search must match exactly one record.
func (d *Discovery) DatasetMetadata(ctx context.Context, datasetID string, a Adapter) (*Metadata, error) {
	var raw gojson.RawMessage

	switch a.Version() {
	case V3:
		var result struct {
			Value []gojson.RawMessage `json:"value"`
		}
		if err := d.client.GetJSON(ctx, a.MetadataURL(datasetID), &result); err != nil {
			return nil, statlineerrors.Wrap(err, errTypeOf(err), "failed to query catalog").
				WithDetail("dataset_id", datasetID)
		}
		switch len(result.Value) {
		case 0:
			return nil, statlineerrors.New(statlineerrors.ErrorTypeNotFound, "dataset not in source catalog").
				WithDetail("dataset_id", datasetID)
		case 1:
			raw = result.Value[0]
		default:
			return nil, statlineerrors.New(statlineerrors.ErrorTypeAmbiguousMetadata,
				"more than one catalog record matches dataset").
				WithDetail("dataset_id", datasetID).
				WithDetail("matches", len(result.Value))
		}
	default:
		body, err := d.client.GetRaw(ctx, a.MetadataURL(datasetID), nil)
		if err != nil {
			return nil, statlineerrors.Wrap(err, errTypeOf(err), "failed to read dataset properties").
				WithDetail("dataset_id", datasetID)
		}
		raw = body
	}

	return parseMetadata(raw, a.MetadataKeys())
}

func parseMetadata(raw []byte, keys MetadataKeys) (*Metadata, error) {
	var fields map[string]interface{}
	dec := gojson.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "malformed metadata record")
	}

	md := &Metadata{Raw: append(gojson.RawMessage(nil), raw...)}
	md.Description, _ = fields[keys.Description].(string)
	md.Modified, _ = fields[keys.Modified].(string)
	if keys.RowCount != "" {
		md.Shape.RowCount = intField(fields[keys.RowCount])
	}
	if keys.ColumnCount != "" {
		md.Shape.ColumnCount = intField(fields[keys.ColumnCount])
	}
	return md, nil
}

func intField(v interface{}) *int64 {
	var s string
	switch n := v.(type) {
	case gojson.Number:
		s = n.String()
	case string:
		s = n
	default:
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &i
}

// ColumnDescriptions maps v3 column keys to their descriptions, read from
// the DataProperties table. It is empty for v4.
func (d *Discovery) ColumnDescriptions(ctx context.Context, tables []TableDescriptor, a Adapter) (map[string]string, error) {
	descriptions := make(map[string]string)
	if a.Version() != V3 {
		return descriptions, nil
	}

	var source *TableDescriptor
	for i := range tables {
		if tables[i].Name == DataPropertiesTable {
			source = &tables[i]
			break
		}
	}
	if source == nil {
		return descriptions, nil
	}

	next := source.SourceURL
	for next != "" {
		page, err := d.client.FetchPage(ctx, next, a.NextCursorField())
		if err != nil {
			return nil, statlineerrors.Wrap(err, errTypeOf(err), "failed to read column descriptions").
				WithTable(DataPropertiesTable)
		}
		for _, rec := range page.Records {
			var prop struct {
				Key         string  `json:"Key"`
				Description *string `json:"Description"`
			}
			if err := gojson.Unmarshal(rec, &prop); err != nil {
				return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "malformed DataProperties record").
					WithTable(DataPropertiesTable)
			}
			if prop.Key == "" || prop.Description == nil {
				continue
			}
			if desc := CleanDescription(*prop.Description); desc != "" {
				descriptions[prop.Key] = desc
			}
		}
		next = page.Next
	}
	return descriptions, nil
}

// CleanDescription strips line breaks and truncates to the catalog's limit.
func CleanDescription(s string) string {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	if r := []rune(s); len(r) > maxDescriptionLength {
		s = string(r[:maxDescriptionLength-3]) + "..."
	}
	return s
}

// MainTableSchema returns the typed columns of the Main table when the dialect
// publishes a type description. ok is false when no explicit schema exists.
func (d *Discovery) MainTableSchema(ctx context.Context, datasetID string, a Adapter) (props []Property, ok bool, err error) {
	schemaURL, has := a.SchemaURL(datasetID)
	if !has {
		return nil, false, nil
	}

	body, err := d.client.GetRaw(ctx, schemaURL, map[string]string{"Accept": "application/xml"})
	if err != nil {
		return nil, false, statlineerrors.Wrap(err, errTypeOf(err), "failed to read $metadata").
			WithTable(a.MainTableName())
	}

	props, err = ParseEntityType(body, a.MainTableName())
	if err != nil {
		return nil, false, statlineerrors.Wrap(err, statlineerrors.ErrorTypeData, "invalid $metadata").
			WithTable(a.MainTableName())
	}
	return props, true, nil
}

// errTypeOf keeps a NotFound classification when wrapping.
func errTypeOf(err error) statlineerrors.ErrorType {
	switch {
	case statlineerrors.IsType(err, statlineerrors.ErrorTypeNotFound):
		return statlineerrors.ErrorTypeNotFound
	case statlineerrors.IsType(err, statlineerrors.ErrorTypeData):
		return statlineerrors.ErrorTypeData
	default:
		return statlineerrors.ErrorTypeConnection
	}
}
