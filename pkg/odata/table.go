package odata

import "sort"

// Role classifies a table within a dataset.
type Role int

const (
	// RoleDimension is a code list the observations refer to.
	RoleDimension Role = iota
	// RoleMain is the fact table, the only one paginated by row count.
	RoleMain
	// RoleAuxiliary describes the dataset's measures and groupings.
	RoleAuxiliary
	// RoleMetadata tables are never fetched.
	RoleMetadata
)

func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleAuxiliary:
		return "auxiliary"
	case RoleMetadata:
		return "metadata"
	default:
		return "dimension"
	}
}

var metadataTables = map[string]struct{}{
	"Properties":     {},
	"TableInfos":     {},
	"UntypedDataSet": {},
}

var auxiliaryTables = map[string]struct{}{
	"DataProperties": {},
	"CategoryGroups": {},
	"MeasureCodes":   {},
	"MeasureGroups":  {},
	"Dimensions":     {},
	"PropertyCodes":  {},
}

// DataPropertiesTable lists a v3 dataset's columns with their descriptions.
const DataPropertiesTable = "DataProperties"

// TableDescriptor is one entry of a dataset's manifest.
type TableDescriptor struct {
	Name      string
	SourceURL string
	Role      Role
}

// Fetchable reports whether the table is staged and published.
func (t TableDescriptor) Fetchable() bool {
	return t.Role != RoleMetadata
}

// TableShape carries the advertised size of a Main table.
type TableShape struct {
	RowCount    *int64
	ColumnCount *int64
}

// Classify assigns a role to a manifest entry for the given dialect.
func Classify(name string, a Adapter) Role {
	if name == a.MainTableName() {
		return RoleMain
	}
	if _, ok := metadataTables[name]; ok {
		return RoleMetadata
	}
	if _, ok := auxiliaryTables[name]; ok {
		return RoleAuxiliary
	}
	return RoleDimension
}

// MainTable returns the Main table of a table set.
func MainTable(tables []TableDescriptor) (TableDescriptor, bool) {
	for _, t := range tables {
		if t.Role == RoleMain {
			return t, true
		}
	}
	return TableDescriptor{}, false
}

func sortTables(tables []TableDescriptor) {
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
}
