// Package schema describes the flat column layout of a published table and
// coerces decoded JSON values into it.
package schema

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/statline/pkg/odata"
)

// FieldType is a column's physical type.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeInt    FieldType = "int"
	FieldTypeFloat  FieldType = "float"
	FieldTypeBool   FieldType = "bool"
)

// ReservedSeparator may not appear in catalog column names.
const ReservedSeparator = "."

// Field is one column.
type Field struct {
	// Name is the sanitized column name written to the file.
	Name string
	// Source is the record key the column is read from.
	Source string
	Type   FieldType
}

// Schema is an ordered column list.
type Schema struct {
	Fields []Field
}

// SanitizeName replaces the catalog's reserved separator with "_".
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, ReservedSeparator, "_")
}

// newSchema builds a schema from source keys in order, sanitizing names and
// suffixing any that collide after sanitization.
func newSchema(keys []string, types []FieldType) *Schema {
	used := make(map[string]int, len(keys))
	for _, k := range keys {
		if !strings.Contains(k, ReservedSeparator) {
			used[k]++
		}
	}

	fields := make([]Field, 0, len(keys))
	for i, k := range keys {
		name := SanitizeName(k)
		if name != k {
			base := name
			for n := 2; used[name] > 0; n++ {
				name = base + "_" + strconv.Itoa(n)
			}
			used[name]++
		}
		fields = append(fields, Field{Name: name, Source: k, Type: types[i]})
	}
	return &Schema{Fields: fields}
}

// FromProperties maps EDM typed properties to a schema, keeping their order.
func FromProperties(props []odata.Property) *Schema {
	keys := make([]string, len(props))
	types := make([]FieldType, len(props))
	for i, p := range props {
		keys[i] = p.Name
		types[i] = EDMType(p.Type)
	}
	return newSchema(keys, types)
}

// EDMType maps an EDM primitive type name to a FieldType.
func EDMType(edm string) FieldType {
	switch strings.TrimPrefix(edm, "Edm.") {
	case "Byte", "SByte", "Int16", "Int32", "Int64":
		return FieldTypeInt
	case "Double", "Single", "Decimal":
		return FieldTypeFloat
	case "Boolean":
		return FieldTypeBool
	default:
		return FieldTypeString
	}
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}
