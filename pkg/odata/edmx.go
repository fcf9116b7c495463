package odata

import (
	"encoding/xml"
	"fmt"
)

// Property is one typed column from a type description document.
type Property struct {
	Name string
	// Type is the EDM type name, for example "Edm.Int32".
	Type string
}

type edmxDocument struct {
	XMLName xml.Name     `xml:"Edmx"`
	Schemas []edmxSchema `xml:"DataServices>Schema"`
}

type edmxSchema struct {
	EntityTypes []edmxEntityType `xml:"EntityType"`
}

type edmxEntityType struct {
	Name       string         `xml:"Name,attr"`
	Properties []edmxProperty `xml:"Property"`
}

type edmxProperty struct {
	Name string `xml:"Name,attr"`
	Type string `xml:"Type,attr"`
}

// ParseEntityType returns the properties of entityType, in document order.
func ParseEntityType(doc []byte, entityType string) ([]Property, error) {
	var edmx edmxDocument
	if err := xml.Unmarshal(doc, &edmx); err != nil {
		return nil, fmt.Errorf("failed to parse $metadata document: %w", err)
	}

	for _, schema := range edmx.Schemas {
		for _, et := range schema.EntityTypes {
			if et.Name != entityType {
				continue
			}
			props := make([]Property, 0, len(et.Properties))
			for _, p := range et.Properties {
				props = append(props, Property{Name: p.Name, Type: p.Type})
			}
			return props, nil
		}
	}
	return nil, fmt.Errorf("entity type %q not found in $metadata document", entityType)
}
