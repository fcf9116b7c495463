package schema

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	gojson "github.com/goccy/go-json"
)

// valueKind is the JSON kind of a decoded value.
type valueKind uint8

const (
	kindNull valueKind = 1 << iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindComplex
)

// Inferrer accumulates column kinds over a stream of records. Columns
// appear in first-seen key order. A column whose non-null values are all
// booleans is bool, all integral numbers is int, all numbers is float;
// anything else, including an all-null column, is string. An int column
// that meets one non-integral number anywhere in the stream becomes float.
type Inferrer struct {
	keys    []string
	kinds   map[string]valueKind
	records int
}

// NewInferrer returns an empty Inferrer.
func NewInferrer() *Inferrer {
	return &Inferrer{kinds: make(map[string]valueKind)}
}

// Observe folds one record into the inferred kinds.
func (in *Inferrer) Observe(rec []byte) error {
	err := scanObject(rec, func(key string, value interface{}) {
		if _, ok := in.kinds[key]; !ok {
			in.keys = append(in.keys, key)
		}
		in.kinds[key] |= kindOf(value)
	})
	if err != nil {
		return err
	}
	in.records++
	return nil
}

// Records returns the number of records observed.
func (in *Inferrer) Records() int {
	return in.records
}

// Schema returns the schema of everything observed so far.
func (in *Inferrer) Schema() *Schema {
	types := make([]FieldType, len(in.keys))
	for i, k := range in.keys {
		types[i] = resolve(in.kinds[k])
	}
	return newSchema(in.keys, types)
}

// InferSchema derives a schema from a set of records with the rules of
// Inferrer.
func InferSchema(records [][]byte) (*Schema, error) {
	in := NewInferrer()
	for i, rec := range records {
		if err := in.Observe(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return in.Schema(), nil
}

func resolve(k valueKind) FieldType {
	k &^= kindNull
	switch k {
	case kindBool:
		return FieldTypeBool
	case kindInt:
		return FieldTypeInt
	case kindFloat, kindInt | kindFloat:
		return FieldTypeFloat
	default:
		return FieldTypeString
	}
}

func kindOf(v interface{}) valueKind {
	switch n := v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case gojson.Number:
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return kindInt
		}
		return kindFloat
	case string:
		return kindString
	default:
		return kindComplex
	}
}

// scanObject walks a JSON object's members in document order.
func scanObject(rec []byte, fn func(key string, value interface{})) error {
	dec := gojson.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(gojson.Delim); !ok || delim != '{' {
		return fmt.Errorf("record is not a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return err
		}
		fn(key, value)
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// DecodeRecord decodes one record keeping numbers exact.
func DecodeRecord(rec []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	dec := gojson.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Coerce converts a decoded value to the Go type matching t: nil, int64,
// float64, bool or string. Objects and arrays become their JSON text in
// string columns.
func Coerce(v interface{}, t FieldType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case FieldTypeInt:
		switch n := v.(type) {
		case gojson.Number:
			i, err := strconv.ParseInt(n.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %s is not an integer", n)
			}
			return i, nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not an integer", n)
			}
			return i, nil
		}
	case FieldTypeFloat:
		switch n := v.(type) {
		case gojson.Number:
			f, err := strconv.ParseFloat(n.String(), 64)
			if err != nil {
				return nil, fmt.Errorf("value %s is not a number", n)
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a number", n)
			}
			return f, nil
		}
	case FieldTypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a boolean", b)
			}
			return parsed, nil
		}
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case gojson.Number:
			return s.String(), nil
		case bool:
			return strconv.FormatBool(s), nil
		default:
			text, err := gojson.Marshal(s)
			if err != nil {
				return nil, err
			}
			return string(text), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T in %s column", v, t)
}
