package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
	"github.com/maruel/sheetdb/internal/sheetdb"
)

var errRequired = errors.New("value is required")

// Type is the type of a column.
type Type string

const (
	// TypeAny accepts any cell value as-is.
	TypeAny Type = ""
	// TypeText holds strings.
	TypeText Type = "text"
	// TypeNumber holds integers or reals.
	TypeNumber Type = "number"
	// TypeInteger holds whole numbers.
	TypeInteger Type = "integer"
	// TypeBool holds booleans.
	TypeBool Type = "bool"
	// TypeDate holds timestamps, stored as RFC 3339 text.
	TypeDate Type = "date"
	// TypeJSON holds arbitrary JSON values, stored encoded.
	TypeJSON Type = "json"
)

// Affinity returns the storage class of the column type.
func (t Type) Affinity() Affinity {
	switch t {
	case TypeText, TypeDate, TypeJSON:
		return AffinityText
	case TypeNumber:
		return AffinityNumeric
	case TypeInteger:
		return AffinityInteger
	case TypeBool:
		return AffinityBool
	default:
		return AffinityAny
	}
}

func (t Type) valid() bool {
	switch t {
	case TypeAny, TypeText, TypeNumber, TypeInteger, TypeBool, TypeDate, TypeJSON:
		return true
	default:
		return false
	}
}

// store converts v to its cell representation.
func (t Type) store(v any) (any, error) {
	switch t {
	case TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d.Format(time.RFC3339Nano), nil
		case string:
			if _, err := parseDate(d); err != nil {
				return nil, err
			}
			return d, nil
		}
		return nil, fmt.Errorf("cannot store %v (%T) as %s", v, v, t)
	case TypeJSON:
		if s, ok := v.(string); ok {
			if !json.Valid([]byte(s)) {
				return nil, fmt.Errorf("invalid JSON %q", s)
			}
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	out, ok := Coerce(v, t.Affinity())
	if !ok {
		return nil, fmt.Errorf("cannot store %v (%T) as %s", v, v, t)
	}
	return out, nil
}

// load converts a cell value back to its Go representation. Values that do
// not decode are returned unchanged.
func (t Type) load(v any) any {
	switch t {
	case TypeDate:
		if s, ok := v.(string); ok {
			if d, err := parseDate(s); err == nil {
				return d
			}
		}
		return v
	case TypeJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		return v
	}
	out, _ := Coerce(v, t.Affinity())
	return out
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Column describes one header of a collection.
type Column struct {
	Name        string `json:"name" yaml:"name"`
	Type        Type   `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema coerces and validates the records of one collection. Fields without
// a column pass through unchanged.
type Schema struct {
	columns []Column
}

// New returns a Schema over columns.
func New(columns []Column) (*Schema, error) {
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d: name is required", i)
		}
		if c.Name == sheetdb.KeyField {
			return nil, fmt.Errorf("column %d: %q is reserved", i, c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("column %d: duplicate name %q", i, c.Name)
		}
		if !c.Type.valid() {
			return nil, fmt.Errorf("column %q: unknown type %q", c.Name, c.Type)
		}
		seen[c.Name] = true
	}
	return &Schema{columns: slices.Clone(columns)}, nil
}

// Columns returns a copy of the columns.
func (s *Schema) Columns() []Column {
	return slices.Clone(s.columns)
}

// Headers returns the column names in order.
func (s *Schema) Headers() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// Missing returns the columns absent from headers.
func (s *Schema) Missing(headers []string) []string {
	var out []string
	for _, c := range s.columns {
		if !slices.Contains(headers, c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// ToStorage implements sheetdb.Schema.
//
// A value that cannot be coerced fails with a *sheetdb.ValidationError when
// opts.ThrowOnError is set and is blanked otherwise. Required columns must be
// non-blank after coercion.
func (s *Schema) ToStorage(rec *sheetdb.Record, opts sheetdb.ToStorageOptions) (*sheetdb.Record, error) {
	out := rec.Clone()
	for _, c := range s.columns {
		v := out.Fields[c.Name]
		if !sheet.IsBlank(v) {
			w, err := c.Type.store(v)
			if err != nil {
				if opts.ThrowOnError {
					return nil, &sheetdb.ValidationError{Key: rec.Key, Field: c.Name, Err: err}
				}
				w = nil
			}
			out.Set(c.Name, w)
			v = w
		}
		if c.Required && sheet.IsBlank(v) {
			return nil, &sheetdb.ValidationError{Key: rec.Key, Field: c.Name, Err: errRequired}
		}
	}
	return out, nil
}

// FromStorage implements sheetdb.Schema. It never fails: cells that do not
// decode are returned as read.
func (s *Schema) FromStorage(rec *sheetdb.Record) (*sheetdb.Record, error) {
	out := rec.Clone()
	for _, c := range s.columns {
		if v, ok := out.Fields[c.Name]; ok && !sheet.IsBlank(v) {
			out.Fields[c.Name] = c.Type.load(v)
		}
	}
	return out, nil
}
