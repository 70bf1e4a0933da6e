// Converts between positional rows and header-keyed records.

package sheetdb

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/maruel/sheetdb/internal/sheet"
)

// KeyField is the reserved field name holding a record's row number.
const KeyField = "_key"

// headerRows is the number of rows above the first record.
const headerRows = 1

// Record is one row of a collection.
//
// Key is the backing-store row number the record was read from or written to,
// or 0 for a record that was never persisted. It is invalidated by anything
// that moves rows: Sort, Defrag, Wipe, or an out-of-band edit.
type Record struct {
	Key    int
	Fields map[string]any
}

// NewRecord returns a new, unpersisted record.
func NewRecord(fields map[string]any) *Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Record{Fields: fields}
}

// Get returns the value of field. Get(KeyField) returns the Key, or nil for a
// new record.
func (r *Record) Get(field string) any {
	if field == KeyField {
		if r.Key == 0 {
			return nil
		}
		return r.Key
	}
	return r.Fields[field]
}

// Set assigns field.
func (r *Record) Set(field string, v any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[field] = v
}

// Clone returns a shallow copy of the record; field values are shared.
func (r *Record) Clone() *Record {
	return &Record{Key: r.Key, Fields: maps.Clone(r.Fields)}
}

// IsNew reports whether the record was never persisted.
func (r *Record) IsNew() bool {
	return r.Key == 0
}

// MarshalJSON encodes the fields as an object, plus "_key" when persisted.
func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+1)
	maps.Copy(m, r.Fields)
	if r.Key != 0 {
		m[KeyField] = r.Key
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object; a numeric "_key" member becomes Key.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.Key = 0
	if k, ok := m[KeyField]; ok {
		delete(m, KeyField)
		switch v := k.(type) {
		case nil:
		case float64:
			if v != float64(int(v)) || v < 0 {
				return fmt.Errorf("invalid %s %v", KeyField, v)
			}
			r.Key = int(v)
		default:
			return fmt.Errorf("invalid %s %v", KeyField, k)
		}
	}
	r.Fields = m
	return nil
}

// RowToRecord maps the row at the 0-based data index rowIndex (header
// excluded) to a Record. Cells missing from a short row read as nil.
func RowToRecord(headers []string, row []any, rowIndex int) *Record {
	fields := make(map[string]any, len(headers))
	for i, h := range headers {
		if i < len(row) {
			fields[h] = row[i]
		} else {
			fields[h] = nil
		}
	}
	return &Record{Key: rowIndex + headerRows + 1, Fields: fields}
}

// RecordToRow projects rec on headers. Fields absent from rec are blank and
// fields not in headers are dropped.
func RecordToRow(rec *Record, headers []string) []any {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = rec.Get(h)
	}
	return row
}

// cellKey normalizes a value for index lookups and drift comparison.
func cellKey(v any) string {
	return sheet.CellString(v)
}
