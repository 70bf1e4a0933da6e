// Derives schemas from Go types and converts between structs and records.

package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/maruel/sheetdb/internal/sheetdb"
)

// FromType derives a Schema from the struct T.
//
// Column names follow the json tags. Descriptions come from
// `jsonschema:"description=..."` tags, and fields without omitempty are
// required. Fields named after sheetdb.KeyField are skipped.
func FromType[T any]() (*Schema, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type must be a struct or pointer to struct, got %s", t.Kind())
	}

	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	js := r.ReflectFromType(t)
	required := make(map[string]bool, len(js.Required))
	for _, name := range js.Required {
		required[name] = true
	}
	goTypes := make(map[string]reflect.Type, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		goTypes[jsonFieldName(&f)] = f.Type
	}

	var columns []Column
	for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == sheetdb.KeyField {
			continue
		}
		colType := TypeAny
		if gt, ok := goTypes[pair.Key]; ok {
			colType = goTypeToColumnType(gt)
		}
		columns = append(columns, Column{
			Name:        pair.Key,
			Type:        colType,
			Required:    required[pair.Key],
			Description: pair.Value.Description,
		})
	}
	return New(columns)
}

// Encode converts v to a record through its JSON form. A "_key" member
// becomes the record Key.
func Encode[T any](v T) (*sheetdb.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	rec := &sheetdb.Record{}
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("%T is not an object: %w", v, err)
	}
	return rec, nil
}

// Decode converts rec to a T through its JSON form.
func Decode[T any](rec *sheetdb.Record) (T, error) {
	var out T
	b, err := json.Marshal(rec)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// jsonFieldName returns the JSON member name of a struct field.
func jsonFieldName(f *reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

func goTypeToColumnType(t reflect.Type) Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[time.Time]() {
		return TypeDate
	}
	// []byte marshals to base64 text.
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return TypeText
	}
	switch t.Kind() {
	case reflect.String:
		return TypeText
	case reflect.Bool:
		return TypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map:
		return TypeJSON
	default:
		return TypeAny
	}
}
