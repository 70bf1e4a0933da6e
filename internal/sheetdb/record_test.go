package sheetdb

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRecordMapper(t *testing.T) {
	headers := []string{"id", "name", "qty"}

	t.Run("RoundTrip", func(t *testing.T) {
		tests := []struct {
			name string
			rec  *Record
		}{
			{"full", NewRecord(map[string]any{"id": "a", "name": "Alpha", "qty": 3.0})},
			{"partial", NewRecord(map[string]any{"id": "b"})},
			{"empty", NewRecord(nil)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				for _, i := range []int{0, 5} {
					got := RowToRecord(headers, RecordToRow(tt.rec, headers), i)
					if got.Key != i+2 {
						t.Errorf("Key = %d, want %d", got.Key, i+2)
					}
					for _, h := range headers {
						if !reflect.DeepEqual(got.Get(h), tt.rec.Get(h)) {
							t.Errorf("%s = %v, want %v", h, got.Get(h), tt.rec.Get(h))
						}
					}
				}
			})
		}
	})

	t.Run("ShortRow", func(t *testing.T) {
		got := RowToRecord(headers, []any{"a"}, 1)
		want := &Record{Key: 3, Fields: map[string]any{"id": "a", "name": nil, "qty": nil}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("RowToRecord() = %+v, want %+v", got, want)
		}
	})

	t.Run("ExtraFieldsDropped", func(t *testing.T) {
		rec := NewRecord(map[string]any{"id": "a", "other": 1})
		got := RecordToRow(rec, headers)
		if !reflect.DeepEqual(got, []any{"a", nil, nil}) {
			t.Errorf("RecordToRow() = %v", got)
		}
	})
}

func TestRecord(t *testing.T) {
	t.Run("Key", func(t *testing.T) {
		r := NewRecord(map[string]any{"id": "a"})
		if !r.IsNew() || r.Get(KeyField) != nil {
			t.Errorf("new record: IsNew=%v Get(_key)=%v", r.IsNew(), r.Get(KeyField))
		}
		r.Key = 4
		if r.IsNew() || r.Get(KeyField) != 4 {
			t.Errorf("persisted record: IsNew=%v Get(_key)=%v", r.IsNew(), r.Get(KeyField))
		}
	})

	t.Run("Clone", func(t *testing.T) {
		r := &Record{Key: 2, Fields: map[string]any{"id": "a"}}
		c := r.Clone()
		c.Set("id", "b")
		if r.Get("id") != "a" {
			t.Error("Clone shares the field map")
		}
	})

	t.Run("JSON", func(t *testing.T) {
		r := &Record{Key: 2, Fields: map[string]any{"id": "a"}}
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != `{"_key":2,"id":"a"}` {
			t.Errorf("Marshal() = %s", b)
		}
		var got Record
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(&got, r) {
			t.Errorf("Unmarshal() = %+v, want %+v", got, r)
		}
		b, _ = json.Marshal(NewRecord(map[string]any{"id": "x"}))
		if string(b) != `{"id":"x"}` {
			t.Errorf("Marshal(new) = %s", b)
		}
		for _, in := range []string{`{"_key":"2"}`, `{"_key":2.5}`, `{"_key":-1}`} {
			if err := json.Unmarshal([]byte(in), &got); err == nil {
				t.Errorf("Unmarshal(%s) succeeded, want error", in)
			}
		}
	})
}
