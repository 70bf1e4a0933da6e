package sheetdb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
)

// setup returns a "things" collection with header [id, name] and rows.
func setup(t *testing.T, rows ...[]any) (*Collection, *sheet.Memory) {
	t.Helper()
	m := sheet.NewMemory()
	m.Set("things", append([][]any{{"id", "name"}}, rows...))
	c, err := NewCollection(t.Context(), m, "things", CollectionOptions{LockTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewCollection failed: %v", err)
	}
	return c, m
}

func alphaBeta(t *testing.T) (*Collection, *sheet.Memory) {
	t.Helper()
	return setup(t, []any{"a", "Alpha"}, []any{"b", "Beta"})
}

// rawSheet returns the sheet under c for out-of-band edits.
func rawSheet(t *testing.T, m *sheet.Memory) sheet.Sheet {
	t.Helper()
	s, err := m.Sheet(t.Context(), "things")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// countOps wraps m and counts backing-store calls by operation.
func countOps(m *sheet.Memory) (sheet.Document, map[string]int) {
	ops := map[string]int{}
	doc := sheet.Wrap(m, func(_ context.Context, _, op string, call func() error) error {
		ops[op]++
		return call()
	})
	return doc, ops
}

// testSchema requires "id" and upper-cases "name".
type testSchema struct {
	fromCalls int
}

func (s *testSchema) ToStorage(rec *Record, _ ToStorageOptions) (*Record, error) {
	if sheet.IsBlank(rec.Get("id")) {
		return nil, &ValidationError{Field: "id", Err: errors.New("required")}
	}
	out := rec.Clone()
	if n, ok := out.Get("name").(string); ok {
		out.Set("name", strings.ToUpper(n))
	}
	return out, nil
}

func (s *testSchema) FromStorage(rec *Record) (*Record, error) {
	s.fromCalls++
	return rec, nil
}

// laggingDoc reports a LastRow one below the truth, like a reader that raced
// with another writer.
type laggingDoc struct {
	sheet.Document
}

func (d laggingDoc) Sheet(ctx context.Context, name string) (sheet.Sheet, error) {
	s, err := d.Document.Sheet(ctx, name)
	if err != nil {
		return nil, err
	}
	return laggingSheet{s}, nil
}

type laggingSheet struct {
	sheet.Sheet
}

func (s laggingSheet) LastRow(ctx context.Context) (int, error) {
	n, err := s.Sheet.LastRow(ctx)
	return n - 1, err
}

func fields(recs []*Record, field string) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = cellKey(r.Get(field))
	}
	return out
}

func keys(recs []*Record) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}
