package jsonlsheet

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
	"github.com/maruel/sheetdb/internal/sheetdb"
)

func newDir(t *testing.T, opts *Options) *Dir {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "doc"), opts)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func readFile(t *testing.T, d *Dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(d.path(name))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestDir(t *testing.T) {
	ctx := t.Context()

	t.Run("Sheets", func(t *testing.T) {
		d := newDir(t, nil)
		for _, n := range []string{"users", "_meta", "orders"} {
			if err := d.Create(ctx, n, []string{"id"}); err != nil {
				t.Fatal(err)
			}
		}
		if err := os.WriteFile(filepath.Join(d.Root(), "notes.txt"), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := d.Sheets(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, []string{"_meta", "orders", "users"}) {
			t.Errorf("Sheets() = %v", got)
		}
		if err := d.Create(ctx, "users", nil); !errors.Is(err, fs.ErrExist) {
			t.Errorf("Create(users) = %v, want ErrExist", err)
		}
		if _, err := d.Sheet(ctx, "nope"); !errors.Is(err, sheet.ErrSheetNotFound) {
			t.Errorf("Sheet(nope) = %v, want ErrSheetNotFound", err)
		}
		for _, bad := range []string{"", ".hidden", "a/b"} {
			if _, err := d.Sheet(ctx, bad); err == nil {
				t.Errorf("Sheet(%q) succeeded", bad)
			}
		}
	})

	t.Run("Ranges", func(t *testing.T) {
		d := newDir(t, nil)
		if err := d.Create(ctx, "things", []string{"id", "name"}); err != nil {
			t.Fatal(err)
		}
		s, err := d.Sheet(ctx, "things")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.WriteRange(ctx, 2, 1, [][]any{{"a", 1}, {"b", true}}); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendRow(ctx, []any{"c", "x", nil}); err != nil {
			t.Fatal(err)
		}
		want := "[\"id\",\"name\"]\n[\"a\",1]\n[\"b\",true]\n[\"c\",\"x\"]\n"
		if got := readFile(t, d, "things"); got != want {
			t.Errorf("file =\n%s\nwant\n%s", got, want)
		}
		got, err := s.ReadRange(ctx, 2, 1, 4, 3)
		if err != nil {
			t.Fatal(err)
		}
		wantRows := [][]any{{"a", 1.0, nil}, {"b", true, nil}, {"c", "x", nil}, {nil, nil, nil}}
		if !reflect.DeepEqual(got, wantRows) {
			t.Errorf("ReadRange() = %v, want %v", got, wantRows)
		}
		if n, err := s.LastRow(ctx); err != nil || n != 4 {
			t.Errorf("LastRow() = %d, %v", n, err)
		}
		if n, err := s.LastColumn(ctx); err != nil || n != 2 {
			t.Errorf("LastColumn() = %d, %v", n, err)
		}
		cells, err := s.Find(ctx, "b", sheet.FindOptions{MatchCell: true})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(cells, []sheet.Cell{{Row: 3, Col: 1}}) {
			t.Errorf("Find(b) = %v", cells)
		}

		if err := s.ClearRows(ctx, 2, 1); err != nil {
			t.Fatal(err)
		}
		if err := s.ClearRows(ctx, 4, 1); err != nil {
			t.Fatal(err)
		}
		want = "[\"id\",\"name\"]\n[]\n[\"b\",true]\n"
		if got := readFile(t, d, "things"); got != want {
			t.Errorf("after ClearRows file =\n%s\nwant\n%s", got, want)
		}
		if err := s.DeleteRows(ctx, 2, 1); err != nil {
			t.Fatal(err)
		}
		want = "[\"id\",\"name\"]\n[\"b\",true]\n"
		if got := readFile(t, d, "things"); got != want {
			t.Errorf("after DeleteRows file =\n%s\nwant\n%s", got, want)
		}
	})

	t.Run("OutOfBand", func(t *testing.T) {
		d := newDir(t, nil)
		if err := d.Create(ctx, "things", []string{"id"}); err != nil {
			t.Fatal(err)
		}
		s, err := d.Sheet(ctx, "things")
		if err != nil {
			t.Fatal(err)
		}
		// An empty line is a blank row and trailing blank rows force a
		// rewrite on append.
		if err := os.WriteFile(d.path("things"), []byte("[\"id\"]\n\n[\"b\"]\n[]\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if n, err := s.LastRow(ctx); err != nil || n != 3 {
			t.Errorf("LastRow() = %d, %v, want 3", n, err)
		}
		if err := s.AppendRow(ctx, []any{"d"}); err != nil {
			t.Fatal(err)
		}
		want := "[\"id\"]\n[]\n[\"b\"]\n[\"d\"]\n"
		if got := readFile(t, d, "things"); got != want {
			t.Errorf("file =\n%s\nwant\n%s", got, want)
		}
		if err := os.WriteFile(d.path("things"), []byte("not json\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := s.LastRow(ctx); err == nil {
			t.Error("LastRow() on a corrupt file succeeded")
		}
		if err := os.Remove(d.path("things")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.LastRow(ctx); !errors.Is(err, sheet.ErrSheetNotFound) {
			t.Errorf("LastRow() on a removed file = %v", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		d := newDir(t, nil)
		if err := d.Create(ctx, "things", []string{"id"}); err != nil {
			t.Fatal(err)
		}
		s, err := d.Sheet(ctx, "things")
		if err != nil {
			t.Fatal(err)
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := s.WriteRange(cctx, 2, 1, [][]any{{"x"}}); !errors.Is(err, context.Canceled) {
			t.Errorf("WriteRange() = %v, want Canceled", err)
		}
	})
}

func TestSharedDir(t *testing.T) {
	ctx := t.Context()

	t.Run("ConcurrentHandles", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "doc")
		a, err := Open(root, &Options{PollInterval: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		b, err := Open(root, &Options{PollInterval: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Create(ctx, "things", []string{"id", "name"}); err != nil {
			t.Fatal(err)
		}
		sa, err := a.Sheet(ctx, "things")
		if err != nil {
			t.Fatal(err)
		}
		sb, err := b.Sheet(ctx, "things")
		if err != nil {
			t.Fatal(err)
		}
		const n = 100
		var wg sync.WaitGroup
		wg.Go(func() {
			for i := range n {
				if err := sa.WriteRange(ctx, 1, 5, [][]any{{i}}); err != nil {
					t.Error(err)
					return
				}
			}
		})
		wg.Go(func() {
			for i := range n {
				if err := sb.AppendRow(ctx, []any{i, "x"}); err != nil {
					t.Error(err)
					return
				}
			}
		})
		wg.Wait()
		rows, err := sa.LastRow(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rows != n+1 {
			t.Errorf("LastRow() = %d, want %d", rows, n+1)
		}
		got, err := sa.ReadRange(ctx, 1, 5, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if got[0][0] != float64(n-1) {
			t.Errorf("E1 = %v, want %d", got[0][0], n-1)
		}
		entries, err := os.ReadDir(filepath.Join(root, lockDir))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("write locks left behind: %v", entries)
		}
	})

	t.Run("WriteLockHeld", func(t *testing.T) {
		d := newDir(t, &Options{PollInterval: time.Millisecond, WriteTimeout: 10 * time.Millisecond})
		if err := d.Create(ctx, "things", []string{"id"}); err != nil {
			t.Fatal(err)
		}
		s, err := d.Sheet(ctx, "things")
		if err != nil {
			t.Fatal(err)
		}
		l := d.writeLock("things")
		if ok, err := l.TryLock(ctx, 0); !ok || err != nil {
			t.Fatalf("TryLock() = %v, %v", ok, err)
		}
		if err := s.WriteRange(ctx, 2, 1, [][]any{{"a"}}); err == nil {
			t.Error("WriteRange() succeeded while another writer held the sheet")
		}
		if err := s.AppendRow(ctx, []any{"a"}); err == nil {
			t.Error("AppendRow() succeeded while another writer held the sheet")
		}
		if got := readFile(t, d, "things"); got != "[\"id\"]\n" {
			t.Errorf("file = %q, want header only", got)
		}
		if err := l.Unlock(ctx); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendRow(ctx, []any{"a"}); err != nil {
			t.Error(err)
		}
	})
}

func TestCollection(t *testing.T) {
	ctx := t.Context()
	d := newDir(t, nil)
	if err := d.Create(ctx, "users", []string{"id", "name"}); err != nil {
		t.Fatal(err)
	}
	r, err := sheetdb.Open(ctx, d, sheetdb.Options{LockTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	users := r.Collection("users")
	ann, err := users.AddOne(ctx, sheetdb.NewRecord(map[string]any{"id": "u1", "name": "Ann"}))
	if err != nil {
		t.Fatal(err)
	}
	ann.Set("name", "Anne")
	if _, err := users.Batch(ctx, []*sheetdb.Record{ann, sheetdb.NewRecord(map[string]any{"id": "u2", "name": "Bob"})}); err != nil {
		t.Fatal(err)
	}
	got, err := users.Find(ctx, "u1", "id")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Get("name") != "Anne" {
		t.Errorf("Find(u1) = %+v", got)
	}
	want := "[\"id\",\"name\"]\n[\"u1\",\"Anne\"]\n[\"u2\",\"Bob\"]\n"
	if f := readFile(t, d, "users"); f != want {
		t.Errorf("file =\n%s\nwant\n%s", f, want)
	}
	if _, err := os.Stat(filepath.Join(d.Root(), lockDir, "users.batch.lock")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("batch lock left behind: %v", err)
	}
}
