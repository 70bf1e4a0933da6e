package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maruel/sheetdb/internal/schema"
	"github.com/maruel/sheetdb/internal/sheet"
	"github.com/maruel/sheetdb/internal/sheetdb"
)

func write(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sheetdb.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LockTimeout != 10*time.Second || cfg.Capacity != 10_000_000 || cfg.Rate != 0 {
			t.Errorf("Load() = %+v, want defaults", cfg)
		}
	})

	t.Run("Full", func(t *testing.T) {
		p := write(t, `
dir: /srv/sheets
lock_timeout: 2s
stale_lock: 1m
capacity: 5000
rate: 1.5
burst: 3
etcd:
  endpoints: [localhost:2379]
collections:
  users:
    key_column: 1
    columns:
      - name: id
        type: text
        required: true
      - name: age
        type: integer
  orders: {}
`)
		cfg, err := Load(p)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Dir != "/srv/sheets" || cfg.LockTimeout != 2*time.Second || cfg.Capacity != 5000 || cfg.Rate != 1.5 || cfg.Burst != 3 {
			t.Errorf("Load() = %+v", cfg)
		}
		if cfg.StaleLock != time.Minute {
			t.Errorf("StaleLock = %s", cfg.StaleLock)
		}
		if cfg.Etcd.Prefix != "/sheetdb/" || cfg.Etcd.DialTimeout != 5*time.Second || cfg.Etcd.TTL != 60 {
			t.Errorf("Etcd = %+v, want defaults filled", cfg.Etcd)
		}
		want := []schema.Column{{Name: "id", Type: schema.TypeText, Required: true}, {Name: "age", Type: schema.TypeInteger}}
		if got := cfg.Collections["users"].Columns; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("users columns = %+v", got)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			want    string
		}{
			{"syntax", "dir: [", "failed to parse"},
			{"timeout", "lock_timeout: -1s", "lock_timeout"},
			{"capacity", "capacity: 0", "capacity"},
			{"rate", "rate: -2", "rate"},
			{"burst", "rate: 1\nburst: 0", "burst"},
			{"etcd", "etcd: {prefix: /x/}", "etcd.endpoints"},
			{"column type", "collections: {a: {columns: [{name: x, type: blob}]}}", "unknown type"},
			{"key column", "collections: {a: {key_column: -1}}", "key_column"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Load(write(t, tt.content))
				if err == nil || !strings.Contains(err.Error(), tt.want) {
					t.Errorf("Load() = %v, want error containing %q", err, tt.want)
				}
			})
		}
	})
}

func TestOptions(t *testing.T) {
	ctx := t.Context()
	m := sheet.NewMemory()
	m.Set("users", [][]any{{"id", "age"}, {"u1", "7"}})
	m.Set("orders", [][]any{{"id"}})
	m.Set("logs", [][]any{{"id"}})

	cfg := Default()
	cfg.Collections = map[string]Collection{
		"users":  {Columns: []schema.Column{{Name: "id", Required: true}, {Name: "age", Type: schema.TypeInteger}}},
		"orders": {KeyColumn: 0},
	}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatal(err)
	}
	_, err = sheetdb.Open(ctx, m, opts)
	var sme *sheetdb.SchemaMissingError
	if !errors.As(err, &sme) || len(sme.Collections) != 1 || sme.Collections[0] != "logs" {
		t.Fatalf("Open() = %v, want logs missing", err)
	}

	cfg.Collections["logs"] = Collection{}
	if opts, err = cfg.Options(); err != nil {
		t.Fatal(err)
	}
	r, err := sheetdb.Open(ctx, m, opts)
	if err != nil {
		t.Fatal(err)
	}
	data, err := r.Collection("users").Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 || data[0].Get("age") != int64(7) {
		t.Errorf("users = %v", data)
	}

	t.Run("Untyped", func(t *testing.T) {
		cfg := Default()
		cfg.Collections = map[string]Collection{"users": {KeyColumn: 1}}
		opts, err := cfg.Options()
		if err != nil {
			t.Fatal(err)
		}
		if opts.Schemas != nil || opts.KeyColumns["users"] != 1 {
			t.Errorf("Options() = %+v", opts)
		}
	})
}
