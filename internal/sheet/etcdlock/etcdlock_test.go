package etcdlock

import (
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestWrap(t *testing.T) {
	m := sheet.NewMemory()
	m.Set("users", [][]any{{"id"}})
	doc := Wrap(m, New(nil, "/sheetdb/", 0))
	names, err := doc.Sheets(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"users"}) {
		t.Errorf("Sheets() = %v", names)
	}
	l, ok := doc.Lock("users.batch").(*mutex)
	if !ok {
		t.Fatalf("Lock() = %T, want *mutex", doc.Lock("users.batch"))
	}
	if l.key != "/sheetdb/users.batch" || l.l.ttl != 60 {
		t.Errorf("lock = %q ttl %d", l.key, l.l.ttl)
	}
	if err := l.Unlock(t.Context()); err == nil {
		t.Error("Unlock() of a lock never taken succeeded")
	}
}

// TestEtcd runs against the cluster listed in SHEETDB_ETCD_ENDPOINTS.
func TestEtcd(t *testing.T) {
	endpoints := os.Getenv("SHEETDB_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("SHEETDB_ETCD_ENDPOINTS is not set")
	}
	ctx := t.Context()
	client, err := clientv3.New(clientv3.Config{Endpoints: strings.Split(endpoints, ","), DialTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	locker := New(client, "/sheetdb-test/"+t.Name(), 5)
	a, b := locker.Lock("x"), locker.Lock("x")
	if ok, err := a.TryLock(ctx, time.Second); !ok || err != nil {
		t.Fatalf("a.TryLock() = %v, %v", ok, err)
	}
	if ok, err := b.TryLock(ctx, 0); ok || err != nil {
		t.Errorf("b.TryLock(0) = %v, %v, want held", ok, err)
	}
	if ok, err := b.TryLock(ctx, 50*time.Millisecond); ok || err != nil {
		t.Errorf("b.TryLock(50ms) = %v, %v, want timeout", ok, err)
	}
	if err := a.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, err := b.TryLock(ctx, time.Second); !ok || err != nil {
		t.Errorf("b.TryLock() after release = %v, %v", ok, err)
	}
	if err := b.Unlock(ctx); err != nil {
		t.Error(err)
	}
}
