package jsonlsheet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLock(t *testing.T) {
	ctx := t.Context()

	t.Run("Exclusive", func(t *testing.T) {
		d := newDir(t, &Options{PollInterval: time.Millisecond})
		a, b := d.Lock("x.batch"), d.Lock("x.batch")
		if ok, err := a.TryLock(ctx, 0); !ok || err != nil {
			t.Fatalf("a.TryLock() = %v, %v", ok, err)
		}
		if ok, err := a.TryLock(ctx, 0); ok || err == nil {
			t.Errorf("second a.TryLock() = %v, %v, want error", ok, err)
		}
		start := time.Now()
		if ok, err := b.TryLock(ctx, 20*time.Millisecond); ok || err != nil {
			t.Errorf("b.TryLock() = %v, %v, want timeout", ok, err)
		}
		if time.Since(start) < 20*time.Millisecond {
			t.Error("b.TryLock() returned before its wait")
		}
		if err := a.Unlock(ctx); err != nil {
			t.Fatal(err)
		}
		if err := a.Unlock(ctx); err == nil {
			t.Error("second Unlock() succeeded")
		}
		if ok, err := b.TryLock(ctx, 0); !ok || err != nil {
			t.Errorf("b.TryLock() after release = %v, %v", ok, err)
		}
		if err := b.Unlock(ctx); err != nil {
			t.Error(err)
		}
	})

	t.Run("WaitsForRelease", func(t *testing.T) {
		d := newDir(t, &Options{PollInterval: time.Millisecond})
		a, b := d.Lock("x"), d.Lock("x")
		if ok, _ := a.TryLock(ctx, 0); !ok {
			t.Fatal("a.TryLock() failed")
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = a.Unlock(context.Background())
		}()
		if ok, err := b.TryLock(ctx, 5*time.Second); !ok || err != nil {
			t.Errorf("b.TryLock() = %v, %v", ok, err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		d := newDir(t, nil)
		a, b := d.Lock("x"), d.Lock("x")
		if ok, _ := a.TryLock(ctx, 0); !ok {
			t.Fatal("a.TryLock() failed")
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if ok, err := b.TryLock(cctx, time.Minute); ok || !errors.Is(err, context.Canceled) {
			t.Errorf("b.TryLock() = %v, %v, want Canceled", ok, err)
		}
	})

	t.Run("Stale", func(t *testing.T) {
		d := newDir(t, &Options{StaleLock: time.Millisecond, PollInterval: time.Millisecond})
		a, b := d.Lock("x"), d.Lock("x")
		if ok, _ := a.TryLock(ctx, 0); !ok {
			t.Fatal("a.TryLock() failed")
		}
		time.Sleep(5 * time.Millisecond)
		if ok, err := b.TryLock(ctx, 0); !ok || err != nil {
			t.Fatalf("b.TryLock() = %v, %v, want stale lock broken", ok, err)
		}
		if err := a.Unlock(ctx); err == nil {
			t.Error("a.Unlock() of a broken lock succeeded")
		}
		if err := b.Unlock(ctx); err != nil {
			t.Error(err)
		}
	})

	t.Run("StaleReplacedByAnotherWaiter", func(t *testing.T) {
		d := newDir(t, &Options{StaleLock: time.Millisecond, PollInterval: time.Millisecond})
		old := d.Lock("x").(*fileLock)
		if ok, _ := old.TryLock(ctx, 0); !ok {
			t.Fatal("TryLock() failed")
		}
		stale := old.owner
		time.Sleep(5 * time.Millisecond)
		a := d.Lock("x")
		if ok, err := a.TryLock(ctx, 0); !ok || err != nil {
			t.Fatalf("a.TryLock() = %v, %v, want stale lock broken", ok, err)
		}
		// b read the same stale owner before a replaced the lock.
		b := d.Lock("x").(*fileLock)
		if b.removeIfOwner(ctx, stale) {
			t.Error("removeIfOwner() removed a lock held by another owner")
		}
		entries, err := os.ReadDir(filepath.Dir(b.path))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name() != "x.lock" {
			t.Errorf("lock directory = %v, want only x.lock", entries)
		}
		if err := a.Unlock(ctx); err != nil {
			t.Errorf("a.Unlock() = %v, want lock intact", err)
		}
	})

	t.Run("GarbageNeverStale", func(t *testing.T) {
		d := newDir(t, &Options{StaleLock: time.Nanosecond})
		l := d.Lock("x").(*fileLock)
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(l.path, []byte("not a ksid"), 0o600); err != nil {
			t.Fatal(err)
		}
		if ok, err := l.TryLock(ctx, 0); ok || err != nil {
			t.Errorf("TryLock() = %v, %v, want held", ok, err)
		}
	})
}
