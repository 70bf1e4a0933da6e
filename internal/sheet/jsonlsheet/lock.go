package jsonlsheet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maruel/ksid"
)

// fileLock is a lock file created exclusively. It is not safe for concurrent
// use; take one handle per holder.
type fileLock struct {
	d    *Dir
	name string
	path string
	// stale is the age after which the lock is broken; 0 never breaks it.
	stale time.Duration
	owner ksid.ID
}

func (l *fileLock) TryLock(ctx context.Context, wait time.Duration) (bool, error) {
	if !l.owner.IsZero() {
		return false, fmt.Errorf("lock %s is already held by this handle", l.name)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	deadline := time.Now().Add(wait)
	t := time.NewTicker(l.d.opts.PollInterval)
	defer t.Stop()
	for {
		ok, err := l.create()
		if err != nil || ok {
			return ok, err
		}
		if l.breakStale(ctx) {
			continue
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *fileLock) Unlock(context.Context) error {
	owner := l.owner
	if owner.IsZero() {
		return fmt.Errorf("lock %s is not held", l.name)
	}
	l.owner = 0
	b, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read lock %s: %w", l.name, err)
	}
	if got := strings.TrimSpace(string(b)); got != owner.String() {
		return fmt.Errorf("lock %s was taken over by %s", l.name, got)
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("failed to remove lock %s: %w", l.name, err)
	}
	return nil
}

// create makes the lock file. It returns false if it already exists.
func (l *fileLock) create() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // G302: lock files are not secret
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock %s: %w", l.name, err)
	}
	id := ksid.NewID()
	_, werr := f.WriteString(id.String())
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("failed to write lock %s: %w", l.name, err)
	}
	l.owner = id
	return true, nil
}

// breakStale removes the lock file when its owner is older than l.stale.
func (l *fileLock) breakStale(ctx context.Context) bool {
	if l.stale <= 0 {
		return false
	}
	b, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	owner, err := ksid.Parse(strings.TrimSpace(string(b)))
	if err != nil {
		return false
	}
	age := time.Since(owner.Time())
	if age < l.stale || !l.removeIfOwner(ctx, owner) {
		return false
	}
	slog.WarnContext(ctx, "jsonlsheet: broke stale lock", "lock", l.name, "owner", owner.String(), "age", age)
	return true
}

// removeIfOwner deletes the lock file only if it still holds owner. The file
// is first renamed aside so that a lock created by another waiter after the
// owner was read is never deleted; such a lock is linked back in place.
func (l *fileLock) removeIfOwner(ctx context.Context, owner ksid.ID) bool {
	aside := l.path + "." + ksid.NewID().String() + ".stale"
	if err := os.Rename(l.path, aside); err != nil {
		return false
	}
	defer func() {
		_ = os.Remove(aside)
	}()
	b, err := os.ReadFile(aside)
	if err == nil && strings.TrimSpace(string(b)) == owner.String() {
		return true
	}
	if err := os.Link(aside, l.path); err != nil {
		slog.WarnContext(ctx, "jsonlsheet: failed to restore lock", "lock", l.name, "err", err)
	}
	return false
}
