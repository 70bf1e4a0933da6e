// Lock-guarded whole-block rewrites.

package sheetdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// lockName is the document lock serializing block rewrites of this
// collection.
func (c *Collection) lockName() string {
	return c.name + ".batch"
}

// withLock runs fn while holding the collection's document lock. The store is
// not touched when the lock cannot be acquired within the lock timeout.
func (c *Collection) withLock(ctx context.Context, fn func() error) (err error) {
	name := c.lockName()
	l := c.doc.Lock(name)
	ok, err := l.TryLock(ctx, c.lockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire %s lock %q: %w", c.name, name, err)
	}
	if !ok {
		return &LockTimeoutError{Collection: c.name, Lock: name, Wait: c.lockTimeout}
	}
	defer func() {
		// Release even when ctx is already cancelled.
		if uerr := l.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			slog.WarnContext(ctx, "sheetdb: unlock failed", "collection", c.name, "lock", name, "err", uerr)
			err = errors.Join(err, fmt.Errorf("failed to release %s lock %q: %w", c.name, name, uerr))
		}
	}()
	return fn()
}

// Batch writes recs with a single block rewrite: existing records replace
// their row in the current data block, new records are appended after it, and
// the whole block is written back in one range assignment while holding the
// collection lock.
//
// Batch fails with *LockTimeoutError, leaving the store untouched, if the lock
// is not acquired in time. A record whose Key lies outside the current block
// fails with *NotFoundError before anything is written.
func (c *Collection) Batch(ctx context.Context, recs []*Record) ([]*Record, error) {
	return c.batch(ctx, recs, false)
}

func (c *Collection) batch(ctx context.Context, recs []*Record, validated bool) ([]*Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out, err := c.prepare(recs, validated)
	if err != nil {
		return nil, err
	}
	headers, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}
	err = c.withLock(ctx, func() error {
		// Read under the lock so the splice is based on what the rewrite replaces.
		block, err := c.readBlock(ctx, headers)
		if err != nil {
			return err
		}
		updated := 0
		for _, rec := range out {
			if rec.Key == 0 {
				continue
			}
			i := rec.Key - headerRows - 1
			if i < 0 || i >= len(block) {
				return &NotFoundError{Collection: c.name, Key: rec.Key}
			}
			block[i] = RecordToRow(rec, headers)
			updated++
		}
		for _, rec := range out {
			if rec.Key != 0 {
				continue
			}
			block = append(block, RecordToRow(rec, headers))
			rec.Key = len(block) + headerRows
		}
		if err := c.sh.WriteRange(ctx, headerRows+1, 1, block); err != nil {
			return fmt.Errorf("failed to rewrite %s: %w", c.name, err)
		}
		slog.DebugContext(ctx, "sheetdb: batch", "collection", c.name, "rows", len(block), "updated", updated, "added", len(out)-updated)
		return nil
	})
	c.Clear()
	if err != nil {
		return nil, err
	}
	return out, nil
}
