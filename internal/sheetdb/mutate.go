// Per-row write paths: add, update, upsert, patch and delete.

package sheetdb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/maruel/sheetdb/internal/sheet"
)

// prepare clones recs and runs them through the schema unless they were
// already validated by a Tx.
func (c *Collection) prepare(recs []*Record, validated bool) ([]*Record, error) {
	out := make([]*Record, len(recs))
	for i, rec := range recs {
		if rec == nil {
			return nil, fmt.Errorf("%s: nil record at position %d", c.name, i)
		}
		cp := rec.Clone()
		if cp.Fields == nil {
			cp.Fields = map[string]any{}
		}
		if !validated && c.schema != nil {
			norm, err := c.schema.ToStorage(cp, ToStorageOptions{IsNew: cp.Key == 0, ThrowOnError: true})
			if err != nil {
				return nil, asValidationError(c.name, cp, err)
			}
			norm.Key = cp.Key
			cp = norm
		}
		out[i] = cp
	}
	return out, nil
}

// readKeyCell returns the current key-column value of row.
func (c *Collection) readKeyCell(ctx context.Context, row int) (any, error) {
	cells, err := c.sh.ReadRange(ctx, row, c.keyCol+1, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s row %d: %w", c.name, row, err)
	}
	return cells[0][0], nil
}

// checkDrift is the optimistic-write check: the key cell at rec.Key must hold
// the key value about to be written. Only one cell is compared.
func (c *Collection) checkDrift(ctx context.Context, headers []string, rec *Record) error {
	want := rec.Get(c.keyField(headers))
	got, err := c.readKeyCell(ctx, rec.Key)
	if err != nil {
		return err
	}
	if cellKey(got) != cellKey(want) {
		return &StaleWriteError{Collection: c.name, Key: rec.Key, Field: c.keyField(headers), Want: want, Got: got}
	}
	return nil
}

// AddOne appends rec and returns it with its Key.
//
// The destination row is checked to be empty right before the append. Two
// concurrent AddOne calls on the same document can both pass the check; the
// loser's row lands below the winner's with a Key that is off by the number of
// racing rows.
func (c *Collection) AddOne(ctx context.Context, rec *Record) (*Record, error) {
	return c.addOne(ctx, rec, false)
}

func (c *Collection) addOne(ctx context.Context, rec *Record, validated bool) (*Record, error) {
	recs, err := c.prepare([]*Record{rec}, validated)
	if err != nil {
		return nil, err
	}
	out := recs[0]
	if out.Key != 0 {
		return nil, fmt.Errorf("%s: add row %d: %w", c.name, out.Key, ErrHasKey)
	}
	headers, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}
	last, err := c.sh.LastRow(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	key := max(last, headerRows) + 1
	cur, err := c.readKeyCell(ctx, key)
	if err != nil {
		return nil, err
	}
	if !sheet.IsBlank(cur) {
		return nil, &WriteConflictError{Collection: c.name, Row: key}
	}
	if err := c.sh.AppendRow(ctx, RecordToRow(out, headers)); err != nil {
		return nil, fmt.Errorf("failed to append to %s: %w", c.name, err)
	}
	c.Clear()
	out.Key = key
	slog.DebugContext(ctx, "sheetdb: addOne", "collection", c.name, "key", key)
	return out, nil
}

// Add appends recs as one contiguous block and returns them with sequential
// Keys. Only the first destination row is checked for emptiness, so a
// collision further down the block goes undetected.
func (c *Collection) Add(ctx context.Context, recs []*Record) ([]*Record, error) {
	return c.add(ctx, recs, false)
}

func (c *Collection) add(ctx context.Context, recs []*Record, validated bool) ([]*Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out, err := c.prepare(recs, validated)
	if err != nil {
		return nil, err
	}
	for _, rec := range out {
		if rec.Key != 0 {
			return nil, fmt.Errorf("%s: add row %d: %w", c.name, rec.Key, ErrHasKey)
		}
	}
	headers, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}
	last, err := c.sh.LastRow(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	first := max(last, headerRows) + 1
	cur, err := c.readKeyCell(ctx, first)
	if err != nil {
		return nil, err
	}
	if !sheet.IsBlank(cur) {
		return nil, &WriteConflictError{Collection: c.name, Row: first}
	}
	rows := make([][]any, len(out))
	for i, rec := range out {
		rows[i] = RecordToRow(rec, headers)
	}
	if err := c.sh.WriteRange(ctx, first, 1, rows); err != nil {
		return nil, fmt.Errorf("failed to write %s rows %d-%d: %w", c.name, first, first+len(rows)-1, err)
	}
	c.Clear()
	for i, rec := range out {
		rec.Key = first + i
	}
	slog.DebugContext(ctx, "sheetdb: add", "collection", c.name, "first", first, "count", len(out))
	return out, nil
}

// Update writes every record back to its row. Each row's key cell is re-read
// first; a mismatch fails with *StaleWriteError and leaves that row and the
// following ones untouched. Rows written before the failure stay written.
func (c *Collection) Update(ctx context.Context, recs []*Record) ([]*Record, error) {
	return c.update(ctx, recs, false)
}

// UpdateOne is Update for a single record.
func (c *Collection) UpdateOne(ctx context.Context, rec *Record) (*Record, error) {
	out, err := c.update(ctx, []*Record{rec}, false)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *Collection) update(ctx context.Context, recs []*Record, validated bool) ([]*Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out, err := c.prepare(recs, validated)
	if err != nil {
		return nil, err
	}
	for _, rec := range out {
		if rec.Key == 0 {
			return nil, fmt.Errorf("%s: update: %w", c.name, ErrNoKey)
		}
	}
	headers, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}
	written := 0
	defer func() {
		if written > 0 {
			c.Clear()
		}
	}()
	for _, rec := range out {
		if err := c.checkDrift(ctx, headers, rec); err != nil {
			return nil, err
		}
		if err := c.sh.WriteRange(ctx, rec.Key, 1, [][]any{RecordToRow(rec, headers)}); err != nil {
			return nil, fmt.Errorf("failed to write %s row %d: %w", c.name, rec.Key, err)
		}
		written++
	}
	slog.DebugContext(ctx, "sheetdb: update", "collection", c.name, "count", written)
	return out, nil
}

// Upsert updates the records that have a Key and adds the others. The result
// lists the updated records first, then the added ones.
func (c *Collection) Upsert(ctx context.Context, recs []*Record) ([]*Record, error) {
	return c.upsert(ctx, recs, false)
}

// UpsertOne is Upsert for a single record.
func (c *Collection) UpsertOne(ctx context.Context, rec *Record) (*Record, error) {
	out, err := c.upsert(ctx, []*Record{rec}, false)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *Collection) upsert(ctx context.Context, recs []*Record, validated bool) ([]*Record, error) {
	out, err := c.prepare(recs, validated)
	if err != nil {
		return nil, err
	}
	var existing, fresh []*Record
	for _, rec := range out {
		if rec.Key != 0 {
			existing = append(existing, rec)
		} else {
			fresh = append(fresh, rec)
		}
	}
	updated, err := c.update(ctx, existing, true)
	if err != nil {
		return nil, err
	}
	added, err := c.add(ctx, fresh, true)
	if err != nil {
		return nil, err
	}
	c.Clear()
	return append(updated, added...), nil
}

// Patch merges each patch onto the current record at the patch's Key and
// writes the result through Update. Fields absent from a patch keep their
// current value.
func (c *Collection) Patch(ctx context.Context, patches []*Record) ([]*Record, error) {
	if len(patches) == 0 {
		return nil, nil
	}
	byKey, err := c.Index(ctx, KeyField)
	if err != nil {
		return nil, err
	}
	merged := make([]*Record, len(patches))
	for i, p := range patches {
		if p == nil || p.Key == 0 {
			return nil, fmt.Errorf("%s: patch: %w", c.name, ErrNoKey)
		}
		cur, ok := byKey[strconv.Itoa(p.Key)]
		if !ok {
			return nil, &NotFoundError{Collection: c.name, Key: p.Key}
		}
		m := cur.Clone()
		for k, v := range p.Fields {
			m.Set(k, v)
		}
		merged[i] = m
	}
	return c.Update(ctx, merged)
}

// Delete blanks the row of every record after the same drift check as Update.
// Rows are never removed; Defrag compacts them.
func (c *Collection) Delete(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	for _, rec := range recs {
		if rec == nil || rec.Key == 0 {
			return fmt.Errorf("%s: delete: %w", c.name, ErrNoKey)
		}
	}
	headers, err := c.Headers(ctx)
	if err != nil {
		return err
	}
	cleared := 0
	defer func() {
		if cleared > 0 {
			c.Clear()
		}
	}()
	for _, rec := range recs {
		if err := c.checkDrift(ctx, headers, rec); err != nil {
			return err
		}
		if err := c.sh.ClearRows(ctx, rec.Key, 1); err != nil {
			return fmt.Errorf("failed to clear %s row %d: %w", c.name, rec.Key, err)
		}
		cleared++
	}
	slog.DebugContext(ctx, "sheetdb: delete", "collection", c.name, "count", cleared)
	return nil
}
