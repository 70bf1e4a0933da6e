// Operations that relocate rows. Each of them invalidates previously held Keys.

package sheetdb

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/maruel/sheetdb/internal/sheet"
)

// Defrag moves every non-blank row up so the data block has no holes, then
// blanks the vacated rows at the bottom. It returns the number of rows
// reclaimed.
func (c *Collection) Defrag(ctx context.Context) (int, error) {
	return c.compact(ctx, nil)
}

// Sort reorders the records by field, blanks last, and compacts the block like
// Defrag. Numbers compare numerically, everything else as text. The sort is
// stable.
func (c *Collection) Sort(ctx context.Context, field string, desc bool) error {
	headers, err := c.Headers(ctx)
	if err != nil {
		return err
	}
	col := slices.Index(headers, field)
	if col < 0 {
		return fmt.Errorf("%s: sort by %q: %w", c.name, field, ErrUnknownField)
	}
	_, err = c.compact(ctx, func(rows [][]any) {
		slices.SortStableFunc(rows, func(a, b []any) int {
			return compareCells(a[col], b[col], desc)
		})
	})
	return err
}

// compact rewrites the non-blank rows from the top of the data block,
// optionally reordered, and clears the tail.
func (c *Collection) compact(ctx context.Context, reorder func([][]any)) (int, error) {
	headers, err := c.Headers(ctx)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	err = c.withLock(ctx, func() error {
		block, err := c.readBlock(ctx, headers)
		if err != nil {
			return err
		}
		kept := make([][]any, 0, len(block))
		for _, row := range block {
			if !sheet.IsBlank(row[c.keyCol]) {
				kept = append(kept, row)
			}
		}
		if reorder != nil {
			reorder(kept)
		}
		if len(kept) > 0 {
			if err := c.sh.WriteRange(ctx, headerRows+1, 1, kept); err != nil {
				return fmt.Errorf("failed to rewrite %s: %w", c.name, err)
			}
		}
		reclaimed = len(block) - len(kept)
		if reclaimed > 0 {
			if err := c.sh.ClearRows(ctx, headerRows+1+len(kept), reclaimed); err != nil {
				return fmt.Errorf("failed to clear %s tail: %w", c.name, err)
			}
		}
		return nil
	})
	c.Clear()
	if err != nil {
		return 0, err
	}
	slog.DebugContext(ctx, "sheetdb: compact", "collection", c.name, "reclaimed", reclaimed)
	return reclaimed, nil
}

// compareCells orders blanks last regardless of direction.
func compareCells(a, b any, desc bool) int {
	ab, bb := sheet.IsBlank(a), sheet.IsBlank(b)
	switch {
	case ab && bb:
		return 0
	case ab:
		return 1
	case bb:
		return -1
	}
	var r int
	af, aerr := strconv.ParseFloat(cellKey(a), 64)
	bf, berr := strconv.ParseFloat(cellKey(b), 64)
	if aerr == nil && berr == nil {
		r = cmp.Compare(af, bf)
	} else {
		r = cmp.Compare(cellKey(a), cellKey(b))
	}
	if desc {
		return -r
	}
	return r
}

// Wipe deletes every row below the header.
func (c *Collection) Wipe(ctx context.Context) error {
	last, err := c.sh.LastRow(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	if n := last - headerRows; n > 0 {
		if err := c.sh.DeleteRows(ctx, headerRows+1, n); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", c.name, err)
		}
	}
	c.Clear()
	slog.DebugContext(ctx, "sheetdb: wipe", "collection", c.name, "rows", max(last-headerRows, 0))
	return nil
}

// Usage describes how much of the sheet is in use.
type Usage struct {
	Collection string  `json:"collection"`
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	Cells      int     `json:"cells"`
	Percent    float64 `json:"percent"`
}

// Inspect reports the used area of the sheet against capacity cells. Rows
// include the header row.
func (c *Collection) Inspect(ctx context.Context, capacity int) (Usage, error) {
	rows, err := c.sh.LastRow(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to inspect %s: %w", c.name, err)
	}
	cols, err := c.sh.LastColumn(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to inspect %s: %w", c.name, err)
	}
	u := Usage{Collection: c.name, Columns: cols, Rows: rows, Cells: rows * cols}
	if capacity > 0 {
		u.Percent = 100 * float64(u.Cells) / float64(capacity)
	}
	return u, nil
}
