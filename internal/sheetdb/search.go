package sheetdb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/maruel/sheetdb/internal/sheet"
)

// FTS searches the live sheet with the store's text finder and returns the
// matching records in row order, one per row. The cache is neither used nor
// populated. Matches in the header row and in rows with a blank key are
// ignored.
func (c *Collection) FTS(ctx context.Context, query string, opts sheet.FindOptions) ([]*Record, error) {
	cells, err := c.sh.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", c.name, err)
	}
	headers, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Record
	seen := map[int]bool{}
	for _, cell := range cells {
		if cell.Row <= headerRows || seen[cell.Row] {
			continue
		}
		seen[cell.Row] = true
		rec, err := c.readRecord(ctx, headers, cell.Row)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// readRecord reads the record at row straight from the store. It returns nil
// when the row's key cell is blank.
func (c *Collection) readRecord(ctx context.Context, headers []string, row int) (*Record, error) {
	rows, err := c.sh.ReadRange(ctx, row, 1, 1, len(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s row %d: %w", c.name, row, err)
	}
	if sheet.IsBlank(rows[0][c.keyCol]) {
		return nil, nil
	}
	return c.fromStorage(RowToRecord(headers, rows[0], row-headerRows-1))
}

// Lookup returns the record whose field equals value, or nil. When the
// records are already materialized it uses Index; otherwise it runs an exact
// cell search against the live sheet and filters on field, without loading
// the whole collection. A KeyField lookup reads the row directly. Like Index, the last matching row wins.
func (c *Collection) Lookup(ctx context.Context, value any, field string) (*Record, error) {
	if c.materialized() {
		idx, err := c.Index(ctx, field)
		if err != nil {
			return nil, err
		}
		return idx[cellKey(value)], nil
	}
	want := cellKey(value)
	if want == "" {
		return nil, nil
	}
	if field == KeyField {
		row, err := strconv.Atoi(want)
		if err != nil || row <= headerRows {
			return nil, nil
		}
		headers, err := c.Headers(ctx)
		if err != nil {
			return nil, err
		}
		return c.readRecord(ctx, headers, row)
	}
	recs, err := c.FTS(ctx, want, sheet.FindOptions{MatchCell: true, MatchCase: true})
	if err != nil {
		return nil, err
	}
	var found *Record
	for _, rec := range recs {
		if cellKey(rec.Get(field)) == want {
			found = rec
		}
	}
	return found, nil
}

// Find returns the record whose field equals value through Index, or nil. An
// empty field means KeyField.
func (c *Collection) Find(ctx context.Context, value any, field string) (*Record, error) {
	if field == "" {
		field = KeyField
	}
	idx, err := c.Index(ctx, field)
	if err != nil {
		return nil, err
	}
	return idx[cellKey(value)], nil
}
