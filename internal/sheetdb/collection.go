package sheetdb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
)

// DefaultLockTimeout is how long Batch waits for the document lock.
const DefaultLockTimeout = 10 * time.Second

// CollectionOptions configures a Collection.
type CollectionOptions struct {
	// KeyColumn is the 0-based column holding the primary key. Rows with a
	// blank key are skipped on read, and the column is compared before every
	// update or delete to detect drift.
	KeyColumn int
	// Schema is optional.
	Schema Schema
	// LockTimeout defaults to DefaultLockTimeout.
	LockTimeout time.Duration
}

// Collection is the table view of one sheet.
//
// The cache is safe for concurrent use. Consistency with the store relies on
// the optimistic checks described in the package documentation.
type Collection struct {
	name        string
	doc         sheet.Document
	sh          sheet.Sheet
	keyCol      int
	schema      Schema
	lockTimeout time.Duration

	mu      sync.Mutex
	headers []string
	data    []*Record // nil until materialized
	unique  map[string]map[string]*Record
	related map[string]map[string][]*Record
}

// NewCollection binds the sheet name of doc.
func NewCollection(ctx context.Context, doc sheet.Document, name string, opts CollectionOptions) (*Collection, error) {
	if opts.KeyColumn < 0 {
		return nil, fmt.Errorf("%s: invalid key column %d", name, opts.KeyColumn)
	}
	sh, err := doc.Sheet(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	c := &Collection{
		name:        name,
		doc:         doc,
		sh:          sh,
		keyCol:      opts.KeyColumn,
		schema:      opts.Schema,
		lockTimeout: opts.LockTimeout,
	}
	if c.lockTimeout <= 0 {
		c.lockTimeout = DefaultLockTimeout
	}
	return c, nil
}

// Name returns the sheet name.
func (c *Collection) Name() string {
	return c.name
}

// Headers returns the field names from the header row.
func (c *Collection) Headers(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.headersLocked(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(h), nil
}

func (c *Collection) headersLocked(ctx context.Context) ([]string, error) {
	if c.headers != nil {
		return c.headers, nil
	}
	cols, err := c.sh.LastColumn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s header: %w", c.name, err)
	}
	if cols == 0 {
		return nil, fmt.Errorf("%s: no header row", c.name)
	}
	rows, err := c.sh.ReadRange(ctx, 1, 1, 1, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s header: %w", c.name, err)
	}
	headers := make([]string, 0, cols)
	for _, v := range rows[0] {
		headers = append(headers, cellKey(v))
	}
	// Trailing blank header cells belong to data columns past the header.
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}
	if c.keyCol >= len(headers) {
		return nil, fmt.Errorf("%s: key column %d outside the %d header columns", c.name, c.keyCol, len(headers))
	}
	c.headers = headers
	return headers, nil
}

// keyField returns the name of the key column.
func (c *Collection) keyField(headers []string) string {
	return headers[c.keyCol]
}

// Data returns every non-blank record in row order. The records are shared
// with the cache: Clone before modifying them.
func (c *Collection) Data(ctx context.Context) ([]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataLocked(ctx)
}

func (c *Collection) dataLocked(ctx context.Context) ([]*Record, error) {
	if c.data != nil {
		return c.data, nil
	}
	headers, err := c.headersLocked(ctx)
	if err != nil {
		return nil, err
	}
	block, err := c.readBlock(ctx, headers)
	if err != nil {
		return nil, err
	}
	data := make([]*Record, 0, len(block))
	for i, row := range block {
		if sheet.IsBlank(row[c.keyCol]) {
			continue
		}
		rec, err := c.fromStorage(RowToRecord(headers, row, i))
		if err != nil {
			return nil, err
		}
		data = append(data, rec)
	}
	slog.DebugContext(ctx, "sheetdb: materialized", "collection", c.name, "rows", len(block), "records", len(data))
	c.data = data
	return data, nil
}

// readBlock reads every row below the header straight from the store.
func (c *Collection) readBlock(ctx context.Context, headers []string) ([][]any, error) {
	last, err := c.sh.LastRow(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	n := last - headerRows
	if n <= 0 {
		return nil, nil
	}
	block, err := c.sh.ReadRange(ctx, headerRows+1, 1, n, len(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	return block, nil
}

func (c *Collection) fromStorage(rec *Record) (*Record, error) {
	if c.schema == nil {
		return rec, nil
	}
	out, err := c.schema.FromStorage(rec)
	if err != nil {
		return nil, asValidationError(c.name, rec, err)
	}
	out.Key = rec.Key
	return out, nil
}

// Index returns the records keyed by the value of field. When several records
// share a value, the last one in row order wins; use EnforceUnique to detect
// duplicates. Blank values are not indexed. Index(KeyField) maps row numbers.
func (c *Collection) Index(ctx context.Context, field string) (map[string]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.unique[field]; ok {
		return idx, nil
	}
	data, err := c.dataLocked(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]*Record, len(data))
	for _, rec := range data {
		if v := rec.Get(field); !sheet.IsBlank(v) {
			idx[cellKey(v)] = rec
		}
	}
	if c.unique == nil {
		c.unique = map[string]map[string]*Record{}
	}
	c.unique[field] = idx
	return idx, nil
}

// Related returns the records grouped by the value of field, each group in
// row order. Blank values are not indexed.
func (c *Collection) Related(ctx context.Context, field string) (map[string][]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.related[field]; ok {
		return idx, nil
	}
	data, err := c.dataLocked(ctx)
	if err != nil {
		return nil, err
	}
	idx := map[string][]*Record{}
	for _, rec := range data {
		if v := rec.Get(field); !sheet.IsBlank(v) {
			k := cellKey(v)
			idx[k] = append(idx[k], rec)
		}
	}
	if c.related == nil {
		c.related = map[string]map[string][]*Record{}
	}
	c.related[field] = idx
	return idx, nil
}

// Clear drops the header, the records and every index.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = nil
	c.data = nil
	c.unique = nil
	c.related = nil
}

// materialized reports whether Data has been loaded in this generation.
func (c *Collection) materialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data != nil
}

// EnforceUnique returns a *ConflictError if another record holds the same
// value of field as rec. The record's own row is excluded when rec has a Key.
//
// The check scans the materialized records instead of using Index, for new
// and existing records alike, so it never depends on an index built from an
// older view of the row. A blank value never conflicts.
func (c *Collection) EnforceUnique(ctx context.Context, rec *Record, field string) error {
	v := rec.Get(field)
	if sheet.IsBlank(v) {
		return nil
	}
	want := cellKey(v)
	data, err := c.Data(ctx)
	if err != nil {
		return err
	}
	for _, other := range data {
		if rec.Key != 0 && other.Key == rec.Key {
			continue
		}
		if ov := other.Get(field); !sheet.IsBlank(ov) && cellKey(ov) == want {
			return &ConflictError{Collection: c.name, Field: field, Value: v, Key: other.Key}
		}
	}
	return nil
}
