// Package sheet defines the backing-store contract used by sheetdb: a document
// of named two-dimensional sheets addressed by 1-based row and column numbers.
//
// Implementations are expected to be slow (every call may be a network round
// trip) and may be mutated out-of-band by other processes between calls.
package sheet

import (
	"context"
	"errors"
	"time"
)

// ErrSheetNotFound is returned by Document.Sheet for an unknown sheet name.
var ErrSheetNotFound = errors.New("sheet not found")

// Document is a named collection of sheets.
type Document interface {
	// Sheets returns the sheet names in document order.
	Sheets(ctx context.Context) ([]string, error)
	// Sheet returns the sheet with the given name.
	Sheet(ctx context.Context, name string) (Sheet, error)
	// CopyTo copies the whole document to dest. The meaning of dest is
	// implementation specific (a directory, a document ID, ...).
	CopyTo(ctx context.Context, dest string) error
	// Lock returns the named mutual-exclusion lock shared by every process
	// accessing this document.
	Lock(name string) Lock
}

// Sheet is one rectangular grid of cells.
//
// A blank cell is represented as nil. Values are the JSON scalar types: string,
// float64, bool.
type Sheet interface {
	Name() string
	// ReadRange returns rows × cols values starting at (row, col). Cells past
	// the used area are returned as nil.
	ReadRange(ctx context.Context, row, col, rows, cols int) ([][]any, error)
	// WriteRange assigns values starting at (row, col) as one indivisible step.
	WriteRange(ctx context.Context, row, col int, values [][]any) error
	// AppendRow writes values on the row after LastRow.
	AppendRow(ctx context.Context, values []any) error
	// LastRow returns the highest row holding a non-blank cell, 0 if empty.
	LastRow(ctx context.Context) (int, error)
	// LastColumn returns the highest column holding a non-blank cell, 0 if empty.
	LastColumn(ctx context.Context) (int, error)
	// ClearRows blanks n rows starting at row, keeping their position.
	ClearRows(ctx context.Context, row, n int) error
	// DeleteRows physically removes n rows starting at row, shifting the rows
	// below up.
	DeleteRows(ctx context.Context, row, n int) error
	// Find returns the position of every cell matching query, in row-major order.
	Find(ctx context.Context, query string, opts FindOptions) ([]Cell, error)
}

// Lock is a blocking named lock.
type Lock interface {
	// TryLock waits up to wait for the lock. It returns false without error
	// when the lock could not be acquired in time.
	TryLock(ctx context.Context, wait time.Duration) (bool, error)
	// Unlock releases a lock previously acquired with TryLock.
	Unlock(ctx context.Context) error
}

// FindOptions controls Sheet.Find.
type FindOptions struct {
	// Regex interprets the query as a regular expression.
	Regex bool
	// MatchCell requires the whole cell to match instead of a substring.
	MatchCell bool
	// MatchCase makes the match case sensitive.
	MatchCase bool
}

// Cell is a 1-based cell position.
type Cell struct {
	Row int
	Col int
}
