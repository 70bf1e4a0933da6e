package sheetdb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
)

// ReservedPrefix marks sheets that are not collections.
const ReservedPrefix = "_"

// DefaultCapacity is the cell ceiling Inspect reports usage against.
const DefaultCapacity = 10_000_000

// Options configures Open.
type Options struct {
	// Schemas maps collection names to their schema. When non-nil, every
	// collection must have an entry.
	Schemas map[string]Schema
	// KeyColumns overrides the 0-based key column per collection.
	KeyColumns map[string]int
	// LockTimeout is passed to every Collection.
	LockTimeout time.Duration
	// Capacity defaults to DefaultCapacity.
	Capacity int
}

// Registry binds the sheets of a document to Collections.
type Registry struct {
	doc         sheet.Document
	names       []string
	collections map[string]*Collection
	capacity    int
}

// Open enumerates the sheets of doc and binds one Collection to each sheet
// whose name does not start with ReservedPrefix.
//
// When opts.Schemas is set and lacks an entry for a collection, Open fails
// with *SchemaMissingError before binding anything.
func Open(ctx context.Context, doc sheet.Document, opts Options) (*Registry, error) {
	all, err := doc.Sheets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}
	var names []string
	for _, n := range all {
		if !strings.HasPrefix(n, ReservedPrefix) {
			names = append(names, n)
		}
	}
	if opts.Schemas != nil {
		var missing []string
		for _, n := range names {
			if _, ok := opts.Schemas[n]; !ok {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return nil, &SchemaMissingError{Collections: missing}
		}
	}
	r := &Registry{
		doc:         doc,
		names:       names,
		collections: make(map[string]*Collection, len(names)),
		capacity:    opts.Capacity,
	}
	if r.capacity <= 0 {
		r.capacity = DefaultCapacity
	}
	for _, n := range names {
		c, err := NewCollection(ctx, doc, n, CollectionOptions{
			KeyColumn:   opts.KeyColumns[n],
			Schema:      opts.Schemas[n],
			LockTimeout: opts.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		r.collections[n] = c
	}
	slog.DebugContext(ctx, "sheetdb: opened", "collections", len(names), "sheets", len(all))
	return r, nil
}

// Names returns the collection names in document order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Collection returns the named collection, or nil.
func (r *Registry) Collection(name string) *Collection {
	return r.collections[name]
}

// Clear drops the cache of every collection.
func (r *Registry) Clear() {
	for _, n := range r.names {
		r.collections[n].Clear()
	}
}

// Defrag compacts every collection, stopping at the first failure.
func (r *Registry) Defrag(ctx context.Context) error {
	for _, n := range r.names {
		if _, err := r.collections[n].Defrag(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Wipe empties every collection, stopping at the first failure.
func (r *Registry) Wipe(ctx context.Context) error {
	for _, n := range r.names {
		if err := r.collections[n].Wipe(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Archive copies the whole document to dest, then wipes every collection. A
// failed copy returns before anything is wiped. A wipe failure after a
// successful copy is not compensated.
func (r *Registry) Archive(ctx context.Context, dest string) error {
	if err := r.doc.CopyTo(ctx, dest); err != nil {
		return fmt.Errorf("failed to archive to %s: %w", dest, err)
	}
	slog.InfoContext(ctx, "sheetdb: archived", "dest", dest)
	return r.Wipe(ctx)
}

// Report aggregates Usage over every collection.
type Report struct {
	Collections []Usage `json:"collections"`
	Columns     int     `json:"columns"`
	Rows        int     `json:"rows"`
	Cells       int     `json:"cells"`
	Capacity    int     `json:"capacity"`
	// Percent is the average of the per-collection percentages.
	Percent float64 `json:"percent"`
}

// Inspect reports the usage of every collection.
func (r *Registry) Inspect(ctx context.Context) (Report, error) {
	rep := Report{Capacity: r.capacity}
	for _, n := range r.names {
		u, err := r.collections[n].Inspect(ctx, r.capacity)
		if err != nil {
			return Report{}, err
		}
		rep.Collections = append(rep.Collections, u)
		rep.Columns += u.Columns
		rep.Rows += u.Rows
		rep.Cells += u.Cells
		rep.Percent += u.Percent
	}
	if len(rep.Collections) > 0 {
		rep.Percent /= float64(len(rep.Collections))
	}
	return rep, nil
}
