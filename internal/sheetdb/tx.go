package sheetdb

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Tx holds records validated once by Collection.Prepare. Exactly one of its
// commit actions can run; the others then fail with
// *TransactionAlreadyCompleteError.
//
// Tx makes validation all-or-nothing. It does not make the write atomic: the
// commit action keeps the guarantees of the Collection method it calls.
type Tx struct {
	c       *Collection
	records []*Record
	done    atomic.Bool
}

// Prepare runs every record through the collection schema. The first
// rejection fails the whole preflight with a *ValidationError and nothing is
// written.
func (c *Collection) Prepare(ctx context.Context, recs []*Record) (*Tx, error) {
	out, err := c.prepare(recs, false)
	if err != nil {
		return nil, err
	}
	return &Tx{c: c, records: out}, nil
}

func (tx *Tx) begin() error {
	if !tx.done.CompareAndSwap(false, true) {
		return &TransactionAlreadyCompleteError{Collection: tx.c.name}
	}
	return nil
}

func (tx *Tx) single() (*Record, error) {
	if len(tx.records) != 1 {
		return nil, fmt.Errorf("%s: transaction holds %d records, want 1", tx.c.name, len(tx.records))
	}
	return tx.records[0], nil
}

// Len returns the number of validated records. It is not a commit action.
func (tx *Tx) Len() int {
	return len(tx.records)
}

// AddOne commits the single validated record with Collection.AddOne.
func (tx *Tx) AddOne(ctx context.Context) (*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	rec, err := tx.single()
	if err != nil {
		return nil, err
	}
	return tx.c.addOne(ctx, rec, true)
}

// Add commits with Collection.Add.
func (tx *Tx) Add(ctx context.Context) ([]*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	return tx.c.add(ctx, tx.records, true)
}

// Update commits with Collection.Update.
func (tx *Tx) Update(ctx context.Context) ([]*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	return tx.c.update(ctx, tx.records, true)
}

// Batch commits with Collection.Batch.
func (tx *Tx) Batch(ctx context.Context) ([]*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	return tx.c.batch(ctx, tx.records, true)
}

// Upsert commits with Collection.Upsert.
func (tx *Tx) Upsert(ctx context.Context) ([]*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	return tx.c.upsert(ctx, tx.records, true)
}

// UpsertOne commits the single validated record with Collection.UpsertOne.
func (tx *Tx) UpsertOne(ctx context.Context) (*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	rec, err := tx.single()
	if err != nil {
		return nil, err
	}
	out, err := tx.c.upsert(ctx, []*Record{rec}, true)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Record completes the transaction without writing and returns the single
// validated record.
func (tx *Tx) Record() (*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	rec, err := tx.single()
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Records completes the transaction without writing and returns the
// validated records.
func (tx *Tx) Records() ([]*Record, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	out := make([]*Record, len(tx.records))
	for i, rec := range tx.records {
		out[i] = rec.Clone()
	}
	return out, nil
}
