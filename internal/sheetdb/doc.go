// Package sheetdb exposes the sheets of a tabular document as collections of
// header-keyed records.
//
// # Overview
//
// A [Registry] binds every sheet of a [sheet.Document] to a [Collection]. The
// first row of a sheet holds the field names; every row below it is one
// [Record]. A record read from or written to the store carries its row number
// in [Record.Key]; a record that was never persisted has a zero Key.
//
// # Caching
//
// A Collection materializes all records on first read and builds unique and
// grouped indexes on demand. Every successful mutation drops the whole cache;
// there is no incremental index maintenance.
//
// # Concurrency: Optimistic Checks
//
// The backing document may be edited by other processes at any time, so a Key
// is only meaningful right after the read or write that produced it. Update
// and Delete re-read the key column of the target row just before writing and
// fail with [StaleWriteError] if it changed. Add and AddOne check that the
// destination row is still empty. These checks are best effort: two writers
// can still race between the check and the write. [Collection.Batch] is the
// only operation that serializes writers, through a named lock on the
// document.
//
// Nothing is retried. A stale read must be re-evaluated by the caller.
package sheetdb
