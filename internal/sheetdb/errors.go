package sheetdb

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrSchemaMissing       = errors.New("schema missing")
	ErrConflict            = errors.New("unique value conflict")
	ErrWriteConflict       = errors.New("destination row occupied")
	ErrStaleWrite          = errors.New("row changed since it was read")
	ErrLockTimeout         = errors.New("lock not acquired in time")
	ErrNotFound            = errors.New("record not found")
	ErrTransactionComplete = errors.New("transaction already complete")
	ErrValidation          = errors.New("validation failed")

	// ErrNoKey is returned when an operation needs a persisted record.
	ErrNoKey = errors.New("record has no _key")
	// ErrHasKey is returned when adding a record that is already persisted.
	ErrHasKey = errors.New("record already has a _key")
	// ErrUnknownField is returned for a field that is not in the header row.
	ErrUnknownField = errors.New("unknown field")
)

// SchemaMissingError is returned by Open when a schema map is supplied but
// lacks an entry for some collections.
type SchemaMissingError struct {
	Collections []string
}

func (e *SchemaMissingError) Error() string {
	return fmt.Sprintf("no schema for collections %s", strings.Join(e.Collections, ", "))
}

func (e *SchemaMissingError) Is(target error) bool { return target == ErrSchemaMissing }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Collection string
	Field      string
	Value      any
	// Key is the row already holding Value.
	Key int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s=%v already used by row %d", e.Collection, e.Field, e.Value, e.Key)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// WriteConflictError reports that the destination of an add was not empty.
type WriteConflictError struct {
	Collection string
	Row        int
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("%s: row %d is not empty", e.Collection, e.Row)
}

func (e *WriteConflictError) Is(target error) bool { return target == ErrWriteConflict }

// StaleWriteError reports that the key column of a row changed between the
// read that produced a Key and a write to it.
type StaleWriteError struct {
	Collection string
	Key        int
	Field      string
	Want       any
	Got        any
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("%s: row %d drifted: %s is %q, expected %q", e.Collection, e.Key, e.Field, cellKey(e.Got), cellKey(e.Want))
}

func (e *StaleWriteError) Is(target error) bool { return target == ErrStaleWrite }

// LockTimeoutError reports that the batch lock was not acquired in time. The
// store was not modified.
type LockTimeoutError struct {
	Collection string
	Lock       string
	Wait       time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%s: lock %q not acquired within %s", e.Collection, e.Lock, e.Wait)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// NotFoundError reports a Key that does not resolve to a record.
type NotFoundError struct {
	Collection string
	Key        int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no record at row %d", e.Collection, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransactionAlreadyCompleteError is returned by every commit action of a Tx
// after the first.
type TransactionAlreadyCompleteError struct {
	Collection string
}

func (e *TransactionAlreadyCompleteError) Error() string {
	return fmt.Sprintf("%s: transaction already complete", e.Collection)
}

func (e *TransactionAlreadyCompleteError) Is(target error) bool {
	return target == ErrTransactionComplete
}

// ValidationError reports a record rejected by a Schema.
type ValidationError struct {
	Collection string
	// Key is the record's row, 0 for a new record.
	Key   int
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Collection != "" {
		b.WriteString(e.Collection)
		b.WriteString(": ")
	}
	if e.Key != 0 {
		fmt.Fprintf(&b, "row %d: ", e.Key)
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(ErrValidation.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// asValidationError attributes err to the collection and record.
func asValidationError(collection string, rec *Record, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		cp := *ve
		if cp.Collection == "" {
			cp.Collection = collection
		}
		if cp.Key == 0 {
			cp.Key = rec.Key
		}
		return &cp
	}
	return &ValidationError{Collection: collection, Key: rec.Key, Err: err}
}
