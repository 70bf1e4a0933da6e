package sheetdb

// Schema validates records on their way to the store and coerces them on
// their way back. sheetdb never looks past these two calls.
type Schema interface {
	// ToStorage returns the normalized form of rec, or an error (ideally a
	// *ValidationError) when rec is rejected.
	ToStorage(rec *Record, opts ToStorageOptions) (*Record, error)
	// FromStorage coerces a raw record read from the store.
	FromStorage(rec *Record) (*Record, error)
}

// ToStorageOptions qualifies a ToStorage call.
type ToStorageOptions struct {
	// IsNew is true when rec has no Key yet.
	IsNew bool
	// ThrowOnError asks the schema to fail instead of dropping invalid values.
	ThrowOnError bool
}
