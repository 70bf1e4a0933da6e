// Package schema provides typed column schemas for sheetdb collections.
//
// # Overview
//
// A [Schema] is an ordered list of [Column]s. It implements sheetdb.Schema:
// values are coerced toward the column type on their way to the store and
// decoded back to Go values when read.
//
// # Type Coercion
//
// Cells only hold text, numbers and booleans. Each column [Type] maps to an
// [Affinity], a storage class that values are coerced toward, loosely
// following SQLite's type affinity rules. Dates are stored as RFC 3339 text
// and JSON columns as encoded text.
//
// # Struct Schemas
//
// [FromType] derives the columns of a Go struct through JSON Schema
// reflection, and [Encode] and [Decode] convert between structs and records
// through their JSON form.
package schema
