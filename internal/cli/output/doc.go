// Package output renders querydeck-cli results.
//
// Formats:
//
//   - table: aligned columns, relative times ("3 minutes ago")
//   - json: indented JSON
//   - yaml: YAML documents
//
// Values that implement Tabular pick their own columns. Other structs and
// slices of structs are rendered through their `table` struct tags.
// Spinner shows progress for slow operations such as connects.
package output
