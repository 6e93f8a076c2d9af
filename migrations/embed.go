// Package migrations holds the SQL schema for the audit store, compiled
// into the binary.
package migrations

import "embed"

// FS contains every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
