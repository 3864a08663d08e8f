// Package migrations embeds the SQL migration files so the migrator binary
// is self-contained.
package migrations

import "embed"

// FS holds every versioned migration pair.
//
//go:embed *.sql
var FS embed.FS
