// Package migrations embeds the mamori schema so the binary can migrate a
// database from any working directory.
package migrations

import "embed"

// FS holds the ordered .sql files applied by storage.RunMigrations.
//
//go:embed *.sql
var FS embed.FS
