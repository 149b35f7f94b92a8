// Package migrations embeds the PostgreSQL schema applied at startup by
// database.RunMigrations.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files of this directory.
//
//go:embed *.sql
var FS embed.FS
