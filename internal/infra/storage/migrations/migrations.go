// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

// FS holds the migration files in golang-migrate naming.
//
//go:embed *.sql
var FS embed.FS
