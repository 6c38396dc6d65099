// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// FS holds every *.up.sql migration.
//
//go:embed *.sql
var FS embed.FS
