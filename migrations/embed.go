// Package migrations embeds the SQL migration files for the local store.
package migrations

import "embed"

// FS contains all SQL migration files, applied by goose at store startup.
//
//go:embed *.sql
var FS embed.FS
