// Package migrations holds the audit outbox schema. Files are applied in name
// order by database.Migrate; only *.up.sql files are run.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
