// Package migrations embeds the SQL schema so the API and tests can migrate
// without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
