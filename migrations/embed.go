// Package migrations embeds the service's SQL schema migrations.
package migrations

import "embed"

// FS holds the *.up.sql migrations, applied in name order at startup.
//
//go:embed *.sql
var FS embed.FS
