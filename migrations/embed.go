// Package migrations embeds the gateway account database schema.
//
// The files are compiled into the binary and applied at startup with
// database.DB.Migrate(ctx, migrations.FS).
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
