package db

import "embed"

// MigrationFS embeds the chat schema migrations applied by internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
