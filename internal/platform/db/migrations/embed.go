package migrations

import "embed"

// Files holds the SQL migrations applied at startup and by the migrate command.
//
//go:embed *.sql
var Files embed.FS
