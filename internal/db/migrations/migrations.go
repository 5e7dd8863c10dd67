// Package migrations embeds the goose migrations for each supported dialect.
package migrations

import "embed"

// FS holds one directory of migrations per dialect: postgres and sqlite.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
