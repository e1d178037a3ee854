// Package migrations embeds the postgres schema applied by goose at start-up.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
