// Package migrations embeds the scheduling schema for goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
