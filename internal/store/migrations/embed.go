// Package migrations embeds the goalchat.db schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
