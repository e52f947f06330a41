// Package migrations embeds the SQL schema migrations of the local store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
