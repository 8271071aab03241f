// Package migrations embeds the SQL migrations of the ledger schema so the
// migrate command works without a checkout next to the binary.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file of this directory
//
//go:embed *.sql
var FS embed.FS
