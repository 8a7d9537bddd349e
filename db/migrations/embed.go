// Package dbmigrations exposes the embedded ledger schema migrations.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into the ledger binaries.
//
//go:embed *.sql
var Files embed.FS
