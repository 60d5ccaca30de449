// Package dbmigrations exposes embedded SQL migrations for Beacon binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Beacon binaries.
//
//go:embed *.sql
var Files embed.FS
