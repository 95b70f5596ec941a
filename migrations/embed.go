// Package migrations embeds the SQL schema for the bridge's entry and
// entity registry so the binary carries its own schema.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds the embedded migration files.
var FS = files

// Dir is the directory within FS containing the migrations.
const Dir = "."
