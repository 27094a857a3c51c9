// Package migrations embeds the SQL schema so binaries and tests apply the
// same files.
package migrations

import "embed"

// FS holds the schema files, applied in name order.
//
//go:embed *.sql
var FS embed.FS
