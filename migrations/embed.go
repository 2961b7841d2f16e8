// Package migrations holds the postgres schema applied by `alzheon migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
