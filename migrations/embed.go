// Package migrations provides the embedded SQL migrations. Files apply in
// lexical order (001, 002, ...).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
