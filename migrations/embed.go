// Package migrations holds the numbered SQL migrations, embedded so the
// service and the migrate CLI do not depend on the working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
