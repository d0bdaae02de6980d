// Package migrations compiles the SQL schema files into the binary,
// so a deployed daemon never depends on loose .sql files. Importing
// this package (the main binary does, for side effect) hands the
// embedded filesystem to the database package.
package migrations

import (
	"embed"

	"github.com/dvselas/protect-sync/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	// The embedded files sit at the FS root, not under "migrations/".
	database.MigrationsDir = "."
}
