package botfactory

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the SQL schema of the factory, with the sqlite variant
// of every migration under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
