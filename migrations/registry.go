// Package migrations exposes the embedded botfactory schema, one ordered set
// of SQL files per supported dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	botfactory "github.com/goliatone/go-botfactory"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const root = "data/sql/migrations"

// ParseDialect maps a database/sql driver or config name to its dialect.
// The empty name selects sqlite.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", name)
	}
}

func (d Dialect) dir() string {
	if d == DialectSQLite {
		return path.Join(root, "sqlite")
	}
	return root
}

// Set is the migration tree of one dialect. Ups lists the *.up.sql files in
// apply order.
type Set struct {
	Dialect Dialect
	Path    string
	FS      fs.FS
	Ups     []string
}

// Load returns the set for dialect from the embedded tree, or from source
// when given.
func Load(dialect Dialect, source ...fs.FS) (Set, error) {
	tree := botfactory.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		tree = source[0]
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return Set{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	dir := dialect.dir()
	sub, err := fs.Sub(tree, dir)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return Set{}, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return Set{}, fmt.Errorf("migrations: %s has no %s migrations", dir, dialect)
	}
	sort.Strings(ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(sub, down); err != nil {
			return Set{}, fmt.Errorf("migrations: %s/%s has no rollback: %w", dir, up, err)
		}
	}
	return Set{Dialect: dialect, Path: dir, FS: sub, Ups: ups}, nil
}

// RegisterFunc installs one set with a migration runner, usually
// persistence.Client.RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, set Set) error

// Register loads the set of every dialect and hands it to register. With no
// dialects both are registered.
func Register(ctx context.Context, register RegisterFunc, dialects ...Dialect) ([]Set, error) {
	if register == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []Dialect{DialectPostgres, DialectSQLite}
	}
	sets := make([]Set, 0, len(dialects))
	seen := map[Dialect]bool{}
	for _, dialect := range dialects {
		if seen[dialect] {
			continue
		}
		seen[dialect] = true
		set, err := Load(dialect)
		if err != nil {
			return sets, err
		}
		if err := register(ctx, set); err != nil {
			return sets, fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
		sets = append(sets, set)
	}
	return sets, nil
}
