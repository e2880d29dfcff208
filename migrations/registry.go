// Package migrations picks the embedded SQL migrations for a database dialect.
package migrations

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	adconnect "github.com/goliatone/go-adconnect"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsDir = "data/sql/migrations"

// ForDialect returns the migration files for dialect. Postgres files sit at
// the top of the tree, sqlite variants under sqlite/.
func ForDialect(dialect string) (fs.FS, error) {
	return forDialect(adconnect.GetMigrationsFS(), dialect)
}

func forDialect(tree fs.FS, dialect string) (fs.FS, error) {
	dir := migrationsDir
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
	case DialectSQLite:
		dir = path.Join(migrationsDir, "sqlite")
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	sub, err := fs.Sub(tree, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	matches, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return sub, nil
}
