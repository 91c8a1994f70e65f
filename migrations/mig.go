package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed files/*.sql postgres/*.sql
var migrationFS embed.FS

// Up applies the sqlite schema: api keys, articles and timeline events.
func Up(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, goose.DialectSQLite3, "files")
}

// UpPostgres applies the timeline schema for the postgres store.
func UpPostgres(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, goose.DialectPostgres, "postgres")
}

func up(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("migration dir %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run %s migrations: %w", dir, err)
	}
	return nil
}
