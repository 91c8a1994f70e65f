package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/timeline/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/timeline/migrations"
)

func openTestDB(t *testing.T) *gormsqlite.DB {
	t.Helper()
	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "timeline.sqlite"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(context.Background(), wdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
