package identity

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/suntec-core/internal/infrastructure/database"
	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-chars!"

// testDB opens an in-memory gateway database with all migrations applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db
}

// newTestLocal returns a LocalProvider and its backing database.
func newTestLocal(t *testing.T) (*LocalProvider, *database.DB) {
	t.Helper()
	db := testDB(t)
	p := NewLocalProvider(NewAccountRepository(db.DB), NewTokenRepository(db.DB), LocalConfig{
		Secret:     testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	return p, db
}

func newTestService(t *testing.T) (*Service, *LocalProvider) {
	t.Helper()
	p, db := newTestLocal(t)
	return NewService(p, NewProfileRepository(db.DB), logging.Discard()), p
}
