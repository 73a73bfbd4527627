// Package dbtest opens throwaway in-memory SQLite ledgers for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/xelth-com/reportsync/internal/config"
	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/models"
	"go.uber.org/zap"
)

// New returns a migrated, private in-memory database that is closed when
// the test ends. Business tables are created by the test itself.
func New(t testing.TB) *database.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", URL: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Exec runs setup SQL and fails the test on error
func Exec(t testing.TB, db *database.DB, sql string, args ...interface{}) {
	t.Helper()
	if err := db.Exec(sql, args...).Error; err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

// Count returns the row count of a table matching an optional condition
func Count(t testing.TB, db *database.DB, table, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
