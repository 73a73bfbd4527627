package database_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/database/dbtest"
	"gorm.io/gorm"
)

func seedTarget(t *testing.T, db *database.DB, n int) {
	t.Helper()
	dbtest.Exec(t, db, "CREATE TABLE target (sn TEXT, batch TEXT, result TEXT)")
	for i := 0; i < n; i++ {
		dbtest.Exec(t, db, "INSERT INTO target (sn, batch, result) VALUES (?, 'B1', '')", fmt.Sprintf("SN%03d", i))
	}
}

func TestDialectForSQLite(t *testing.T) {
	db := dbtest.New(t)
	if db.Dialect.Name() != "sqlite" {
		t.Errorf("expected sqlite dialect, got %q", db.Dialect.Name())
	}
}

func TestExecCappedWithinCap(t *testing.T) {
	db := dbtest.New(t)
	seedTarget(t, db, 3)
	ctx := context.Background()

	var rows int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = db.Dialect.ExecCapped(ctx, tx, "UPDATE target SET result = @v WHERE batch = @m",
			map[string]interface{}{"v": "PASS", "m": "B1"}, 10)
		return err
	})
	if err != nil {
		t.Fatalf("ExecCapped failed: %v", err)
	}
	if rows != 3 {
		t.Errorf("expected 3 rows affected, got %d", rows)
	}
	if n := dbtest.Count(t, db, "target", "result = ?", "PASS"); n != 3 {
		t.Errorf("expected 3 committed rows, got %d", n)
	}
}

func TestExecCappedOverCapRollsBack(t *testing.T) {
	db := dbtest.New(t)
	seedTarget(t, db, 12)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := db.Dialect.ExecCapped(ctx, tx, "UPDATE target SET result = @v WHERE batch = @m",
			map[string]interface{}{"v": "PASS", "m": "B1"}, 10)
		return err
	})
	if !errors.Is(err, database.ErrRowCapExceeded) {
		t.Fatalf("expected ErrRowCapExceeded, got %v", err)
	}
	if n := dbtest.Count(t, db, "target", "result = ?", "PASS"); n != 0 {
		t.Errorf("expected rollback to leave 0 updated rows, got %d", n)
	}
}

func TestParseCheck(t *testing.T) {
	db := dbtest.New(t)
	seedTarget(t, db, 1)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return db.Dialect.ParseCheck(ctx, tx, "UPDATE target SET result = @v WHERE sn = @m",
			map[string]interface{}{"v": "PASS", "m": "SN000"})
	})
	if err != nil {
		t.Fatalf("valid statement failed parse check: %v", err)
	}
	if n := dbtest.Count(t, db, "target", "result = ?", "PASS"); n != 0 {
		t.Error("parse check must not apply the statement")
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := db.Dialect.ParseCheck(ctx, tx, "UPDATE missing_table SET x = 1 WHERE y = 2", nil); err == nil {
			t.Error("expected parse check to fail for unknown table")
		}
		// The transaction must stay usable after a failed check.
		return tx.Exec("UPDATE target SET result = 'LATER' WHERE sn = 'SN000'").Error
	})
	if err != nil {
		t.Fatalf("transaction unusable after failed parse check: %v", err)
	}
	if n := dbtest.Count(t, db, "target", "result = ?", "LATER"); n != 1 {
		t.Errorf("expected follow-up update to commit, got %d rows", n)
	}
}

func TestParseChecker(t *testing.T) {
	db := dbtest.New(t)
	seedTarget(t, db, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		pc := database.ParseChecker(db.Dialect, tx)
		return pc.ParseCheck(context.Background(), "DELETE FROM target WHERE sn = @m", map[string]interface{}{"m": "SN000"})
	})
	if err != nil {
		t.Fatalf("ParseCheck failed: %v", err)
	}
	if n := dbtest.Count(t, db, "target", ""); n != 1 {
		t.Errorf("parse check deleted rows, %d left", n)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"bad conn", driver.ErrBadConn, true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"mssql deadlock", mssql.Error{Number: 1205}, true},
		{"mssql bad column", mssql.Error{Number: 207}, false},
		{"plain", errors.New("no such column"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := database.IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
