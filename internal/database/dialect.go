package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xelth-com/reportsync/internal/sqlguard"
	"gorm.io/gorm"
)

// ErrRowCapExceeded is returned when a statement touched more rows than the
// configured cap. The caller's transaction must be rolled back.
var ErrRowCapExceeded = errors.New("row cap exceeded")

// Dialect holds the store-specific guards used around target mutations.
// Both methods must be called with a transaction handle so that session
// settings and rollbacks stay on one connection.
type Dialect interface {
	Name() string

	// ExecCapped runs text with params bound by name and guarantees that no
	// more than limit rows are changed when the transaction commits.
	ExecCapped(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}, limit int) (int64, error)

	// ParseCheck compiles text without applying it.
	ParseCheck(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}) error
}

// DialectFor picks the guards for the dialector behind db
func DialectFor(db *gorm.DB) Dialect {
	switch db.Dialector.Name() {
	case "sqlserver":
		return sqlServerDialect{}
	case "postgres":
		return explainDialect{name: "postgres"}
	default:
		return explainDialect{name: db.Dialector.Name()}
	}
}

// Exec runs text on tx, binding params by @name when the text uses them
func Exec(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}) (int64, error) {
	q := tx.WithContext(ctx)
	var res *gorm.DB
	if len(params) > 0 && strings.Contains(text, "@") {
		res = q.Exec(text, params)
	} else {
		res = q.Exec(text)
	}
	return res.RowsAffected, res.Error
}

// explainDialect serves Postgres and SQLite. Neither has a session row
// limit, so the statement runs inside the caller's transaction and the
// result is refused when it went over the cap.
type explainDialect struct {
	name string
}

func (d explainDialect) Name() string { return d.name }

func (d explainDialect) ExecCapped(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}, limit int) (int64, error) {
	rows, err := Exec(ctx, tx, text, params)
	if err != nil {
		return rows, err
	}
	if limit > 0 && rows > int64(limit) {
		return rows, fmt.Errorf("%w: %d rows affected, cap is %d", ErrRowCapExceeded, rows, limit)
	}
	return rows, nil
}

func (d explainDialect) ParseCheck(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}) error {
	const sp = "reportsync_parse_check"
	q := tx.WithContext(ctx)
	if err := q.SavePoint(sp).Error; err != nil {
		return fmt.Errorf("parse check savepoint: %w", err)
	}
	_, execErr := Exec(ctx, tx, "EXPLAIN "+text, params)
	// A failed EXPLAIN aborts a Postgres transaction until rolled back to
	// the savepoint.
	if err := q.RollbackTo(sp).Error; err != nil && execErr == nil {
		return fmt.Errorf("parse check rollback: %w", err)
	}
	return execErr
}

// sqlServerDialect uses the session settings SQL Server offers for both
// guards.
type sqlServerDialect struct{}

func (sqlServerDialect) Name() string { return "sqlserver" }

func (sqlServerDialect) ExecCapped(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}, limit int) (rows int64, err error) {
	if limit > 0 {
		if err := tx.WithContext(ctx).Exec(fmt.Sprintf("SET ROWCOUNT %d", limit)).Error; err != nil {
			return 0, fmt.Errorf("apply row cap: %w", err)
		}
		defer func() {
			// The cap is session state and must be cleared on every path.
			if clearErr := tx.WithContext(context.WithoutCancel(ctx)).Exec("SET ROWCOUNT 0").Error; clearErr != nil {
				err = errors.Join(err, fmt.Errorf("clear row cap: %w", clearErr))
			}
		}()
	}

	rows, err = Exec(ctx, tx, text, params)
	if err != nil {
		return rows, err
	}
	if limit > 0 && rows > int64(limit) {
		return rows, fmt.Errorf("%w: %d rows affected, cap is %d", ErrRowCapExceeded, rows, limit)
	}
	return rows, nil
}

func (sqlServerDialect) ParseCheck(ctx context.Context, tx *gorm.DB, text string, params map[string]interface{}) (err error) {
	if err := tx.WithContext(ctx).Exec("SET PARSEONLY ON").Error; err != nil {
		return fmt.Errorf("enable parse-only mode: %w", err)
	}
	defer func() {
		if offErr := tx.WithContext(context.WithoutCancel(ctx)).Exec("SET PARSEONLY OFF").Error; offErr != nil {
			err = errors.Join(err, fmt.Errorf("disable parse-only mode: %w", offErr))
		}
	}()
	_, err = Exec(ctx, tx, text, params)
	return err
}

// ParseChecker binds a dialect's parse check to one transaction so it can
// be handed to a sqlguard.Validator
func ParseChecker(d Dialect, tx *gorm.DB) sqlguard.ParseChecker {
	return txParseChecker{dialect: d, tx: tx}
}

type txParseChecker struct {
	dialect Dialect
	tx      *gorm.DB
}

func (p txParseChecker) ParseCheck(ctx context.Context, text string, params map[string]interface{}) error {
	return p.dialect.ParseCheck(ctx, p.tx, text, params)
}
