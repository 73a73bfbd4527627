package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
)

// SQL Server error numbers worth another attempt: deadlock victim,
// client timeout, and the Azure SQL throttling/failover family.
var transientMSSQL = map[int32]bool{
	1205:  true,
	-2:    true,
	4060:  true,
	10928: true,
	10929: true,
	40197: true,
	40501: true,
	40613: true,
	49918: true,
	49919: true,
	49920: true,
}

// IsTransient reports whether err is a connection or contention failure
// that may succeed when the same unit of work is tried again
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03", pgErr.Code == "53300":
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return transientMSSQL[msErr.Number]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
