package sqlexec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
)

// ErrObjectNotExist marks a statement that failed because the object it
// names is not in the database. Dropping such an object is harmless.
var ErrObjectNotExist = errors.New("object does not exist")

// Classify wraps err with ErrObjectNotExist when the driver reports a
// missing object. Other errors are returned unchanged.
func Classify(driver string, err error) error {
	if err == nil || !isObjectNotExist(driver, err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrObjectNotExist, err)
}

// IsObjectNotExist reports whether err was classified as a missing object.
func IsObjectNotExist(err error) bool {
	return errors.Is(err, ErrObjectNotExist)
}

func isObjectNotExist(driver string, err error) bool {
	// SQL Server
	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		// 3701: Cannot drop the object because it does not exist.
		// 218: Cannot find the type because it does not exist.
		switch mssqlErr.Number {
		case 3701, 218:
			return true
		}
		return strings.Contains(mssqlErr.Message, " it does not exist ")
	}

	// PostgreSQL
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01", "42883", "42704": // undefined table, function, object
			return true
		}
		return false
	}

	// MySQL/MariaDB
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1051 || mysqlErr.Number == 1305
	}

	// Error string pattern matching
	msg := err.Error()
	switch driver {
	case Oracle:
		return strings.Contains(msg, "ORA-04043") || strings.Contains(msg, "ORA-00942")
	case SQLite:
		return strings.Contains(msg, "no such view") ||
			strings.Contains(msg, "no such table") ||
			strings.Contains(msg, "no such trigger")
	default:
		return strings.Contains(msg, " it does not exist ")
	}
}
