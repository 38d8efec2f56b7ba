package mysql

import (
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const (
	erAccessDenied        = 1045
	erOptionPreventsStmt  = 1290
	erReadOnlyTransaction = 1792
	erGRNotRunning        = 3092
)

// ErrorNumber returns the server error number, 0 if err does not come from
// the server.
func ErrorNumber(err error) uint16 {
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsReadOnlyError tells whether a write was refused because the server is
// (super) read only, which is what a demoted primary answers.
func IsReadOnlyError(err error) bool {
	switch ErrorNumber(err) {
	case erOptionPreventsStmt, erReadOnlyTransaction:
		return true
	}
	return false
}

func IsAccessDenied(err error) bool {
	return ErrorNumber(err) == erAccessDenied
}

func IsGroupReplicationNotRunning(err error) bool {
	return ErrorNumber(err) == erGRNotRunning
}
