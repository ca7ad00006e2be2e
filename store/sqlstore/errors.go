package sqlstore

import (
	"errors"
	"fmt"

	"github.com/jacentio/catalog/store"
)

// sqlStateError is implemented by pgx (*pgconn.PgError).
type sqlStateError interface {
	SQLState() string
}

// sqliteCoder is implemented by modernc.org/sqlite (*sqlite.Error).
type sqliteCoder interface {
	Code() int
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const (
	sqliteBusy                 = 5
	sqliteLocked               = 6
	sqliteBusySnapshot         = 517
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func isUniqueViolation(err error) bool {
	var se sqlStateError
	if errors.As(err, &se) && se.SQLState() == pgUniqueViolation {
		return true
	}
	var sc sqliteCoder
	if errors.As(err, &sc) {
		switch sc.Code() {
		case sqliteConstraintPrimaryKey, sqliteConstraintUnique:
			return true
		}
	}
	return false
}

func isConflict(err error) bool {
	var se sqlStateError
	if errors.As(err, &se) {
		switch se.SQLState() {
		case pgSerializationFailure, pgDeadlockDetected:
			return true
		}
	}
	var sc sqliteCoder
	if errors.As(err, &sc) {
		switch sc.Code() {
		case sqliteBusy, sqliteLocked, sqliteBusySnapshot:
			return true
		}
	}
	return false
}

// mapError translates driver errors into store errors, keeping the driver
// error in the message.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s: %v", store.ErrAlreadyExists, op, err)
	case isConflict(err):
		return fmt.Errorf("%w: %s: %v", store.ErrConflict, op, err)
	}
	return fmt.Errorf("sqlstore: %s: %w", op, err)
}
