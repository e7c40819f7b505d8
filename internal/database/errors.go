package database

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation  = "23505"
	pqSerialization    = "40001"
	pqDeadlockDetected = "40P01"
	pqTooManyConns     = "53300"
	pqCannotConnectNow = "57P03"
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The conditional-write paths (user email, merge records) rely
// on this to detect a lost race rather than a hard failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// IsTransient reports whether err is worth retrying: connection-level
// failures and serialization/deadlock aborts. Validation errors, missing
// rows, and constraint violations are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerialization, pqDeadlockDetected, pqTooManyConns, pqCannotConnectNow:
			return true
		}
	}
	return false
}
