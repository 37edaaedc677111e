package errs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrAuthenticationRequired means no credential resolved to an identity
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrForbidden means the identity lacks the role, scope or token scope required
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRole means a role name is outside the allowed set
	ErrInvalidRole = errors.New("invalid role")
	// ErrValidation means the request input is malformed
	ErrValidation = errors.New("validation failed")
	// ErrConflict means a duplicate name or a duplicate concurrent start
	ErrConflict = errors.New("conflict")
	// ErrNotFound means an unknown operation, organization or user id
	ErrNotFound = errors.New("not found")
	// ErrSystemicFailure means the underlying store became unavailable
	ErrSystemicFailure = errors.New("systemic failure")
	// ErrConfiguration means the process was configured inconsistently
	ErrConfiguration = errors.New("configuration error")
)

// IsSystemic reports whether err indicates loss of the underlying data store
// rather than a problem with a single item.
func IsSystemic(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSystemicFailure) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// lib/pq passes dial and socket failures through as net errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53", // insufficient resources
			"57": // operator intervention (admin shutdown, crash shutdown)
			return true
		}
	}
	return false
}
