// Package errs defines the error kinds shared across memhub.
//
// Packages wrap one of these sentinels with fmt.Errorf and %w so callers can
// classify a failure with errors.Is without depending on the package that
// produced it:
//
//	return fmt.Errorf("operation %d is %s: %w", id, status, errs.ErrConflict)
//
// The HTTP layer maps each kind to a status code (see httputil.WriteErrorFor).
package errs
