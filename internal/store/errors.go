package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrUniqueViolation is returned when an insert collides with an
	// existing row. Callers treat this as "duplicate", never as a
	// generic failure.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// pqUniqueViolation is the PostgreSQL error code for unique_violation.
const pqUniqueViolation = "23505"

// mapInsertError translates driver errors so the pipeline can
// distinguish a uniqueness race from a real failure.
func mapInsertError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return ErrUniqueViolation
	}

	return err
}
