package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateKey is returned when an insert collides with an existing id
	// or unique key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrEntityNotFound is returned when an update targets a missing entity.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrInvalidData is returned when an entity cannot be persisted or a
	// persisted row cannot be decoded.
	ErrInvalidData = errors.New("invalid data")
	// ErrMultipleMatches is returned when a query declared unique matches
	// more than one row.
	ErrMultipleMatches = errors.New("multiple matches")
)

// translate maps SQLite constraint failures onto the store's error taxonomy.
func translate(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
	}
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}
