package sqlite

import (
	"strings"

	"github.com/ganot/meetsync/internal/repository"
)

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// classify maps constraint failures to repository errors.
func classify(err error) error {
	switch {
	case isForeignKeyViolation(err):
		return repository.ErrForeignKeyViolation
	case isUniqueViolation(err):
		return repository.ErrConflict
	}
	return err
}
