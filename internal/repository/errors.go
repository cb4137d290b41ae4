package repository

import (
	"errors"
	"strings"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"gorm.io/gorm"
)

// Common repository errors
var (
	ErrNotFound       = apperrors.ErrNotFound
	ErrDuplicateEntry = apperrors.ErrDuplicateEntry
	ErrInvalidInput   = apperrors.ErrInvalidInput
)

// isDuplicateKeyError checks if the error is a duplicate key violation
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "UNIQUE constraint") ||
		strings.Contains(errStr, "23505") // PostgreSQL unique violation code
}
