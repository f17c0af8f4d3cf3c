package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, "23505") {
		return true
	}

	msg := err.Error()
	// PostgreSQL (error code 23505)
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL (error code 1062)
	if strings.Contains(msg, "Error 1062") {
		return true
	}
	// SQLite (error code 2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsTransient reports contention errors that are safe to retry: serialization
// failures, deadlocks and lock timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, code := range []string{"40001", "40P01", "55P03"} {
		if hasPGCode(err, code) {
			return true
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Error 1213"), strings.Contains(msg, "Error 1205"):
		return true
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return true
	}
	return false
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
