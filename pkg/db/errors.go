package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ViolationKind is the integrity class of a failed write.
type ViolationKind int

const (
	NoViolation ViolationKind = iota
	UniqueViolation
	CheckViolation
	ForeignKeyViolation
)

var sqlStateKinds = map[string]ViolationKind{
	"23505": UniqueViolation,
	"23514": CheckViolation,
	"23503": ForeignKeyViolation,
}

// sqlite reports constraint failures only through the message text.
var sqliteKinds = map[string]ViolationKind{
	"UNIQUE constraint failed":      UniqueViolation,
	"CHECK constraint failed":       CheckViolation,
	"FOREIGN KEY constraint failed": ForeignKeyViolation,
}

// Violation classifies err and returns the constraint name when the driver
// reports one.
func Violation(err error) (ViolationKind, string) {
	if err == nil {
		return NoViolation, ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return sqlStateKinds[pgErr.Code], pgErr.ConstraintName
	}
	msg := err.Error()
	for marker, kind := range sqliteKinds {
		if i := strings.Index(msg, marker); i >= 0 {
			return kind, strings.TrimSpace(strings.TrimPrefix(msg[i+len(marker):], ":"))
		}
	}
	if strings.Contains(msg, "duplicate key value") {
		return UniqueViolation, ""
	}
	return NoViolation, ""
}

// IsUniqueViolation reports a unique violation, optionally on one constraint.
func IsUniqueViolation(err error, constraint string) bool {
	kind, name := Violation(err)
	if kind != UniqueViolation {
		return false
	}
	return constraint == "" || strings.Contains(name, constraint)
}
