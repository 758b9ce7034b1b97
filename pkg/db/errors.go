package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// UniqueIndex names a unique index. Postgres reports the index name on a
// violation while SQLite reports the "<table>.<column>" list, so both are
// carried.
type UniqueIndex struct {
	Name    string
	Columns []string
}

// AnyUniqueIndex matches a violation of any unique index.
var AnyUniqueIndex = UniqueIndex{}

func (u UniqueIndex) matchesText(msg string) bool {
	if u.Name == "" && len(u.Columns) == 0 {
		return true
	}
	if u.Name != "" && strings.Contains(msg, u.Name) {
		return true
	}
	return len(u.Columns) > 0 && strings.Contains(msg, strings.Join(u.Columns, ", "))
}

// IsUniqueViolation reports whether err is a unique constraint violation of
// index. AnyUniqueIndex matches every unique violation.
func IsUniqueViolation(err error, index UniqueIndex) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode &&
			(index.Name == "" || pgErr.ConstraintName == index.Name)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode &&
			(index.Name == "" || pqErr.Constraint == index.Name)
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return index.matchesText(msg)
}
