package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgErrUniqueViolation is the postgres unique_violation SQLSTATE.
const pgErrUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique constraint violation and,
// if so, returns what identifies the constraint (the postgres constraint name
// or the sqlite column list).
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgErrUniqueViolation {
			return "", false
		}
		return pgErr.ConstraintName + " " + pgErr.Detail, true
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return msg, true
	}
	return "", false
}

// participantConflict maps a failed participant insert to the store conflict
// it represents, or nil if the failure was not a uniqueness conflict.
func participantConflict(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	if strings.Contains(constraint, "tx_hash") {
		return ErrDuplicateTxHash
	}
	return ErrDuplicateParticipant
}
