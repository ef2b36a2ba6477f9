package library

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrBookUnavailable     = errors.New("book currently not available")
	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberHasOpenLoans  = errors.New("member still has books issued")
	ErrNoOpenLoan          = errors.New("no book issue record found")
	ErrNoConditions        = errors.New("no conditions provided")
	ErrUnknownColumn       = errors.New("unknown column")
	ErrInvalidInput        = errors.New("invalid input")
	ErrAuthFailed          = errors.New("invalid user ID or password")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// storeErr classifies a raw driver error. Constraint failures keep their
// cause under ErrConstraintViolation, everything else is ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintErr(err) {
		return errors.Join(ErrConstraintViolation, err)
	}
	return errors.Join(ErrStoreUnavailable, err)
}

func isConstraintErr(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 23: integrity constraint violation
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}
