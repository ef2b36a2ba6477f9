package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CountLibrarians returns the number of system accounts.
func (d *Database) CountLibrarians(ctx context.Context) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM librarians`); err != nil {
		return 0, d.fail("count librarians", storeErr(err))
	}
	return n, nil
}

// Authenticate checks a username/password pair. A wrong password or unknown
// user is (false, nil); only store failures are errors.
func (d *Database) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := d.db.GetContext(ctx, &hash, d.db.Rebind(`SELECT password FROM librarians WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		d.log.Warn().Str("username", username).Msg("authentication failed")
		return false, nil
	}
	if err != nil {
		return false, d.fail("authenticate", storeErr(err))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		d.log.Warn().Str("username", username).Msg("authentication failed")
		return false, nil
	}
	d.log.Info().Str("username", username).Msg("authentication successful")
	return true, nil
}

// AddLibrarian creates a new account. Creating an account requires the
// credentials of an existing one, except for the very first account.
func (d *Database) AddLibrarian(ctx context.Context, authUser, authPass string, l *Librarian, password string) (int64, error) {
	if strings.TrimSpace(l.Username) == "" || password == "" {
		return 0, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if strings.TrimSpace(l.Name) == "" {
		return 0, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	n, err := d.CountLibrarians(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ok, err := d.Authenticate(ctx, authUser, authPass)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrAuthFailed
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	l.Password = string(hash)

	query := d.db.Rebind(`INSERT INTO librarians(name, mobile_no, email_address, username, password, role)
		VALUES(?, ?, ?, ?, ?, ?) RETURNING librarian_id`)
	var id int64
	if err := d.db.QueryRowxContext(ctx, query, l.Name, l.MobileNo, l.Email, l.Username, l.Password, l.Role).Scan(&id); err != nil {
		return 0, d.fail("add librarian", storeErr(err))
	}
	l.ID = id
	d.log.Info().Str("username", l.Username).Msg("librarian added")
	return id, nil
}
