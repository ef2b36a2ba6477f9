package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const selectCopySet = `SELECT book_id, current_copies, total_copies, availability FROM copies WHERE book_id = ?`

// IsAvailable reports whether at least one copy of the book is on the shelf.
// A book without a CopySet row is simply unavailable.
func (d *Database) IsAvailable(ctx context.Context, bookID int64) (bool, error) {
	cs, err := d.copySet(ctx, d.db, bookID, false)
	if errors.Is(err, ErrBookNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cs.Current > 0, nil
}

// GetCopySet returns the copy counts of a book.
func (d *Database) GetCopySet(ctx context.Context, bookID int64) (*CopySet, error) {
	return d.copySet(ctx, d.db, bookID, false)
}

// DecrementCopy takes one copy off the shelf.
func (d *Database) DecrementCopy(ctx context.Context, bookID int64) error {
	return d.adjustInTx(ctx, bookID, -1)
}

// IncrementCopy puts one copy back on the shelf.
func (d *Database) IncrementCopy(ctx context.Context, bookID int64) error {
	return d.adjustInTx(ctx, bookID, 1)
}

func (d *Database) adjustInTx(ctx context.Context, bookID int64, delta int) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return d.fail("adjust copies", storeErr(err))
	}
	defer tx.Rollback()

	if err := d.adjustCopies(ctx, tx, bookID, delta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return d.fail("adjust copies", storeErr(err))
	}
	return nil
}

// adjustCopies is the single write path for current_copies. Availability is
// recomputed by the same statement, and the bound check lives in the WHERE
// clause so a violating update touches no row.
func (d *Database) adjustCopies(ctx context.Context, ext sqlx.ExtContext, bookID int64, delta int) error {
	query := ext.Rebind(`UPDATE copies
		SET current_copies = current_copies + ?,
		    availability = (current_copies + ? > 0)
		WHERE book_id = ?
		  AND current_copies + ? >= 0
		  AND current_copies + ? <= total_copies`)

	start := time.Now()
	res, err := ext.ExecContext(ctx, query, delta, delta, bookID, delta, delta)
	d.logQuery(query, start)
	if err != nil {
		return d.fail("adjust copies", storeErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return d.fail("adjust copies", storeErr(err))
	}
	if n == 1 {
		return nil
	}

	cs, err := d.copySet(ctx, ext, bookID, false)
	if err != nil {
		return err
	}
	d.log.Warn().
		Int64(logAttrBookID, bookID).
		Int("current_copies", cs.Current).
		Int("total_copies", cs.Total).
		Int("delta", delta).
		Msg(logMsgRejected)
	return errors.Join(ErrConstraintViolation,
		fmt.Errorf("book %d has %d of %d copies on the shelf, cannot apply %+d", bookID, cs.Current, cs.Total, delta))
}

// copySet reads the CopySet row. With lock set on Postgres the row stays
// locked until the surrounding transaction ends; SQLite transactions already
// hold the database write lock.
func (d *Database) copySet(ctx context.Context, q sqlx.ExtContext, bookID int64, lock bool) (*CopySet, error) {
	query := selectCopySet
	if lock && d.driver == DriverPostgres {
		query += " FOR UPDATE"
	}
	query = q.Rebind(query)

	var cs CopySet
	start := time.Now()
	err := sqlx.GetContext(ctx, q, &cs, query, bookID)
	d.logQuery(query, start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", bookID, ErrBookNotFound)
	}
	if err != nil {
		return nil, d.fail("read copies", storeErr(err))
	}
	return &cs, nil
}
