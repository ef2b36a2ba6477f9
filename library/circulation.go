package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// LoanPeriod is the fixed window between issue date and due date.
const LoanPeriod = 14 * 24 * time.Hour

// IssueBook lends one copy of bookID to memberID. The issue record and the
// copy decrement commit together or not at all.
func (d *Database) IssueBook(ctx context.Context, bookID, memberID int64) (*IssueRecord, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, d.fail("issue book", storeErr(err))
	}
	defer tx.Rollback()

	cs, err := d.copySet(ctx, tx, bookID, true)
	if err != nil && !errors.Is(err, ErrBookNotFound) {
		return nil, err
	}
	if cs == nil || cs.Current == 0 {
		d.log.Warn().Int64(logAttrBookID, bookID).Int64(logAttrMemberID, memberID).Msg("book is not available")
		return nil, fmt.Errorf("book %d: %w", bookID, ErrBookUnavailable)
	}

	exists, err := d.memberExists(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	if !exists {
		d.log.Warn().Int64(logAttrMemberID, memberID).Msg("invalid member id")
		return nil, fmt.Errorf("member %d: %w", memberID, ErrMemberNotFound)
	}

	now := d.today()
	rec := &IssueRecord{
		BookID:    bookID,
		MemberID:  memberID,
		IssueDate: now,
		DueDate:   now.Add(LoanPeriod),
	}
	query := tx.Rebind(`INSERT INTO book_issues(book_id, member_id, issue_date, due_date, fine)
		VALUES(?, ?, ?, ?, 0) RETURNING issue_id`)
	start := time.Now()
	err = tx.QueryRowxContext(ctx, query, rec.BookID, rec.MemberID, rec.IssueDate, rec.DueDate).Scan(&rec.ID)
	d.logQuery(query, start)
	if err != nil {
		return nil, d.fail("insert issue record", storeErr(err))
	}

	if err := d.adjustCopies(ctx, tx, bookID, -1); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, d.fail("issue book", storeErr(err))
	}

	d.log.Info().
		Int64(logAttrIssueID, rec.ID).
		Int64(logAttrBookID, bookID).
		Int64(logAttrMemberID, memberID).
		Time("due_date", rec.DueDate).
		Msg("book issued")
	return rec, nil
}

// ReturnBook closes the open loan of bookID held by memberID and puts the
// copy back on the shelf. When the member holds several copies of the same
// title, the oldest loan is closed first.
func (d *Database) ReturnBook(ctx context.Context, bookID, memberID int64) (*ReturnReceipt, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, d.fail("return book", storeErr(err))
	}
	defer tx.Rollback()

	query := `SELECT issue_id, book_id, member_id, issue_date, due_date, actual_return_date, fine
		FROM book_issues
		WHERE book_id = ? AND member_id = ? AND actual_return_date IS NULL
		ORDER BY issue_id
		LIMIT 1`
	if d.driver == DriverPostgres {
		query += " FOR UPDATE"
	}
	query = tx.Rebind(query)
	var rec IssueRecord
	start := time.Now()
	err = tx.GetContext(ctx, &rec, query, bookID, memberID)
	d.logQuery(query, start)
	if errors.Is(err, sql.ErrNoRows) {
		d.log.Warn().Int64(logAttrBookID, bookID).Int64(logAttrMemberID, memberID).Msg("no book issue record found")
		return nil, fmt.Errorf("book %d, member %d: %w", bookID, memberID, ErrNoOpenLoan)
	}
	if err != nil {
		return nil, d.fail("find issue record", storeErr(err))
	}

	now := d.today()
	receipt := &ReturnReceipt{
		IssueID:     rec.ID,
		BookID:      rec.BookID,
		MemberID:    rec.MemberID,
		IssueDate:   rec.IssueDate,
		DueDate:     rec.DueDate,
		ReturnedAt:  now,
		DaysOverdue: DaysOverdue(rec.DueDate, now),
	}
	receipt.Fine = float64(receipt.DaysOverdue) * d.finePerDay

	query = tx.Rebind(`DELETE FROM book_issues WHERE issue_id = ?`)
	start = time.Now()
	res, err := tx.ExecContext(ctx, query, rec.ID)
	d.logQuery(query, start)
	if err != nil {
		return nil, d.fail("delete issue record", storeErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, d.fail("delete issue record", storeErr(err))
	}
	// A concurrent return closed the loan first; the copy is already back.
	if n != 1 {
		d.log.Warn().Int64(logAttrIssueID, rec.ID).Int64(logAttrRows, n).Msg(logMsgRejected)
		return nil, fmt.Errorf("issue %d already closed: %w", rec.ID, ErrNoOpenLoan)
	}

	if err := d.adjustCopies(ctx, tx, bookID, 1); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, d.fail("return book", storeErr(err))
	}

	d.log.Info().
		Int64(logAttrIssueID, rec.ID).
		Int64(logAttrBookID, bookID).
		Int64(logAttrMemberID, memberID).
		Int("days_overdue", receipt.DaysOverdue).
		Msg("book returned")
	return receipt, nil
}

// ListOpenLoans returns every open loan, earliest due date first.
func (d *Database) ListOpenLoans(ctx context.Context) ([]*LoanListing, error) {
	query := `SELECT i.issue_id, i.book_id, i.member_id, i.issue_date, i.due_date, i.actual_return_date, i.fine,
			b.name AS book_name, m.name AS member_name
		FROM book_issues i
		JOIN books b ON b.book_id = i.book_id
		JOIN members m ON m.member_id = i.member_id
		WHERE i.actual_return_date IS NULL
		ORDER BY i.due_date, i.issue_id`

	var loans []*LoanListing
	start := time.Now()
	err := d.db.SelectContext(ctx, &loans, query)
	d.logQuery(query, start)
	if err != nil {
		return nil, d.fail("list loans", storeErr(err))
	}
	return loans, nil
}

// CountOpenLoans returns the number of open loans for a book.
func (d *Database) CountOpenLoans(ctx context.Context, bookID int64) (int, error) {
	var n int
	query := d.db.Rebind(`SELECT COUNT(*) FROM book_issues WHERE book_id = ? AND actual_return_date IS NULL`)
	if err := d.db.GetContext(ctx, &n, query, bookID); err != nil {
		return 0, d.fail("count loans", storeErr(err))
	}
	return n, nil
}

// DaysOverdue is the whole number of calendar days between due and at,
// or zero when at is on or before the due date.
func DaysOverdue(due, at time.Time) int {
	days := int(civilDate(at).Sub(civilDate(due)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func civilDate(t time.Time) time.Time {
	y, m, day := t.UTC().Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func (d *Database) memberExists(ctx context.Context, q sqlx.ExtContext, memberID int64) (bool, error) {
	var exists bool
	query := q.Rebind(`SELECT EXISTS(SELECT 1 FROM members WHERE member_id = ?)`)
	if err := sqlx.GetContext(ctx, q, &exists, query, memberID); err != nil {
		return false, d.fail("find member", storeErr(err))
	}
	return exists, nil
}
