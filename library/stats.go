package library

import (
	"context"
	"time"
)

// Stats counts books, members, open loans and overdue loans.
func (d *Database) Stats(ctx context.Context) (*Stats, error) {
	query := d.db.Rebind(`SELECT
		(SELECT COUNT(*) FROM books) AS total_books,
		(SELECT COUNT(*) FROM members) AS total_members,
		(SELECT COUNT(*) FROM book_issues WHERE actual_return_date IS NULL) AS issued_books,
		(SELECT COUNT(*) FROM book_issues WHERE actual_return_date IS NULL AND due_date < ?) AS overdue_books`)

	var s Stats
	start := time.Now()
	err := d.db.GetContext(ctx, &s, query, d.today())
	d.logQuery(query, start)
	if err != nil {
		return nil, d.fail("stats", storeErr(err))
	}
	return &s, nil
}
