package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// Assignment is one column:value pair, used both as an equality condition
// and as an update.
type Assignment struct {
	Column string
	Value  string
}

// ParseAssignment parses a "column:value" token as typed at the console.
// Only the first colon separates, so values may contain colons.
func ParseAssignment(token string) (Assignment, error) {
	column, value, ok := strings.Cut(token, ":")
	column = strings.ToLower(strings.TrimSpace(column))
	if !ok || column == "" {
		return Assignment{}, fmt.Errorf("%w: use 'column:value', got %q", ErrInvalidInput, token)
	}
	return Assignment{Column: column, Value: strings.TrimSpace(value)}, nil
}

type columnKind int

const (
	textColumn columnKind = iota
	intColumn
)

// table lists the columns a predicate may reference. Columns outside the
// list are rejected before any SQL is built.
type table struct {
	name    string
	key     string
	columns map[string]columnKind
}

var booksTable = table{
	name: "books",
	key:  "book_id",
	columns: map[string]columnKind{
		"book_id":          intColumn,
		"isbn":             textColumn,
		"name":             textColumn,
		"author":           textColumn,
		"publication":      textColumn,
		"genre":            textColumn,
		"language":         textColumn,
		"description":      textColumn,
		"publication_year": intColumn,
		"pages":            intColumn,
		"book_type":        textColumn,
	},
}

var membersTable = table{
	name: "members",
	key:  "member_id",
	columns: map[string]columnKind{
		"member_id":     intColumn,
		"name":          textColumn,
		"mobile_no":     textColumn,
		"email_address": textColumn,
		"subscription":  textColumn,
		"borrow_limit":  intColumn,
	},
}

func (t table) value(a Assignment) (any, error) {
	kind, ok := t.columns[a.Column]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no column %q", ErrUnknownColumn, t.name, a.Column)
	}
	if kind == intColumn {
		n, err := strconv.Atoi(a.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidInput, a.Column, a.Value)
		}
		return n, nil
	}
	return a.Value, nil
}

// conditions builds the conjunction col1 = ? AND col2 = ? ... in input order.
func (t table) conditions(conds []Assignment) ([]exp.Expression, error) {
	if len(conds) == 0 {
		return nil, fmt.Errorf("%w: refusing to touch every row of %s", ErrNoConditions, t.name)
	}
	exprs := make([]exp.Expression, 0, len(conds))
	for _, c := range conds {
		v, err := t.value(c)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, goqu.C(c.Column).Eq(v))
	}
	return exprs, nil
}

func (t table) record(updates []Assignment) (goqu.Record, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no updates provided for %s", ErrNoConditions, t.name)
	}
	rec := goqu.Record{}
	for _, u := range updates {
		if u.Column == t.key {
			return nil, fmt.Errorf("%w: %s is not updatable", ErrInvalidInput, u.Column)
		}
		v, err := t.value(u)
		if err != nil {
			return nil, err
		}
		rec[u.Column] = v
	}
	return rec, nil
}

func (d *Database) updateWhere(ctx context.Context, t table, conds, updates []Assignment) (int64, error) {
	rec, err := t.record(updates)
	if err != nil {
		return 0, err
	}
	where, err := t.conditions(conds)
	if err != nil {
		return 0, err
	}
	query, args, err := d.dialect.Update(t.name).Set(rec).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	return d.execAffected(ctx, "update "+t.name, query, args)
}

func (d *Database) deleteWhere(ctx context.Context, t table, conds []Assignment) (int64, error) {
	where, err := t.conditions(conds)
	if err != nil {
		return 0, err
	}
	query, args, err := d.dialect.Delete(t.name).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	return d.execAffected(ctx, "delete "+t.name, query, args)
}

func (d *Database) execAffected(ctx context.Context, operation, query string, args []any) (int64, error) {
	start := time.Now()
	res, err := d.db.ExecContext(ctx, query, args...)
	d.logQuery(query, start)
	if err != nil {
		return 0, d.fail(operation, storeErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, d.fail(operation, storeErr(err))
	}
	d.log.Info().Str(logAttrOperation, operation).Int64(logAttrRows, n).Msg("records affected")
	return n, nil
}

// ------------------ Books ------------------

// AddBook inserts a catalog record together with its CopySet holding copies
// on-shelf copies.
func (d *Database) AddBook(ctx context.Context, b *Book, copies int) (int64, error) {
	switch {
	case strings.TrimSpace(b.ISBN) == "":
		return 0, fmt.Errorf("%w: ISBN is required", ErrInvalidInput)
	case strings.TrimSpace(b.Name) == "":
		return 0, fmt.Errorf("%w: book name is required", ErrInvalidInput)
	case strings.TrimSpace(b.Author) == "":
		return 0, fmt.Errorf("%w: author is required", ErrInvalidInput)
	case copies < 0:
		return 0, fmt.Errorf("%w: number of copies must be >= 0", ErrInvalidInput)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, d.fail("add book", storeErr(err))
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO books(isbn, name, author, publication, genre, language, description, publication_year, pages, book_type)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING book_id`)
	var id int64
	err = tx.QueryRowxContext(ctx, query,
		b.ISBN, b.Name, b.Author, b.Publication, b.Genre, b.Language, b.Description, b.PublicationYear, b.Pages, b.Type,
	).Scan(&id)
	if err != nil {
		return 0, d.fail("add book", storeErr(err))
	}

	query = tx.Rebind(`INSERT INTO copies(book_id, availability, current_copies, total_copies) VALUES(?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, id, copies > 0, copies, copies); err != nil {
		return 0, d.fail("add copies", storeErr(err))
	}
	if err := tx.Commit(); err != nil {
		return 0, d.fail("add book", storeErr(err))
	}

	b.ID = id
	d.log.Info().Int64(logAttrBookID, id).Str("isbn", b.ISBN).Int("copies", copies).Msg("book added")
	return id, nil
}

const selectBookListing = `SELECT b.book_id, b.isbn, b.name, b.author, b.publication, b.genre, b.language,
		b.description, b.publication_year, b.pages, b.book_type,
		COALESCE(c.current_copies, 0) AS current_copies,
		COALESCE(c.total_copies, 0) AS total_copies,
		COALESCE(c.availability, FALSE) AS availability
	FROM books b
	LEFT JOIN copies c ON c.book_id = b.book_id`

// GetBook fetches a single book with its copy counts.
func (d *Database) GetBook(ctx context.Context, id int64) (*BookListing, error) {
	var b BookListing
	err := d.db.GetContext(ctx, &b, d.db.Rebind(selectBookListing+` WHERE b.book_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrBookNotFound)
	}
	if err != nil {
		return nil, d.fail("get book", storeErr(err))
	}
	return &b, nil
}

// ListBooks returns the catalog ordered by id.
func (d *Database) ListBooks(ctx context.Context) ([]*BookListing, error) {
	var books []*BookListing
	if err := d.db.SelectContext(ctx, &books, selectBookListing+` ORDER BY b.book_id`); err != nil {
		return nil, d.fail("list books", storeErr(err))
	}
	return books, nil
}

// UpdateBooks sets updates on every book matching all conds and reports how
// many rows changed. Zero rows is not an error.
func (d *Database) UpdateBooks(ctx context.Context, conds, updates []Assignment) (int64, error) {
	return d.updateWhere(ctx, booksTable, conds, updates)
}

// DeleteBooks removes every book matching all conds. Their CopySets go with
// them; a book with copies still out on loan cannot be removed.
func (d *Database) DeleteBooks(ctx context.Context, conds []Assignment) (int64, error) {
	return d.deleteWhere(ctx, booksTable, conds)
}

// ------------------ Members ------------------

// DefaultBorrowLimit applies when a member is registered without one.
const DefaultBorrowLimit = 5

// RegisterMember inserts a member. A zero start date means today.
func (d *Database) RegisterMember(ctx context.Context, m *Member) (int64, error) {
	if strings.TrimSpace(m.Name) == "" {
		return 0, fmt.Errorf("%w: member name is required", ErrInvalidInput)
	}
	if m.MembershipStartDate.IsZero() {
		m.MembershipStartDate = civilDate(d.now())
	}
	if m.BorrowLimit == 0 {
		m.BorrowLimit = DefaultBorrowLimit
	}

	query := d.db.Rebind(`INSERT INTO members(name, mobile_no, email_address, subscription, membership_start_date, membership_end_date, borrow_limit)
		VALUES(?, ?, ?, ?, ?, ?, ?) RETURNING member_id`)
	var id int64
	err := d.db.QueryRowxContext(ctx, query,
		m.Name, m.MobileNo, m.Email, m.Subscription, m.MembershipStartDate, m.MembershipEndDate, m.BorrowLimit,
	).Scan(&id)
	if err != nil {
		return 0, d.fail("register member", storeErr(err))
	}
	m.ID = id
	d.log.Info().Int64(logAttrMemberID, id).Msg("member added")
	return id, nil
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	var m Member
	err := d.db.GetContext(ctx, &m, d.db.Rebind(`SELECT member_id, name, mobile_no, email_address, subscription,
		membership_start_date, membership_end_date, borrow_limit FROM members WHERE member_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %d: %w", id, ErrMemberNotFound)
	}
	if err != nil {
		return nil, d.fail("get member", storeErr(err))
	}
	return &m, nil
}

// ListMembers returns all members.
func (d *Database) ListMembers(ctx context.Context) ([]*Member, error) {
	var members []*Member
	err := d.db.SelectContext(ctx, &members, `SELECT member_id, name, mobile_no, email_address, subscription,
		membership_start_date, membership_end_date, borrow_limit FROM members ORDER BY member_id`)
	if err != nil {
		return nil, d.fail("list members", storeErr(err))
	}
	return members, nil
}

// UpdateMembers sets updates on every member matching all conds.
func (d *Database) UpdateMembers(ctx context.Context, conds, updates []Assignment) (int64, error) {
	return d.updateWhere(ctx, membersTable, conds, updates)
}

// DeleteMember removes a member. Members with books still issued are kept,
// so no issue record is ever left pointing at a missing member.
func (d *Database) DeleteMember(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return d.fail("delete member", storeErr(err))
	}
	defer tx.Rollback()

	var open int
	query := tx.Rebind(`SELECT COUNT(*) FROM book_issues WHERE member_id = ? AND actual_return_date IS NULL`)
	if err := tx.GetContext(ctx, &open, query, id); err != nil {
		return d.fail("delete member", storeErr(err))
	}
	if open > 0 {
		d.log.Warn().Int64(logAttrMemberID, id).Int("open_loans", open).Msg(logMsgRejected)
		return fmt.Errorf("member %d has %d open loan(s): %w", id, open, ErrMemberHasOpenLoans)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM members WHERE member_id = ?`), id)
	if err != nil {
		return d.fail("delete member", storeErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return d.fail("delete member", storeErr(err))
	}
	if n == 0 {
		return fmt.Errorf("member %d: %w", id, ErrMemberNotFound)
	}
	if err := tx.Commit(); err != nil {
		return d.fail("delete member", storeErr(err))
	}
	d.log.Info().Int64(logAttrMemberID, id).Msg("member deleted")
	return nil
}
