package library

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// LibraryManager is a thin façade over the Database, keeping CLI code simple.
type LibraryManager struct {
	db *Database
}

// NewLibraryManager opens (or creates) the store.
func NewLibraryManager(driver, dsn string, options ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(driver, dsn, options...)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{db: db}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, b *Book, copies int) (int64, error) {
	return lm.db.AddBook(ctx, b, copies)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*BookListing, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context) ([]*BookListing, error) {
	return lm.db.ListBooks(ctx)
}

func (lm *LibraryManager) UpdateBooks(ctx context.Context, conds, updates []Assignment) (int64, error) {
	return lm.db.UpdateBooks(ctx, conds, updates)
}

func (lm *LibraryManager) RemoveBooks(ctx context.Context, conds []Assignment) (int64, error) {
	return lm.db.DeleteBooks(ctx, conds)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) RegisterMember(ctx context.Context, m *Member) (int64, error) {
	return lm.db.RegisterMember(ctx, m)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.db.GetMember(ctx, id)
}

func (lm *LibraryManager) ListMembers(ctx context.Context) ([]*Member, error) {
	return lm.db.ListMembers(ctx)
}

func (lm *LibraryManager) UpdateMembers(ctx context.Context, conds, updates []Assignment) (int64, error) {
	return lm.db.UpdateMembers(ctx, conds, updates)
}

func (lm *LibraryManager) DeleteMember(ctx context.Context, id int64) error {
	return lm.db.DeleteMember(ctx, id)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) IssueBook(ctx context.Context, bookID, memberID int64) (*IssueRecord, error) {
	return lm.db.IssueBook(ctx, bookID, memberID)
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, bookID, memberID int64) (*ReturnReceipt, error) {
	return lm.db.ReturnBook(ctx, bookID, memberID)
}

func (lm *LibraryManager) ListOpenLoans(ctx context.Context) ([]*LoanListing, error) {
	return lm.db.ListOpenLoans(ctx)
}

func (lm *LibraryManager) Stats(ctx context.Context) (*Stats, error) { return lm.db.Stats(ctx) }

// ------------------ Accounts ------------------

func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (bool, error) {
	return lm.db.Authenticate(ctx, username, password)
}

func (lm *LibraryManager) AddLibrarian(ctx context.Context, authUser, authPass string, l *Librarian, password string) (int64, error) {
	return lm.db.AddLibrarian(ctx, authUser, authPass, l, password)
}

// NeedsBootstrap reports whether no account exists yet.
func (lm *LibraryManager) NeedsBootstrap(ctx context.Context) (bool, error) {
	n, err := lm.db.CountLibrarians(ctx)
	return n == 0, err
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *BookListing) string {
	return fmt.Sprintf("%-5d %-14s %-30s %-22s %3d/%-3d %-5t",
		b.ID, b.ISBN, truncate(b.Name, 30), truncate(b.Author, 22), b.Current, b.Total, b.Available)
}

// PrettyLoan formats an open loan for lists, with the due date relative to now.
func PrettyLoan(l *LoanListing, now time.Time) string {
	due := humanize.RelTime(l.DueDate, now, "ago", "from now")
	if days := DaysOverdue(l.DueDate, now); days > 0 {
		due = fmt.Sprintf("OVERDUE %d day(s), due %s", days, due)
	}
	return fmt.Sprintf("%-5d %-30s %-22s %-12s %s",
		l.ID, truncate(l.BookName, 30), truncate(l.MemberName, 22), l.IssueDate.Format("2006-01-02"), due)
}

// truncate cuts s to maxLength runes, marking the cut with "...".
func truncate(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(r[:maxLength])
	}
	return string(r[:maxLength-3]) + "..."
}
