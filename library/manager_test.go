package library

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCirculation(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewLibraryManager(DriverSQLite, filepath.Join(t.TempDir(), "nested", "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	fresh, err := mgr.NeedsBootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, fresh)

	bookID, err := mgr.AddBook(ctx, &Book{ISBN: "9780000000300", Name: "Dune", Author: "Frank Herbert"}, 1)
	require.NoError(t, err)
	memberID, err := mgr.RegisterMember(ctx, &Member{Name: "Paul"})
	require.NoError(t, err)

	_, err = mgr.IssueBook(ctx, bookID, memberID)
	require.NoError(t, err)
	loans, err := mgr.ListOpenLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 1)

	_, err = mgr.ReturnBook(ctx, bookID, memberID)
	require.NoError(t, err)

	n, err := mgr.RemoveBooks(ctx, []Assignment{{"name", "Dune"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestNewLibraryManagerRejectsBadOptions(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "lib.db")

	_, err := NewLibraryManager("oracle", dsn)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewLibraryManager(DriverSQLite, dsn, WithFinePerDay(-1))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewLibraryManager(DriverSQLite, dsn, WithClock(nil))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPrettyLoan(t *testing.T) {
	now := time.Date(2026, time.March, 20, 9, 0, 0, 0, time.UTC)
	loan := &LoanListing{
		IssueRecord: IssueRecord{
			ID:        7,
			IssueDate: now.Add(-17 * 24 * time.Hour),
			DueDate:   now.Add(-3 * 24 * time.Hour),
		},
		BookName:   "A Very Long Book Title That Will Not Fit The Column",
		MemberName: "Alice",
	}

	out := PrettyLoan(loan, now)
	assert.Contains(t, out, "OVERDUE 3 day(s)")
	assert.Contains(t, out, "ago")
	assert.Contains(t, out, "...")

	loan.DueDate = now.Add(5 * 24 * time.Hour)
	out = PrettyLoan(loan, now)
	assert.NotContains(t, out, "OVERDUE")
	assert.Contains(t, out, "from now")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	got := truncate(strings.Repeat("x", 40), 10)
	assert.Len(t, got, 10)
	assert.True(t, strings.HasSuffix(got, "..."))

	got = truncate("Les Misérables: Éponine", 14)
	assert.Equal(t, "Les Misérab...", got)
	assert.True(t, utf8.ValidString(truncate("東京物語東京物語", 5)))
	assert.Equal(t, "東京", truncate("東京物語", 2))
}
