package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func TestIssueAndReturnRoundTrip(t *testing.T) {
	clock := newTestClock(testEpoch)
	db := tempDB(t, WithClock(clock.Now))
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000010", 3)
	memberID := addMember(t, db, "Alice")

	rec, err := db.IssueBook(ctx, bookID, memberID)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.True(t, rec.IssueDate.Equal(testEpoch))
	assert.True(t, rec.DueDate.Equal(testEpoch.Add(LoanPeriod)))
	assert.Equal(t, 2, copiesOf(t, db, bookID).Current)

	loans, err := db.ListOpenLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "Alice", loans[0].MemberName)
	assert.Equal(t, "Book 9780000000010", loans[0].BookName)

	clock.Advance(3 * 24 * time.Hour)
	receipt, err := db.ReturnBook(ctx, bookID, memberID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, receipt.IssueID)
	assert.False(t, receipt.Overdue())
	assert.Zero(t, receipt.Fine)

	cs := copiesOf(t, db, bookID)
	assert.Equal(t, 3, cs.Current)
	assert.True(t, cs.Available)

	n, err := db.CountOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIssueLastCopy(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000011", 1)
	alice := addMember(t, db, "Alice")
	bob := addMember(t, db, "Bob")

	_, err := db.IssueBook(ctx, bookID, alice)
	require.NoError(t, err)

	cs := copiesOf(t, db, bookID)
	assert.Equal(t, 0, cs.Current)
	assert.False(t, cs.Available)

	_, err = db.IssueBook(ctx, bookID, bob)
	require.ErrorIs(t, err, ErrBookUnavailable)

	cs = copiesOf(t, db, bookID)
	assert.Equal(t, 0, cs.Current, "failed issue must not touch the copy count")
	n, err := db.CountOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed issue must not write an issue record")
}

func TestIssueRejectsUnknownMemberAndBook(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000012", 2)
	memberID := addMember(t, db, "Alice")

	_, err := db.IssueBook(ctx, bookID, 999)
	require.ErrorIs(t, err, ErrMemberNotFound)
	assert.Equal(t, 2, copiesOf(t, db, bookID).Current)

	_, err = db.IssueBook(ctx, 999, memberID)
	require.ErrorIs(t, err, ErrBookUnavailable)

	loans, err := db.ListOpenLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestReturnWithoutOpenLoan(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000013", 2)
	alice := addMember(t, db, "Alice")
	bob := addMember(t, db, "Bob")

	_, err := db.ReturnBook(ctx, bookID, alice)
	require.ErrorIs(t, err, ErrNoOpenLoan)
	assert.Equal(t, 2, copiesOf(t, db, bookID).Current)

	_, err = db.IssueBook(ctx, bookID, alice)
	require.NoError(t, err)

	// Bob never borrowed it.
	_, err = db.ReturnBook(ctx, bookID, bob)
	require.ErrorIs(t, err, ErrNoOpenLoan)
	assert.Equal(t, 1, copiesOf(t, db, bookID).Current)

	_, err = db.ReturnBook(ctx, bookID, alice)
	require.NoError(t, err)
	_, err = db.ReturnBook(ctx, bookID, alice)
	require.ErrorIs(t, err, ErrNoOpenLoan, "a loan can only be closed once")
}

func TestReturnOverdueReportsFine(t *testing.T) {
	clock := newTestClock(testEpoch)
	db := tempDB(t, WithClock(clock.Now), WithFinePerDay(0.5))
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000014", 1)
	memberID := addMember(t, db, "Alice")

	_, err := db.IssueBook(ctx, bookID, memberID)
	require.NoError(t, err)

	clock.Advance(20 * 24 * time.Hour)
	receipt, err := db.ReturnBook(ctx, bookID, memberID)
	require.NoError(t, err)
	assert.True(t, receipt.Overdue())
	assert.Equal(t, 6, receipt.DaysOverdue)
	assert.InDelta(t, 3.0, receipt.Fine, 1e-9)
	assert.Equal(t, 1, copiesOf(t, db, bookID).Current)
}

func TestReturnClosesOldestLoanFirst(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000015", 2)
	memberID := addMember(t, db, "Alice")

	first, err := db.IssueBook(ctx, bookID, memberID)
	require.NoError(t, err)
	second, err := db.IssueBook(ctx, bookID, memberID)
	require.NoError(t, err)

	receipt, err := db.ReturnBook(ctx, bookID, memberID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, receipt.IssueID)

	receipt, err = db.ReturnBook(ctx, bookID, memberID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, receipt.IssueID)
}

func TestOpenLoansMatchBorrowedCopies(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000016", 3)
	members := []int64{addMember(t, db, "A"), addMember(t, db, "B"), addMember(t, db, "C"), addMember(t, db, "D")}

	check := func() {
		t.Helper()
		cs := copiesOf(t, db, bookID)
		n, err := db.CountOpenLoans(ctx, bookID)
		require.NoError(t, err)
		assert.Equal(t, n, cs.Borrowed(), "borrowed copies must equal open loans")
		assert.Equal(t, cs.Current > 0, cs.Available)
	}

	steps := []struct {
		issue  bool
		member int64
	}{
		{true, members[0]}, {true, members[1]}, {false, members[0]}, {true, members[2]},
		{true, members[3]}, {true, members[0]}, {false, members[1]}, {false, members[3]},
		{false, members[3]}, {true, members[1]},
	}
	for _, s := range steps {
		if s.issue {
			_, err := db.IssueBook(ctx, bookID, s.member)
			if err != nil {
				require.ErrorIs(t, err, ErrBookUnavailable)
			}
		} else {
			_, err := db.ReturnBook(ctx, bookID, s.member)
			if err != nil {
				require.ErrorIs(t, err, ErrNoOpenLoan)
			}
		}
		check()
	}
}

func TestConcurrentIssueOfLastCopy(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000017", 1)
	const workers = 8
	members := make([]int64, workers)
	for i := range members {
		members[i] = addMember(t, db, "member")
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		issued      int
		unavailable int
	)
	for _, m := range members {
		wg.Add(1)
		go func(memberID int64) {
			defer wg.Done()
			_, err := db.IssueBook(ctx, bookID, memberID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				issued++
			case errors.Is(err, ErrBookUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(m)
	}
	wg.Wait()

	assert.Equal(t, 1, issued)
	assert.Equal(t, workers-1, unavailable)

	cs := copiesOf(t, db, bookID)
	assert.Equal(t, 0, cs.Current)
	n, err := db.CountOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2026, time.March, 16, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"before due", due.Add(-48 * time.Hour), 0},
		{"same day later", due.Add(8 * time.Hour), 0},
		{"next morning", time.Date(2026, time.March, 17, 1, 0, 0, 0, time.UTC), 1},
		{"ten days", due.Add(10 * 24 * time.Hour), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysOverdue(due, tt.at))
		})
	}
}

// failCopyUpdates makes every write to copies abort, so the second step of
// an issue or return fails after the first has run.
func failCopyUpdates(t *testing.T, db *Database) {
	t.Helper()
	_, err := db.db.Exec(`CREATE TRIGGER fail_copy_update BEFORE UPDATE ON copies
		BEGIN SELECT RAISE(ABORT, 'copy update failed'); END;`)
	require.NoError(t, err, "create trigger")
}

func TestIssueRollsBackWhenCopyUpdateFails(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000018", 2)
	memberID := addMember(t, db, "Alice")
	failCopyUpdates(t, db)

	_, err := db.IssueBook(ctx, bookID, memberID)
	require.ErrorIs(t, err, ErrConstraintViolation)

	n, err := db.CountOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.Zero(t, n, "issue record must be rolled back with the failed decrement")
	assert.Equal(t, 2, copiesOf(t, db, bookID).Current)
}

func TestReturnRollsBackWhenCopyUpdateFails(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000019", 2)
	memberID := addMember(t, db, "Alice")
	_, err := db.IssueBook(ctx, bookID, memberID)
	require.NoError(t, err)
	failCopyUpdates(t, db)

	_, err = db.ReturnBook(ctx, bookID, memberID)
	require.ErrorIs(t, err, ErrConstraintViolation)

	n, err := db.CountOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "issue record must survive the failed increment")
	assert.Equal(t, 1, copiesOf(t, db, bookID).Current)
}

func TestReturnOfLoanClosedConcurrently(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	bookID := addBook(t, db, "9780000000020", 2)
	alice := addMember(t, db, "Alice")
	bob := addMember(t, db, "Bob")
	_, err := db.IssueBook(ctx, bookID, alice)
	require.NoError(t, err)
	_, err = db.IssueBook(ctx, bookID, bob)
	require.NoError(t, err)

	// The row is found but the delete removes nothing, as when another
	// session closed the same loan between lookup and delete.
	_, err = db.db.Exec(`CREATE TRIGGER skip_issue_delete BEFORE DELETE ON book_issues
		BEGIN SELECT RAISE(IGNORE); END;`)
	require.NoError(t, err, "create trigger")

	_, err = db.ReturnBook(ctx, bookID, alice)
	require.ErrorIs(t, err, ErrNoOpenLoan)

	cs := copiesOf(t, db, bookID)
	assert.Equal(t, 0, cs.Current, "copy must not go back on the shelf twice")
	n, err := db.CountOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, n, cs.Borrowed())
}
