package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T, options ...Option) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(DriverSQLite, filepath.Join(dir, "test.db"), options...)
	require.NoError(t, err, "new db")
	t.Cleanup(func() { db.Close() })
	return db
}

// testClock is a settable clock for due date arithmetic.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func addBook(t *testing.T, db *Database, isbn string, copies int) int64 {
	t.Helper()
	id, err := db.AddBook(context.Background(), &Book{ISBN: isbn, Name: "Book " + isbn, Author: "Author"}, copies)
	require.NoError(t, err, "add book")
	return id
}

func addMember(t *testing.T, db *Database, name string) int64 {
	t.Helper()
	id, err := db.RegisterMember(context.Background(), &Member{Name: name})
	require.NoError(t, err, "register member")
	return id
}

func copiesOf(t *testing.T, db *Database, bookID int64) *CopySet {
	t.Helper()
	cs, err := db.GetCopySet(context.Background(), bookID)
	require.NoError(t, err, "get copy set")
	return cs
}
