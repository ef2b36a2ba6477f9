package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopySetStaysWithinBounds(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	bookID := addBook(t, db, "9780000000001", 2)

	require.NoError(t, db.DecrementCopy(ctx, bookID))
	require.NoError(t, db.DecrementCopy(ctx, bookID))

	cs := copiesOf(t, db, bookID)
	assert.Equal(t, 0, cs.Current)
	assert.False(t, cs.Available)

	err := db.DecrementCopy(ctx, bookID)
	require.ErrorIs(t, err, ErrConstraintViolation)
	assert.Equal(t, 0, copiesOf(t, db, bookID).Current, "rejected decrement must not change the count")

	require.NoError(t, db.IncrementCopy(ctx, bookID))
	cs = copiesOf(t, db, bookID)
	assert.Equal(t, 1, cs.Current)
	assert.True(t, cs.Available)

	require.NoError(t, db.IncrementCopy(ctx, bookID))
	err = db.IncrementCopy(ctx, bookID)
	require.ErrorIs(t, err, ErrConstraintViolation)

	cs = copiesOf(t, db, bookID)
	assert.Equal(t, 2, cs.Current)
	assert.Equal(t, 2, cs.Total)
	assert.Equal(t, 0, cs.Borrowed())
}

func TestIsAvailable(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	stocked := addBook(t, db, "9780000000002", 1)
	empty := addBook(t, db, "9780000000003", 0)

	ok, err := db.IsAvailable(ctx, stocked)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.IsAvailable(ctx, empty)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.IsAvailable(ctx, 999)
	require.NoError(t, err, "missing book is unavailable, not an error")
	assert.False(t, ok)
}

func TestAdjustMissingBook(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	require.ErrorIs(t, db.DecrementCopy(ctx, 42), ErrBookNotFound)
	require.ErrorIs(t, db.IncrementCopy(ctx, 42), ErrBookNotFound)

	_, err := db.GetCopySet(ctx, 42)
	require.ErrorIs(t, err, ErrBookNotFound)
}
