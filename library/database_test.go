package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err, "new db")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsSeedRolesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "library.db")

	db, err := NewDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not duplicate roles or fail on existing tables.
	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	var roles []string
	require.NoError(t, db.db.Select(&roles, `SELECT name FROM roles ORDER BY roles_id`))
	assert.Equal(t, []string{"ADMIN", "MANAGER", "CLIENT"}, roles)

	var version string
	require.NoError(t, db.db.Get(&version, `SELECT value FROM meta WHERE key='schema_version'`))
	assert.Equal(t, "1", version)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestActiveReservationIndexRejectsDuplicates(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	userID, err := db.InsertUser(ctx, User{Username: "reader", Role: RoleClient}, "x")
	require.NoError(t, err)
	pubID, err := db.AddPublisher(ctx, "Ace", nil)
	require.NoError(t, err)
	bookID, err := db.AddBook(ctx, BookForm{
		Title: "Dune", Summary: "Sand", ISBN: "9780441172719", Language: "English",
		PublisherID: pubID, Copies: 1,
		Authors: []Author{{FullName: "Frank Herbert"}}, Genres: []Genre{{Name: "Science Fiction"}},
	}, "", fixedNow)
	require.NoError(t, err)

	insert := `INSERT INTO reservations(user_id,book_id,created_at,status) VALUES(?,?,?,?)`
	_, err = exec(ctx, db.db, insert, userID, bookID, fixedNow, ReservationPending)
	require.NoError(t, err)
	_, err = exec(ctx, db.db, insert, userID, bookID, fixedNow, ReservationReady)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	// Finished reservations do not count.
	_, err = exec(ctx, db.db, insert, userID, bookID, fixedNow, ReservationCancelled)
	require.NoError(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := exec(ctx, tx, `INSERT INTO publishers(pub_name) VALUES(?)`, "Ghost Press")
		require.NoError(t, err)
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)

	pubs, err := db.ListPublishers(ctx)
	require.NoError(t, err)
	assert.Empty(t, pubs)
}
