package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.lm.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{TotalUsers: 3}, *s)

	dune := f.addBook(t, "Dune", "9780441172719")
	f.addBook(t, "Children of Dune", "9780441104024")
	f.lend(t, dune, f.client.ID, 0)
	f.lend(t, dune, f.client.ID, 5)

	s, err = f.lm.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{
		TotalBooks:       2,
		TotalUsers:       3,
		ActiveLoans:      2,
		TotalCopies:      4,
		AvailableCopies:  2,
		CheckedOutCopies: 2,
	}, *s)

	f.clock.advanceDays(1)
	s, err = f.lm.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.OverdueLoans)

	f.clock.advanceDays(10)
	s, err = f.lm.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.OverdueLoans)
}

func TestMaxOverdueDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	days, err := f.lm.MaxOverdueDays(ctx)
	require.NoError(t, err)
	assert.Zero(t, days)

	dune := f.addBook(t, "Dune", "9780441172719")
	first := f.lend(t, dune, f.client.ID, 2)
	f.lend(t, dune, f.client.ID, 6)

	f.clock.advanceDays(2)
	days, err = f.lm.MaxOverdueDays(ctx)
	require.NoError(t, err)
	assert.Zero(t, days, "due today is not overdue")

	f.clock.advanceDays(7)
	days, err = f.lm.MaxOverdueDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, days)

	require.NoError(t, f.lm.ReturnLoan(ctx, f.manager, first))
	days, err = f.lm.MaxOverdueDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, days)
}

func TestTopBorrowedBooksAndBorrowers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dune := f.addBook(t, "Dune", "9780441172719")
	messiah := f.addBook(t, "Dune Messiah", "9780441172696")
	children := f.addBook(t, "Children of Dune", "9780441104024")

	l := f.lend(t, dune, f.client.ID, 7)
	require.NoError(t, f.lm.ReturnLoan(ctx, f.manager, l))
	mia := f.customer(t, "mia", "Mia", "Moss")
	abe := f.customer(t, "abe", "Abe", "Ash")
	f.lend(t, dune, f.client.ID, 7)
	f.lend(t, dune, mia, 7)
	f.lend(t, messiah, mia, 7)
	f.lend(t, children, abe, 7)

	books, err := f.lm.TopBorrowedBooks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []TopBook{
		{BookID: dune, Title: "Dune", Times: 3},
		{BookID: children, Title: "Children of Dune", Times: 1},
		{BookID: messiah, Title: "Dune Messiah", Times: 1},
	}, books)

	books, err = f.lm.TopBorrowedBooks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, dune, books[0].BookID)

	borrowers, err := f.lm.TopActiveBorrowers(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, []TopBorrower{
		{UserID: f.client.ID, Name: "Client User", Loans: 2},
		{UserID: mia, Name: "Mia Moss", Loans: 2},
		{UserID: abe, Name: "Abe Ash", Loans: 1},
	}, borrowers)
}

func TestTopBorrowerFallsBackToUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.lm.CreateStaffUser(ctx, f.admin, UserForm{Username: "anon", Password: "pw", Role: "CLIENT"})
	require.NoError(t, err)
	dune := f.addBook(t, "Dune", "9780441172719")
	f.lend(t, dune, id, 7)

	borrowers, err := f.lm.TopActiveBorrowers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, borrowers, 1)
	assert.Equal(t, "anon", borrowers[0].Name)
}

func TestRecentActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBook(t, "Dune", "9780441172719")

	entries, err := f.lm.RecentActivity(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, ActionAddBook, entries[0].Action)
	assert.Equal(t, "admin", entries[0].Who)
	assert.True(t, fixedNow.Equal(entries[0].When))

	f.lm.LogActivity(ctx, "", "Imported", "42 books")
	entries, err = f.lm.RecentActivity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Imported", entries[0].Action)
}
