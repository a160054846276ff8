package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLoanMarksCopyLoaned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")
	copyID := f.availableCopy(t, bookID)

	loanID, err := f.lm.CreateLoan(ctx, f.manager, LoanRequest{
		CustomerID: f.client.ID,
		CopyID:     copyID,
		DueDate:    fixedNow.AddDate(0, 0, 14),
	})
	require.NoError(t, err)

	loans, err := f.lm.ListLoans(ctx, LoanFilter{UserID: f.client.ID})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	l := loans[0]
	assert.Equal(t, loanID, l.ID)
	assert.Equal(t, copyID, l.CopyID)
	assert.Equal(t, bookID, l.BookID)
	assert.Equal(t, "Dune", l.BookTitle)
	require.NotNil(t, l.StaffID)
	assert.Equal(t, f.manager.ID, *l.StaffID)
	assert.True(t, l.Active())
	assert.True(t, dateOf(fixedNow.AddDate(0, 0, 14)).Equal(l.DueDate))
	assert.True(t, fixedNow.Equal(l.BorrowedAt))

	// The same copy cannot be lent twice.
	_, err = f.lm.CreateLoan(ctx, f.manager, LoanRequest{
		CustomerID: f.client.ID,
		CopyID:     copyID,
		DueDate:    fixedNow.AddDate(0, 0, 14),
	})
	require.ErrorIs(t, err, ErrCopyUnavailable)

	b, err := f.lm.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)
}

func TestCreateLoanValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")
	copyID := f.availableCopy(t, bookID)

	_, err := f.lm.CreateLoan(ctx, f.manager, LoanRequest{})
	assert.Equal(t, []string{"copy_id", "customer_id", "due_date"}, fieldKeys(t, err))

	_, err = f.lm.CreateLoan(ctx, f.manager, LoanRequest{
		CustomerID: f.client.ID, CopyID: copyID, DueDate: fixedNow.AddDate(0, 0, -1),
	})
	assert.Equal(t, []string{"due_date"}, fieldKeys(t, err))

	// Due today is allowed.
	_, err = f.lm.CreateLoan(ctx, f.manager, LoanRequest{
		CustomerID: f.client.ID, CopyID: copyID, DueDate: dateOf(fixedNow),
	})
	require.NoError(t, err)

	_, err = f.lm.CreateLoan(ctx, f.manager, LoanRequest{
		CustomerID: 999, CopyID: copyID, DueDate: fixedNow,
	})
	require.ErrorIs(t, err, ErrNotFound)

	// Staff accounts are not customers.
	spare := f.availableCopy(t, bookID)
	for _, staff := range []*User{f.admin, f.manager} {
		_, err = f.lm.CreateLoan(ctx, f.manager, LoanRequest{
			CustomerID: staff.ID, CopyID: spare, DueDate: fixedNow,
		})
		assert.Equal(t, []string{"customer_id"}, fieldKeys(t, err), "customer %s", staff.Username)
	}
	b, err := f.lm.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	_, err = f.lm.CreateLoan(ctx, f.manager, LoanRequest{
		CustomerID: f.client.ID, CopyID: 999, DueDate: fixedNow,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReturnLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")
	loanID := f.lend(t, bookID, f.client.ID, 7)

	f.clock.advanceDays(3)
	require.NoError(t, f.lm.ReturnLoan(ctx, f.manager, loanID))

	loans, err := f.lm.ListLoans(ctx, LoanFilter{})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.NotNil(t, loans[0].ReturnedAt)
	assert.True(t, f.clock.now.Equal(*loans[0].ReturnedAt))
	assert.False(t, loans[0].Active())

	active, err := f.lm.ListLoans(ctx, LoanFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	b, err := f.lm.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.AvailableCopies)

	err = f.lm.ReturnLoan(ctx, f.manager, loanID)
	require.ErrorIs(t, err, ErrLoanNotActive)
	err = f.lm.ReturnLoan(ctx, f.manager, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoanOverdue(t *testing.T) {
	due := dateOf(fixedNow)
	l := Loan{DueDate: due}
	assert.False(t, l.Overdue(fixedNow), "due today is not overdue")
	assert.True(t, l.Overdue(fixedNow.AddDate(0, 0, 1)))

	returned := fixedNow
	l.ReturnedAt = &returned
	assert.False(t, l.Overdue(fixedNow.AddDate(0, 0, 5)), "returned loans are never overdue")
}

func TestReserveBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")

	a, err := f.lm.Availability(ctx, f.client.ID, bookID)
	require.NoError(t, err)
	assert.Equal(t, Availability{AvailableCopies: 2, CanBorrow: true, CanReserve: true}, a)

	resID, err := f.lm.ReserveBook(ctx, f.client, bookID)
	require.NoError(t, err)

	_, err = f.lm.ReserveBook(ctx, f.client, bookID)
	require.ErrorIs(t, err, ErrDuplicateReservation)

	a, err = f.lm.Availability(ctx, f.client.ID, bookID)
	require.NoError(t, err)
	assert.True(t, a.HasActiveReservation)
	assert.False(t, a.CanReserve)

	res, err := f.lm.ListReservations(ctx, ReservationFilter{UserID: f.client.ID, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, resID, res[0].ID)
	assert.Equal(t, ReservationPending, res[0].Status)
	assert.Equal(t, "Dune", res[0].BookTitle)
	assert.Equal(t, "client", res[0].Username)
	assert.True(t, fixedNow.Equal(res[0].CreatedAt))

	// After cancelling, the book can be reserved again.
	require.NoError(t, f.lm.CancelReservation(ctx, f.client, resID))
	_, err = f.lm.ReserveBook(ctx, f.client, bookID)
	require.NoError(t, err)

	_, err = f.lm.ReserveBook(ctx, f.client, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAvailabilityWithoutShelfCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")
	f.lend(t, bookID, f.client.ID, 7)
	f.lend(t, bookID, f.client.ID, 7)

	a, err := f.lm.Availability(ctx, f.client.ID, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.AvailableCopies)
	assert.False(t, a.CanBorrow)
	assert.True(t, a.CanReserve)
}

func TestReservationWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")
	resID, err := f.lm.ReserveBook(ctx, f.client, bookID)
	require.NoError(t, err)

	_, err = f.lm.AdvanceReservation(ctx, f.client, resID)
	require.ErrorIs(t, err, ErrForbidden, "clients cannot move their reservation forward")

	next, err := f.lm.AdvanceReservation(ctx, f.manager, resID)
	require.NoError(t, err)
	assert.Equal(t, ReservationReady, next)

	next, err = f.lm.AdvanceReservation(ctx, f.manager, resID)
	require.NoError(t, err)
	assert.Equal(t, ReservationCompleted, next)

	_, err = f.lm.AdvanceReservation(ctx, f.manager, resID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	err = f.lm.CancelReservation(ctx, f.manager, resID)
	require.ErrorIs(t, err, ErrInvalidTransition, "completed is terminal")

	// A completed reservation no longer blocks a new one.
	second, err := f.lm.ReserveBook(ctx, f.client, bookID)
	require.NoError(t, err)
	require.NoError(t, f.lm.CancelReservation(ctx, f.manager, second))
	err = f.lm.SetReservationStatus(ctx, f.manager, second, ReservationPending)
	require.ErrorIs(t, err, ErrInvalidTransition, "cancelled is terminal")

	all, err := f.lm.ListReservations(ctx, ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	active, err := f.lm.ListReservations(ctx, ReservationFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestClientCannotCancelSomeoneElsesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookID := f.addBook(t, "Dune", "9780441172719")

	otherID, err := f.lm.RegisterCustomer(ctx, f.manager, CustomerForm{
		Username: "reader", Password: "pw", FirstName: "Ann", LastName: "Lee", Email: "ann@gmail.com",
	})
	require.NoError(t, err)
	other, err := f.lm.GetUser(ctx, otherID)
	require.NoError(t, err)

	resID, err := f.lm.ReserveBook(ctx, other, bookID)
	require.NoError(t, err)

	err = f.lm.CancelReservation(ctx, f.client, resID)
	require.ErrorIs(t, err, ErrForbidden)
	require.NoError(t, f.lm.CancelReservation(ctx, other, resID))
}

func TestReservationStatusTransitions(t *testing.T) {
	allowed := map[ReservationStatus][]ReservationStatus{
		ReservationPending: {ReservationReady, ReservationCancelled},
		ReservationReady:   {ReservationCompleted, ReservationCancelled},
	}
	all := []ReservationStatus{ReservationPending, ReservationReady, ReservationCompleted, ReservationCancelled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				want = want || a == to
			}
			assert.Equal(t, want, from.CanBecome(to), "%s -> %s", from, to)
		}
	}
}
