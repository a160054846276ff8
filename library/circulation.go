package library

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// LoanRequest is what staff submit to issue a loan.
type LoanRequest struct {
	CustomerID int64     `json:"customer_id"`
	CopyID     int64     `json:"copy_id"`
	DueDate    time.Time `json:"due_date"`
}

// LoanFilter narrows ListLoans. A zero UserID lists everyone's loans.
type LoanFilter struct {
	UserID     int64
	ActiveOnly bool
}

// ReservationFilter narrows ListReservations.
type ReservationFilter struct {
	UserID     int64
	ActiveOnly bool
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

// CreateLoan flips the copy to LOANED and records the loan in one
// transaction. The copy update only matches an AVAILABLE copy, so two staff
// members cannot lend the same copy.
func (d *Database) CreateLoan(ctx context.Context, customerID int64, staffID *int64, copyID int64, borrowedAt, due time.Time) (int64, error) {
	var id int64
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		var role Role
		if err := get(ctx, tx, &role, `SELECT r.name FROM users u
			JOIN roles r ON r.roles_id = u.roles_id WHERE u.users_id=?`, customerID); err != nil {
			return notFound(err, fmt.Sprintf("customer %d", customerID))
		}
		if role != RoleClient {
			return fieldError("customer_id", "only clients can borrow books")
		}

		n, err := exec(ctx, tx, `UPDATE book_copies SET status=? WHERE copies_id=? AND status=?`,
			CopyLoaned, copyID, CopyAvailable)
		if err != nil {
			return fmt.Errorf("mark copy loaned: %w", err)
		}
		if n != 1 {
			ok, err := exists(ctx, tx, `SELECT 1 FROM book_copies WHERE copies_id=?`, copyID)
			if err != nil {
				return fmt.Errorf("check copy: %w", err)
			}
			if !ok {
				return fmt.Errorf("copy %d: %w", copyID, ErrNotFound)
			}
			return fmt.Errorf("copy %d: %w", copyID, ErrCopyUnavailable)
		}

		id, err = insertID(ctx, tx, `INSERT INTO loans(users_id,staff_id,copy_id,borrowed_at,due_date)
			VALUES(?,?,?,?,?) RETURNING loans_id`,
			customerID, staffID, copyID, borrowedAt.UTC(), dateOf(due))
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		return nil
	})
	return id, err
}

// ReturnLoan closes an active loan and puts its copy back on the shelf.
func (d *Database) ReturnLoan(ctx context.Context, loanID int64, returnedAt time.Time) (*Loan, error) {
	var loan Loan
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := get(ctx, tx, &loan, loanSelect+` WHERE l.loans_id=?`, loanID); err != nil {
			return notFound(err, fmt.Sprintf("loan %d", loanID))
		}
		if !loan.Active() {
			return fmt.Errorf("loan %d: %w", loanID, ErrLoanNotActive)
		}

		ts := returnedAt.UTC()
		if ts.Before(loan.BorrowedAt) {
			ts = loan.BorrowedAt
		}
		n, err := exec(ctx, tx, `UPDATE loans SET returned_at=? WHERE loans_id=? AND returned_at IS NULL`, ts, loanID)
		if err != nil {
			return fmt.Errorf("mark loan returned: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("loan %d: %w", loanID, ErrLoanNotActive)
		}
		if _, err := exec(ctx, tx, `UPDATE book_copies SET status=? WHERE copies_id=?`, CopyAvailable, loan.CopyID); err != nil {
			return fmt.Errorf("mark copy available: %w", err)
		}
		loan.ReturnedAt = &ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// loanSelect yields rows for the Loan struct.
const loanSelect = `SELECT l.loans_id, l.users_id, l.staff_id, l.copy_id, l.borrowed_at, l.due_date, l.returned_at,
	c.books_id, b.title
	FROM loans l
	JOIN book_copies c ON c.copies_id = l.copy_id
	JOIN books b ON b.books_id = c.books_id`

func (d *Database) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	ds := d.dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("book_copies").As("c"), goqu.On(goqu.I("c.copies_id").Eq(goqu.I("l.copy_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.books_id").Eq(goqu.I("c.books_id")))).
		Select(
			goqu.I("l.loans_id"), goqu.I("l.users_id"), goqu.I("l.staff_id"), goqu.I("l.copy_id"),
			goqu.I("l.borrowed_at"), goqu.I("l.due_date"), goqu.I("l.returned_at"),
			goqu.I("c.books_id"), goqu.I("b.title"),
		).
		Order(goqu.I("l.borrowed_at").Desc(), goqu.I("l.loans_id").Desc())
	if f.UserID > 0 {
		ds = ds.Where(goqu.I("l.users_id").Eq(f.UserID))
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.I("l.returned_at").IsNull())
	}

	query, args, err := selectSQL(ds)
	if err != nil {
		return nil, fmt.Errorf("build loan list: %w", err)
	}
	loans := []Loan{}
	if err := d.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// AvailableCopies lists every copy that can be lent right now.
func (d *Database) AvailableCopies(ctx context.Context) ([]Copy, error) {
	copies := []Copy{}
	err := list(ctx, d.db, &copies, `SELECT c.copies_id, c.books_id, c.status, c.acquired_at, b.title
		FROM book_copies c JOIN books b ON b.books_id = c.books_id
		WHERE c.status = ? ORDER BY b.title, c.copies_id`, CopyAvailable)
	if err != nil {
		return nil, fmt.Errorf("available copies: %w", err)
	}
	return copies, nil
}

// AvailableCopyCount counts AVAILABLE copies of one book.
func (d *Database) AvailableCopyCount(ctx context.Context, bookID int64) (int, error) {
	var n int
	if err := get(ctx, d.db, &n, `SELECT COUNT(*) FROM book_copies WHERE books_id=? AND status=?`,
		bookID, CopyAvailable); err != nil {
		return 0, fmt.Errorf("count available copies: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Reservations
// ---------------------------------------------------------------------------

const activeReservationQuery = `SELECT 1 FROM reservations
	WHERE user_id=? AND book_id=? AND status IN ('PENDING','READY')`

// ReserveBook records a PENDING reservation unless the user already holds an
// active one for the book.
func (d *Database) ReserveBook(ctx context.Context, userID, bookID int64, now time.Time) (int64, error) {
	var id int64
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM books WHERE books_id=?`, bookID)
		if err != nil {
			return fmt.Errorf("check book: %w", err)
		}
		if !ok {
			return fmt.Errorf("book %d: %w", bookID, ErrNotFound)
		}
		ok, err = exists(ctx, tx, `SELECT 1 FROM users WHERE users_id=?`, userID)
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if !ok {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		dup, err := exists(ctx, tx, activeReservationQuery, userID, bookID)
		if err != nil {
			return fmt.Errorf("check reservation: %w", err)
		}
		if dup {
			return ErrDuplicateReservation
		}

		id, err = insertID(ctx, tx, `INSERT INTO reservations(user_id,book_id,created_at,status)
			VALUES(?,?,?,?) RETURNING reservations_id`, userID, bookID, now.UTC(), ReservationPending)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateReservation
			}
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	return id, err
}

// HasActiveReservation reports whether the user holds a PENDING or READY
// reservation for the book.
func (d *Database) HasActiveReservation(ctx context.Context, userID, bookID int64) (bool, error) {
	ok, err := exists(ctx, d.db, activeReservationQuery, userID, bookID)
	if err != nil {
		return false, fmt.Errorf("check reservation: %w", err)
	}
	return ok, nil
}

func (d *Database) reservationDataset() *goqu.SelectDataset {
	return d.dialect.From(goqu.T("reservations").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.books_id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.users_id").Eq(goqu.I("r.user_id")))).
		Select(
			goqu.I("r.reservations_id"), goqu.I("r.user_id"), goqu.I("r.book_id"),
			goqu.I("r.created_at"), goqu.I("r.expires_at"), goqu.I("r.status"),
			goqu.I("b.title"), goqu.I("u.username"),
		)
}

func (d *Database) GetReservation(ctx context.Context, id int64) (*Reservation, error) {
	query, args, err := selectSQL(d.reservationDataset().Where(goqu.I("r.reservations_id").Eq(id)))
	if err != nil {
		return nil, fmt.Errorf("build reservation query: %w", err)
	}
	var r Reservation
	if err := d.db.GetContext(ctx, &r, query, args...); err != nil {
		return nil, notFound(err, fmt.Sprintf("reservation %d", id))
	}
	return &r, nil
}

func (d *Database) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	ds := d.reservationDataset().
		Order(goqu.I("r.created_at").Desc(), goqu.I("r.reservations_id").Desc())
	if f.UserID > 0 {
		ds = ds.Where(goqu.I("r.user_id").Eq(f.UserID))
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.I("r.status").In(string(ReservationPending), string(ReservationReady)))
	}

	query, args, err := selectSQL(ds)
	if err != nil {
		return nil, fmt.Errorf("build reservation list: %w", err)
	}
	res := []Reservation{}
	if err := d.db.SelectContext(ctx, &res, query, args...); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return res, nil
}

// UpdateReservationStatus moves a reservation from one status to another.
// The update is conditional on the current status so a concurrent change is
// reported rather than overwritten.
func (d *Database) UpdateReservationStatus(ctx context.Context, id int64, from, to ReservationStatus) error {
	n, err := exec(ctx, d.db, `UPDATE reservations SET status=? WHERE reservations_id=? AND status=?`, to, id, from)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reservation %d is no longer %s: %w", id, from, ErrInvalidTransition)
	}
	return nil
}
