package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
)

const defaultTopN = 5

// Stats computes the dashboard counters. today decides which loans are overdue.
func (d *Database) Stats(ctx context.Context, today time.Time) (*DashboardStats, error) {
	var s DashboardStats
	counts := []struct {
		dest  *int64
		query string
		args  []any
	}{
		{&s.TotalBooks, `SELECT COUNT(*) FROM books`, nil},
		{&s.TotalUsers, `SELECT COUNT(*) FROM users`, nil},
		{&s.ActiveLoans, `SELECT COUNT(*) FROM loans WHERE returned_at IS NULL`, nil},
		{&s.OverdueLoans, `SELECT COUNT(*) FROM loans WHERE returned_at IS NULL AND due_date < ?`, []any{dateOf(today)}},
		{&s.TotalCopies, `SELECT COUNT(*) FROM book_copies`, nil},
		{&s.AvailableCopies, `SELECT COUNT(*) FROM book_copies WHERE status = 'AVAILABLE'`, nil},
	}
	for _, c := range counts {
		if err := get(ctx, d.db, c.dest, c.query, c.args...); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	s.CheckedOutCopies = max(0, s.TotalCopies-s.AvailableCopies)
	return &s, nil
}

// TopBorrowedBooks ranks books by number of loans, ties broken by title.
func (d *Database) TopBorrowedBooks(ctx context.Context, n int) ([]TopBook, error) {
	if n <= 0 {
		n = defaultTopN
	}
	ds := d.dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("book_copies").As("c"), goqu.On(goqu.I("c.copies_id").Eq(goqu.I("l.copy_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.books_id").Eq(goqu.I("c.books_id")))).
		Select(goqu.I("b.books_id"), goqu.I("b.title"), goqu.COUNT(goqu.Star()).As("times")).
		GroupBy(goqu.I("b.books_id"), goqu.I("b.title")).
		Order(goqu.C("times").Desc(), goqu.I("b.title").Asc()).
		Limit(uint(n))

	query, args, err := selectSQL(ds)
	if err != nil {
		return nil, fmt.Errorf("build top books: %w", err)
	}
	top := []TopBook{}
	if err := d.db.SelectContext(ctx, &top, query, args...); err != nil {
		return nil, fmt.Errorf("top books: %w", err)
	}
	return top, nil
}

// borrowerName falls back to the username when first and last name are blank.
const borrowerName = `COALESCE(NULLIF(TRIM(COALESCE(u.first_name, '') || ' ' || COALESCE(u.last_name, '')), ''), u.username)`

// TopActiveBorrowers ranks users by number of loans, ties broken by name.
func (d *Database) TopActiveBorrowers(ctx context.Context, n int) ([]TopBorrower, error) {
	if n <= 0 {
		n = defaultTopN
	}
	ds := d.dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.users_id").Eq(goqu.I("l.users_id")))).
		Select(goqu.I("u.users_id"), goqu.L(borrowerName).As("name"), goqu.COUNT(goqu.Star()).As("cnt")).
		GroupBy(goqu.I("u.users_id"), goqu.I("u.username"), goqu.I("u.first_name"), goqu.I("u.last_name")).
		Order(goqu.C("cnt").Desc(), goqu.C("name").Asc()).
		Limit(uint(n))

	query, args, err := selectSQL(ds)
	if err != nil {
		return nil, fmt.Errorf("build top borrowers: %w", err)
	}
	top := []TopBorrower{}
	if err := d.db.SelectContext(ctx, &top, query, args...); err != nil {
		return nil, fmt.Errorf("top borrowers: %w", err)
	}
	return top, nil
}

// MaxOverdueDays is how many whole days the most overdue active loan is
// past its due date, or 0 when nothing is overdue.
func (d *Database) MaxOverdueDays(ctx context.Context, today time.Time) (int, error) {
	today = dateOf(today)
	var due time.Time
	// ORDER BY keeps the DATE column type, which an aggregate would lose on SQLite.
	err := get(ctx, d.db, &due, `SELECT due_date FROM loans
		WHERE returned_at IS NULL AND due_date < ?
		ORDER BY due_date ASC LIMIT 1`, today)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("max overdue: %w", err)
	}
	return int(today.Sub(dateOf(due)).Hours() / 24), nil
}
