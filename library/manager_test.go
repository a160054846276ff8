package library

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var fixedNow = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advanceDays(n int) { c.now = c.now.AddDate(0, 0, n) }

type fixture struct {
	lm    *LibraryManager
	clock *testClock
	fs    afero.Fs
	logs  *bytes.Buffer

	admin, manager, client *User
	publisherID            int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		clock: &testClock{now: fixedNow},
		fs:    afero.NewMemMapFs(),
		logs:  &bytes.Buffer{},
	}
	lm, err := NewLibraryManager(filepath.Join(t.TempDir(), "test.db"),
		WithClock(f.clock.Now),
		WithBcryptCost(bcrypt.MinCost),
		WithImageStore(NewImageStore(f.fs, "images")),
		WithLogger(zerolog.New(f.logs)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	f.lm = lm

	_, err = lm.SeedDemoUsers(ctx)
	require.NoError(t, err)
	f.admin = f.login(t, "admin", "admin123")
	f.manager = f.login(t, "manager", "manager123")
	f.client = f.login(t, "client", "client123")

	f.publisherID, err = lm.AddPublisher(ctx, f.admin, "Ace Books", nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) login(t *testing.T, username, password string) *User {
	t.Helper()
	u, err := f.lm.Authenticate(context.Background(), username, password)
	require.NoError(t, err, "login %s", username)
	return u
}

func (f *fixture) bookForm(title, isbn string) BookForm {
	year := 1965
	return BookForm{
		Title:           title,
		Summary:         "Politics and sand on a desert planet.",
		ISBN:            isbn,
		Language:        "en",
		PublicationYear: &year,
		PublisherID:     f.publisherID,
		Copies:          2,
		Authors:         []Author{{FullName: "Frank Herbert"}},
		Genres:          []Genre{{Name: "Science Fiction"}},
	}
}

func (f *fixture) addBook(t *testing.T, title, isbn string) int64 {
	t.Helper()
	id, err := f.lm.AddBook(context.Background(), f.admin, f.bookForm(title, isbn))
	require.NoError(t, err)
	return id
}

func (f *fixture) availableCopy(t *testing.T, bookID int64) int64 {
	t.Helper()
	copies, err := f.lm.AvailableCopies(context.Background())
	require.NoError(t, err)
	for _, c := range copies {
		if c.BookID == bookID {
			return c.ID
		}
	}
	t.Fatalf("no available copy of book %d", bookID)
	return 0
}

func (f *fixture) customer(t *testing.T, username, first, last string) int64 {
	t.Helper()
	id, err := f.lm.RegisterCustomer(context.Background(), f.manager, CustomerForm{
		Username: username, Password: "pw", FirstName: first, LastName: last, Email: username + "@gmail.com",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) lend(t *testing.T, bookID, customerID int64, dueInDays int) int64 {
	t.Helper()
	id, err := f.lm.CreateLoan(context.Background(), f.manager, LoanRequest{
		CustomerID: customerID,
		CopyID:     f.availableCopy(t, bookID),
		DueDate:    f.clock.now.AddDate(0, 0, dueInDays),
	})
	require.NoError(t, err)
	return id
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleAdmin.Can(CapManageCatalog))
	assert.True(t, RoleAdmin.Can(CapViewAnalytics))
	assert.False(t, RoleAdmin.Can(CapIssueLoans))
	assert.True(t, RoleManager.Can(CapIssueLoans))
	assert.True(t, RoleManager.Can(CapManageReservations))
	assert.False(t, RoleManager.Can(CapManageUsers))
	assert.True(t, RoleClient.Can(CapReserve))
	assert.False(t, RoleClient.Can(CapManageCatalog))
	assert.False(t, Role("GUEST").Can(CapBrowseCatalog))
}

func TestForbiddenForWrongRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lm.AddBook(ctx, f.client, f.bookForm("Dune", "9780441172719"))
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.lm.CreateLoan(ctx, f.admin, LoanRequest{CustomerID: f.client.ID, CopyID: 1, DueDate: fixedNow})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.lm.RegisterCustomer(ctx, f.client, CustomerForm{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFailedOperationsAreLogged(t *testing.T) {
	f := newFixture(t)
	f.addBook(t, "Dune", "9780441172719")

	_, err := f.lm.AddBook(context.Background(), f.admin, f.bookForm("Dune Again", "978-0-441-17271-9"))
	require.Error(t, err)
	assert.Contains(t, f.logs.String(), `"message":"add book failed"`)
	assert.Contains(t, f.logs.String(), `"isbn":"9780441172719"`)
}
