package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
)

// DefaultImagesDir is where cover images are stored unless configured.
const DefaultImagesDir = "library_images"

// LibraryManager is the façade the CLI talks to. It validates input, checks
// the caller's role, delegates SQL to the Database and writes the activity log.
type LibraryManager struct {
	db         *Database
	images     *ImageStore
	log        zerolog.Logger
	now        func() time.Time
	bcryptCost int
}

// Option customises a LibraryManager.
type Option func(*LibraryManager)

func WithLogger(l zerolog.Logger) Option { return func(lm *LibraryManager) { lm.log = l } }

// WithClock replaces time.Now; "today" for due dates and overdue checks
// derives from it.
func WithClock(now func() time.Time) Option { return func(lm *LibraryManager) { lm.now = now } }

func WithImageStore(s *ImageStore) Option { return func(lm *LibraryManager) { lm.images = s } }

func WithBcryptCost(cost int) Option {
	return func(lm *LibraryManager) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			lm.bcryptCost = cost
		}
	}
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	return OpenLibraryManager(DriverSQLite, dbPath, opts...)
}

// OpenLibraryManager connects with any supported driver.
func OpenLibraryManager(driver, dsn string, opts ...Option) (*LibraryManager, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	lm := &LibraryManager{
		db:         db,
		images:     NewImageStore(afero.NewOsFs(), DefaultImagesDir),
		log:        zerolog.Nop(),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(lm)
	}
	lm.log.Debug().Str("driver", driver).Int("schema_version", schemaVersion).Msg("database ready")
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

func (lm *LibraryManager) today() time.Time { return dateOf(lm.now()) }

// authorize lets a nil actor through: that is the system itself (seeding,
// bulk import).
func authorize(actor *User, c Capability) error {
	if actor == nil || actor.Role.Can(c) {
		return nil
	}
	return fmt.Errorf("%s cannot %s: %w", actor.Role, c, ErrForbidden)
}

func actorName(actor *User) string {
	if actor == nil {
		return systemActor
	}
	return actor.Username
}

// ------------------ Activity ------------------

// LogActivity records an audit entry. A failed write is logged and swallowed.
func (lm *LibraryManager) LogActivity(ctx context.Context, who, action, details string) {
	if err := lm.db.InsertActivity(ctx, lm.now(), who, action, details); err != nil {
		lm.log.Warn().Err(err).Str("action", action).Str("who", who).Msg("activity log write failed")
	}
}

func (lm *LibraryManager) RecentActivity(ctx context.Context, n int) ([]ActivityEntry, error) {
	return lm.db.RecentActivity(ctx, n)
}

// ------------------ Seeding ------------------

type demoUser struct {
	user     User
	password string
}

var demoUsers = []demoUser{
	{User{Username: "admin", FirstName: "Admin", LastName: "User", Email: "admin@library.com", Role: RoleAdmin}, "admin123"},
	{User{Username: "manager", FirstName: "Manager", LastName: "User", Email: "manager@library.com", Role: RoleManager}, "manager123"},
	{User{Username: "client", FirstName: "Client", LastName: "User", Email: "client@library.com", Role: RoleClient}, "client123"},
}

// SeedDemoUsers creates the admin, manager and client demo accounts that are
// missing and returns how many were created.
func (lm *LibraryManager) SeedDemoUsers(ctx context.Context) (int, error) {
	created := 0
	for _, du := range demoUsers {
		hash, err := HashPassword(du.password, lm.bcryptCost)
		if err != nil {
			return created, err
		}
		ok, err := lm.db.SeedUser(ctx, du.user, hash)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		lm.log.Info().Int("users", created).Msg("seeded demo users")
	}
	return created, nil
}

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, actor *User, f BookForm) (int64, error) {
	if err := authorize(actor, CapManageCatalog); err != nil {
		return 0, err
	}
	f, err := normalizeBookForm(f)
	if err != nil {
		return 0, err
	}

	imagePath := f.ImagePath
	stored := ""
	if f.ImageSource != "" {
		if stored, err = lm.images.Save(f.ImageSource); err != nil {
			return 0, err
		}
		imagePath = stored
	}

	id, err := lm.db.AddBook(ctx, f, imagePath, lm.now())
	if err != nil {
		if rmErr := lm.images.Remove(stored); rmErr != nil {
			lm.log.Warn().Err(rmErr).Str("path", stored).Msg("could not discard image")
		}
		lm.log.Warn().Err(err).Str("isbn", f.ISBN).Msg("add book failed")
		return 0, err
	}
	lm.log.Info().Int64("book_id", id).Str("title", f.Title).Int("copies", f.Copies).Msg("book added")
	lm.LogActivity(ctx, actorName(actor), ActionAddBook, fmt.Sprintf("%s (ISBN %s, %d copies)", f.Title, f.ISBN, f.Copies))
	return id, nil
}

// GetBookForEdit returns the stored book as a form ready to be edited and
// resubmitted through UpdateBook.
func (lm *LibraryManager) GetBookForEdit(ctx context.Context, id int64) (*BookForm, error) {
	b, err := lm.db.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	authors, err := lm.db.BookAuthors(ctx, id)
	if err != nil {
		return nil, err
	}
	genres, err := lm.db.BookGenres(ctx, id)
	if err != nil {
		return nil, err
	}

	f := &BookForm{
		Title:           b.Title,
		Summary:         b.Summary,
		ISBN:            b.ISBN,
		Language:        b.Language,
		PublicationYear: b.PublicationYear,
		PublisherID:     b.PublisherID,
		Copies:          b.CopyCount,
		Authors:         authors,
		Genres:          genres,
	}
	if b.ImagePath != nil {
		f.ImagePath = *b.ImagePath
	}
	return f, nil
}

func (lm *LibraryManager) UpdateBook(ctx context.Context, actor *User, id int64, f BookForm) error {
	if err := authorize(actor, CapManageCatalog); err != nil {
		return err
	}
	f, err := normalizeBookForm(f)
	if err != nil {
		return err
	}

	imagePath := f.ImagePath
	stored := ""
	if f.ImageSource != "" {
		if stored, err = lm.images.Save(f.ImageSource); err != nil {
			return err
		}
		imagePath = stored
	}

	if err := lm.db.UpdateBook(ctx, id, f, imagePath, lm.now()); err != nil {
		if rmErr := lm.images.Remove(stored); rmErr != nil {
			lm.log.Warn().Err(rmErr).Str("path", stored).Msg("could not discard image")
		}
		lm.log.Warn().Err(err).Int64("book_id", id).Msg("update book failed")
		return err
	}
	lm.LogActivity(ctx, actorName(actor), ActionEditBook, fmt.Sprintf("%s (id %d)", f.Title, id))
	return nil
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, actor *User, id int64) error {
	if err := authorize(actor, CapManageCatalog); err != nil {
		return err
	}
	b, err := lm.db.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if err := lm.db.DeleteBook(ctx, id); err != nil {
		lm.log.Warn().Err(err).Int64("book_id", id).Msg("delete book failed")
		return err
	}
	lm.log.Info().Int64("book_id", id).Msg("book deleted")
	lm.LogActivity(ctx, actorName(actor), ActionDeleteBook, fmt.Sprintf("%s (id %d)", b.Title, id))
	return nil
}

func (lm *LibraryManager) AddAuthor(ctx context.Context, actor *User, name string, birth *time.Time) (int64, error) {
	if err := authorize(actor, CapManageCatalog); err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fieldError("full_name", "please enter the author's name")
	}
	id, err := lm.db.AddAuthor(ctx, name, birth)
	if err != nil {
		return 0, err
	}
	lm.LogActivity(ctx, actorName(actor), ActionAddAuthor, name)
	return id, nil
}

func (lm *LibraryManager) AddGenre(ctx context.Context, actor *User, name, description string) (int64, error) {
	if err := authorize(actor, CapManageCatalog); err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fieldError("name", "please enter the genre name")
	}
	var desc *string
	if d := strings.TrimSpace(description); d != "" {
		desc = &d
	}
	id, err := lm.db.AddGenre(ctx, name, desc)
	if err != nil {
		return 0, err
	}
	lm.LogActivity(ctx, actorName(actor), ActionAddGenre, name)
	return id, nil
}

func (lm *LibraryManager) AddPublisher(ctx context.Context, actor *User, name string, established *time.Time) (int64, error) {
	if err := authorize(actor, CapManageCatalog); err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fieldError("name", "please enter the publisher name")
	}
	id, err := lm.db.AddPublisher(ctx, name, established)
	if err != nil {
		return 0, err
	}
	lm.LogActivity(ctx, actorName(actor), ActionAddPublisher, name)
	return id, nil
}

func (lm *LibraryManager) GetOrCreateAuthor(ctx context.Context, name string, birth *time.Time) (int64, error) {
	return lm.db.GetOrCreateAuthor(ctx, strings.TrimSpace(name), birth)
}

func (lm *LibraryManager) GetOrCreateGenre(ctx context.Context, name string, desc *string) (int64, error) {
	return lm.db.GetOrCreateGenre(ctx, strings.TrimSpace(name), desc)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	return lm.db.SearchBooks(ctx, f)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) BookAuthors(ctx context.Context, id int64) ([]Author, error) {
	return lm.db.BookAuthors(ctx, id)
}

func (lm *LibraryManager) BookGenres(ctx context.Context, id int64) ([]Genre, error) {
	return lm.db.BookGenres(ctx, id)
}

func (lm *LibraryManager) ListAuthors(ctx context.Context) ([]Author, error) { return lm.db.ListAuthors(ctx) }
func (lm *LibraryManager) ListGenres(ctx context.Context) ([]Genre, error)   { return lm.db.ListGenres(ctx) }
func (lm *LibraryManager) ListLanguages(ctx context.Context) ([]string, error) {
	return lm.db.ListLanguages(ctx)
}

func (lm *LibraryManager) ListPublishers(ctx context.Context) ([]Publisher, error) {
	return lm.db.ListPublishers(ctx)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) CreateLoan(ctx context.Context, staff *User, req LoanRequest) (int64, error) {
	if err := authorize(staff, CapIssueLoans); err != nil {
		return 0, err
	}
	today := lm.today()
	err := validation.ValidateStruct(&req,
		validation.Field(&req.CustomerID, validation.Required.Error("please select a customer")),
		validation.Field(&req.CopyID, validation.Required.Error("please select a copy")),
		validation.Field(&req.DueDate,
			validation.Required.Error("please select a due date"),
			validation.By(func(any) error {
				if !req.DueDate.IsZero() && dateOf(req.DueDate).Before(today) {
					return errors.New("due date cannot be in the past")
				}
				return nil
			}),
		),
	)
	if err != nil {
		return 0, asValidationError(err)
	}

	var staffID *int64
	if staff != nil {
		staffID = &staff.ID
	}
	id, err := lm.db.CreateLoan(ctx, req.CustomerID, staffID, req.CopyID, lm.now(), req.DueDate)
	if err != nil {
		lm.log.Warn().Err(err).Int64("copy_id", req.CopyID).Int64("customer_id", req.CustomerID).Msg("create loan failed")
		return 0, err
	}
	lm.log.Info().Int64("loan_id", id).Int64("copy_id", req.CopyID).Msg("loan created")
	lm.LogActivity(ctx, actorName(staff), ActionBorrow,
		fmt.Sprintf("copy %d to user %d, due %s", req.CopyID, req.CustomerID, dateOf(req.DueDate).Format(time.DateOnly)))
	return id, nil
}

func (lm *LibraryManager) ReturnLoan(ctx context.Context, staff *User, loanID int64) error {
	if err := authorize(staff, CapIssueLoans); err != nil {
		return err
	}
	loan, err := lm.db.ReturnLoan(ctx, loanID, lm.now())
	if err != nil {
		lm.log.Warn().Err(err).Int64("loan_id", loanID).Msg("return loan failed")
		return err
	}
	lm.LogActivity(ctx, actorName(staff), ActionReturn, fmt.Sprintf("%s (copy %d)", loan.BookTitle, loan.CopyID))
	return nil
}

func (lm *LibraryManager) AvailableCopies(ctx context.Context) ([]Copy, error) {
	return lm.db.AvailableCopies(ctx)
}

func (lm *LibraryManager) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	return lm.db.ListLoans(ctx, f)
}

func (lm *LibraryManager) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	return lm.db.ListReservations(ctx, f)
}

// Availability decides whether a user may borrow or reserve a book.
func (lm *LibraryManager) Availability(ctx context.Context, userID, bookID int64) (Availability, error) {
	var a Availability
	n, err := lm.db.AvailableCopyCount(ctx, bookID)
	if err != nil {
		return a, err
	}
	active, err := lm.db.HasActiveReservation(ctx, userID, bookID)
	if err != nil {
		return a, err
	}
	a.AvailableCopies = n
	a.CanBorrow = n > 0
	a.HasActiveReservation = active
	a.CanReserve = !active
	return a, nil
}

func (lm *LibraryManager) ReserveBook(ctx context.Context, user *User, bookID int64) (int64, error) {
	if user == nil {
		return 0, fieldError("user", "please log in to reserve a book")
	}
	if err := authorize(user, CapReserve); err != nil {
		return 0, err
	}
	id, err := lm.db.ReserveBook(ctx, user.ID, bookID, lm.now())
	if err != nil {
		if !errors.Is(err, ErrDuplicateReservation) {
			lm.log.Warn().Err(err).Int64("book_id", bookID).Msg("reserve book failed")
		}
		return 0, err
	}
	lm.LogActivity(ctx, user.Username, ActionReserve, fmt.Sprintf("book %d", bookID))
	return id, nil
}

// SetReservationStatus applies one workflow transition.
func (lm *LibraryManager) SetReservationStatus(ctx context.Context, actor *User, id int64, to ReservationStatus) error {
	r, err := lm.db.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, CapManageReservations); err != nil {
		// Clients may only cancel their own reservations.
		if to != ReservationCancelled || actor.ID != r.UserID || !actor.Role.Can(CapReserve) {
			return err
		}
	}
	if !to.IsValid() || !r.Status.CanBecome(to) {
		return fmt.Errorf("%s -> %s: %w", r.Status, to, ErrInvalidTransition)
	}
	if err := lm.db.UpdateReservationStatus(ctx, id, r.Status, to); err != nil {
		return err
	}
	lm.LogActivity(ctx, actorName(actor), ActionReservation,
		fmt.Sprintf("reservation %d for %s: %s -> %s", id, r.BookTitle, r.Status, to))
	return nil
}

// AdvanceReservation moves PENDING to READY and READY to COMPLETED.
func (lm *LibraryManager) AdvanceReservation(ctx context.Context, staff *User, id int64) (ReservationStatus, error) {
	r, err := lm.db.GetReservation(ctx, id)
	if err != nil {
		return "", err
	}
	next, ok := r.Status.Next()
	if !ok {
		return r.Status, fmt.Errorf("%s is final: %w", r.Status, ErrInvalidTransition)
	}
	if err := lm.SetReservationStatus(ctx, staff, id, next); err != nil {
		return r.Status, err
	}
	return next, nil
}

func (lm *LibraryManager) CancelReservation(ctx context.Context, actor *User, id int64) error {
	return lm.SetReservationStatus(ctx, actor, id, ReservationCancelled)
}

// ------------------ Users ------------------

// RegisterCustomer creates a CLIENT account on behalf of a staff member.
func (lm *LibraryManager) RegisterCustomer(ctx context.Context, staff *User, f CustomerForm) (int64, error) {
	if err := authorize(staff, CapRegisterCustomers); err != nil {
		return 0, err
	}
	f, err := normalizeCustomerForm(f)
	if err != nil {
		return 0, err
	}
	taken, err := lm.db.UsernameTaken(ctx, f.Username)
	if err != nil {
		return 0, err
	}
	if taken {
		return 0, fieldError("username", msgUsernameTaken)
	}

	id, err := lm.createUser(ctx, User{
		Username:  f.Username,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		Role:      RoleClient,
	}, f.Password)
	if err != nil {
		return 0, err
	}
	lm.LogActivity(ctx, actorName(staff), ActionRegisterClient, f.Username)
	return id, nil
}

// CreateStaffUser creates an account with any role.
func (lm *LibraryManager) CreateStaffUser(ctx context.Context, admin *User, f UserForm) (int64, error) {
	if err := authorize(admin, CapManageUsers); err != nil {
		return 0, err
	}
	f, err := normalizeUserForm(f)
	if err != nil {
		return 0, err
	}
	taken, err := lm.db.UsernameTaken(ctx, f.Username)
	if err != nil {
		return 0, err
	}
	if taken {
		return 0, fieldError("username", msgUsernameTaken)
	}

	id, err := lm.createUser(ctx, User{
		Username:  f.Username,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		Role:      f.Role,
	}, f.Password)
	if err != nil {
		return 0, err
	}
	lm.LogActivity(ctx, actorName(admin), ActionCreateUser, fmt.Sprintf("%s (%s)", f.Username, f.Role))
	return id, nil
}

func (lm *LibraryManager) createUser(ctx context.Context, u User, password string) (int64, error) {
	hash, err := HashPassword(password, lm.bcryptCost)
	if err != nil {
		if errors.Is(err, ErrPasswordTooLong) {
			return 0, fieldError("password", err.Error())
		}
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := lm.db.InsertUser(ctx, u, hash)
	if err != nil {
		lm.log.Warn().Err(err).Str("username", u.Username).Msg("create user failed")
		return 0, err
	}
	lm.log.Info().Int64("user_id", id).Str("role", string(u.Role)).Msg("user created")
	return id, nil
}

func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return lm.db.GetUser(ctx, id)
}

// ListUsers lists one role, or everyone when role is empty.
func (lm *LibraryManager) ListUsers(ctx context.Context, role Role) ([]User, error) {
	return lm.db.ListUsers(ctx, role)
}

func (lm *LibraryManager) DeleteUser(ctx context.Context, admin *User, id int64) error {
	if err := authorize(admin, CapManageUsers); err != nil {
		return err
	}
	if admin != nil && admin.ID == id {
		return fieldError("user", "you cannot delete your own account")
	}
	u, err := lm.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := lm.db.DeleteUser(ctx, id); err != nil {
		lm.log.Warn().Err(err).Int64("user_id", id).Msg("delete user failed")
		return err
	}
	lm.LogActivity(ctx, actorName(admin), ActionDeleteUser, u.Username)
	return nil
}

// Authenticate checks the credentials and returns the user with its role.
// Unknown usernames and wrong passwords are indistinguishable to the caller.
func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := lm.db.UserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		lm.LogActivity(ctx, username, ActionLoginFailed, "unknown user")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, legacy := CheckPassword(password, u.PasswordHash)
	if !ok {
		lm.LogActivity(ctx, username, ActionLoginFailed, "wrong password")
		return nil, ErrInvalidCredentials
	}
	if legacy {
		if hash, err := HashPassword(password, lm.bcryptCost); err == nil {
			if err := lm.db.UpdatePassword(ctx, u.ID, hash); err != nil {
				lm.log.Warn().Err(err).Int64("user_id", u.ID).Msg("password upgrade failed")
			} else {
				u.PasswordHash = hash
			}
		}
	}
	lm.LogActivity(ctx, u.Username, ActionLogin, string(u.Role))
	return u, nil
}

// ------------------ Analytics ------------------

func (lm *LibraryManager) Stats(ctx context.Context) (*DashboardStats, error) {
	return lm.db.Stats(ctx, lm.today())
}

func (lm *LibraryManager) TopBorrowedBooks(ctx context.Context, n int) ([]TopBook, error) {
	return lm.db.TopBorrowedBooks(ctx, n)
}

func (lm *LibraryManager) TopActiveBorrowers(ctx context.Context, n int) ([]TopBorrower, error) {
	return lm.db.TopActiveBorrowers(ctx, n)
}

func (lm *LibraryManager) MaxOverdueDays(ctx context.Context) (int, error) {
	return lm.db.MaxOverdueDays(ctx, lm.today())
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	year := "-"
	if b.PublicationYear != nil {
		year = fmt.Sprint(*b.PublicationYear)
	}
	return fmt.Sprintf("%-5d %-30s %-13s %-12s %-5s %-20s %d/%d",
		b.ID, b.Title, b.ISBN, b.Language, year, b.PublisherName, b.AvailableCopies, b.CopyCount)
}
