package library

import "time"

// Role is one of the three fixed account roles seeded on first start.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleClient  Role = "CLIENT"
)

var validRoles = map[Role]bool{RoleAdmin: true, RoleManager: true, RoleClient: true}

func (r Role) IsValid() bool { return validRoles[r] }

// Capability is something a dashboard lets its user do.
type Capability string

const (
	CapManageCatalog      Capability = "catalog:manage"
	CapManageUsers        Capability = "users:manage"
	CapViewAnalytics      Capability = "analytics:view"
	CapViewActivity       Capability = "activity:view"
	CapIssueLoans         Capability = "loans:issue"
	CapRegisterCustomers  Capability = "customers:register"
	CapManageReservations Capability = "reservations:manage"
	CapBrowseCatalog      Capability = "catalog:browse"
	CapReserve            Capability = "reservations:create"
	CapViewOwnLoans       Capability = "loans:own"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin: {
		CapManageCatalog, CapManageUsers, CapViewAnalytics, CapViewActivity, CapBrowseCatalog,
	},
	RoleManager: {
		CapIssueLoans, CapRegisterCustomers, CapManageReservations, CapBrowseCatalog,
	},
	RoleClient: {
		CapBrowseCatalog, CapReserve, CapViewOwnLoans,
	},
}

// Can reports whether the role's dashboard grants c.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// CopyStatus is the circulation state of one physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyLoaned    CopyStatus = "LOANED"
	CopyReserved  CopyStatus = "RESERVED"
)

func (s CopyStatus) IsValid() bool {
	return s == CopyAvailable || s == CopyLoaned || s == CopyReserved
}

// ReservationStatus tracks a reservation independently of any copy.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationReady     ReservationStatus = "READY"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationPending, ReservationReady, ReservationCompleted, ReservationCancelled:
		return true
	}
	return false
}

// Active reservations block a second reservation of the same book by the same user.
func (s ReservationStatus) Active() bool {
	return s == ReservationPending || s == ReservationReady
}

// Next is the status a staff member advances the reservation to.
func (s ReservationStatus) Next() (ReservationStatus, bool) {
	switch s {
	case ReservationPending:
		return ReservationReady, true
	case ReservationReady:
		return ReservationCompleted, true
	}
	return "", false
}

// CanBecome reports whether the workflow allows moving from s to next.
// COMPLETED and CANCELLED are terminal.
func (s ReservationStatus) CanBecome(next ReservationStatus) bool {
	if !s.Active() {
		return false
	}
	if next == ReservationCancelled {
		return true
	}
	n, ok := s.Next()
	return ok && n == next
}

// Book is a catalog entry. PublisherName and the copy counters are filled by
// listing queries only.
type Book struct {
	ID              int64   `db:"books_id" json:"id"`
	Title           string  `db:"title" json:"title"`
	Summary         string  `db:"summary" json:"summary"`
	ISBN            string  `db:"isbn" json:"isbn"`
	Language        string  `db:"language" json:"language"`
	PublicationYear *int    `db:"publication_year" json:"publication_year,omitempty"`
	PublisherID     int64   `db:"publishers_id" json:"publisher_id"`
	ImagePath       *string `db:"image_path" json:"image_path,omitempty"`

	PublisherName   string `db:"pub_name" json:"publisher,omitempty"`
	CopyCount       int    `db:"copy_count" json:"copies"`
	AvailableCopies int    `db:"available_count" json:"available_copies"`
}

// BookForm is the add/edit payload. Authors and genres are resolved by identity
// and created when missing.
type BookForm struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	ISBN            string   `json:"isbn"`
	Language        string   `json:"language"`
	PublicationYear *int     `json:"publication_year"`
	PublisherID     int64    `json:"publisher_id"`
	Copies          int      `json:"copies"`
	Authors         []Author `json:"authors"`
	Genres          []Genre  `json:"genres"`

	// ImageSource is a local file to copy into the image store. ImagePath is
	// the already stored path, kept when ImageSource is empty.
	ImageSource string `json:"image_source,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
}

type Author struct {
	ID        int64      `db:"authors_id" json:"id"`
	FullName  string     `db:"full_name" json:"full_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
}

type Genre struct {
	ID          int64   `db:"genres_id" json:"id"`
	Name        string  `db:"gen_name" json:"name"`
	Description *string `db:"genre_desc" json:"description,omitempty"`
}

type Publisher struct {
	ID            int64      `db:"publishers_id" json:"id"`
	Name          string     `db:"pub_name" json:"name"`
	EstablishedOn *time.Time `db:"established_on" json:"established_on,omitempty"`
}

// Copy is one loanable instance of a book.
type Copy struct {
	ID         int64      `db:"copies_id" json:"id"`
	BookID     int64      `db:"books_id" json:"book_id"`
	Status     CopyStatus `db:"status" json:"status"`
	AcquiredAt *time.Time `db:"acquired_at" json:"acquired_at,omitempty"`

	BookTitle string `db:"title" json:"title,omitempty"`
}

type User struct {
	ID           int64  `db:"users_id" json:"id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password" json:"-"`
	FirstName    string `db:"first_name" json:"first_name"`
	LastName     string `db:"last_name" json:"last_name"`
	Email        string `db:"email" json:"email"`
	RoleID       int64  `db:"roles_id" json:"-"`
	Role         Role   `db:"role_name" json:"role"`
}

// FullName falls back to the username when no name is on file.
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	if u.LastName == "" {
		return u.FirstName
	}
	if u.FirstName == "" {
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}

type Loan struct {
	ID         int64      `db:"loans_id" json:"id"`
	UserID     int64      `db:"users_id" json:"user_id"`
	StaffID    *int64     `db:"staff_id" json:"staff_id,omitempty"`
	CopyID     int64      `db:"copy_id" json:"copy_id"`
	BorrowedAt time.Time  `db:"borrowed_at" json:"borrowed_at"`
	DueDate    time.Time  `db:"due_date" json:"due_date"`
	ReturnedAt *time.Time `db:"returned_at" json:"returned_at,omitempty"`

	BookID    int64  `db:"books_id" json:"book_id"`
	BookTitle string `db:"title" json:"title"`
}

// Active loans have not been returned.
func (l *Loan) Active() bool { return l.ReturnedAt == nil }

// Overdue loans are active with a due date before today.
func (l *Loan) Overdue(today time.Time) bool {
	return l.Active() && l.DueDate.Before(dateOf(today))
}

type Reservation struct {
	ID        int64             `db:"reservations_id" json:"id"`
	UserID    int64             `db:"user_id" json:"user_id"`
	BookID    int64             `db:"book_id" json:"book_id"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	ExpiresAt *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	Status    ReservationStatus `db:"status" json:"status"`

	BookTitle string `db:"title" json:"title"`
	Username  string `db:"username" json:"username"`
}

// ActivityEntry is one audit row.
type ActivityEntry struct {
	ID      int64     `db:"activity_id" json:"id"`
	When    time.Time `db:"when_ts" json:"when"`
	Action  string    `db:"action" json:"action"`
	Who     string    `db:"who" json:"who"`
	Details string    `db:"details" json:"details"`
}

// Availability drives the Borrow and Reserve actions of a book view.
type Availability struct {
	AvailableCopies      int  `json:"available_copies"`
	CanBorrow            bool `json:"can_borrow"`
	HasActiveReservation bool `json:"has_active_reservation"`
	CanReserve           bool `json:"can_reserve"`
}

type DashboardStats struct {
	TotalBooks       int64 `json:"total_books"`
	TotalUsers       int64 `json:"total_users"`
	ActiveLoans      int64 `json:"active_loans"`
	OverdueLoans     int64 `json:"overdue_loans"`
	TotalCopies      int64 `json:"total_copies"`
	AvailableCopies  int64 `json:"available_copies"`
	CheckedOutCopies int64 `json:"checked_out_copies"`
}

type TopBook struct {
	BookID int64  `db:"books_id" json:"book_id"`
	Title  string `db:"title" json:"title"`
	Times  int64  `db:"times" json:"times"`
}

type TopBorrower struct {
	UserID int64  `db:"users_id" json:"user_id"`
	Name   string `db:"name" json:"name"`
	Loans  int64  `db:"cnt" json:"loans"`
}

// dateOf keeps the calendar date of t at midnight UTC; dates are stored that way.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
