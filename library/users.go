package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const userSelect = `SELECT u.users_id, u.username, u.password,
	COALESCE(u.first_name, '') AS first_name,
	COALESCE(u.last_name, '') AS last_name,
	COALESCE(u.email, '') AS email,
	u.roles_id, r.name AS role_name
	FROM users u JOIN roles r ON r.roles_id = u.roles_id`

// InsertUser stores u with the given password hash under u.Role.
func (d *Database) InsertUser(ctx context.Context, u User, passwordHash string) (int64, error) {
	id, err := insertID(ctx, d.db, `INSERT INTO users(username,password,first_name,last_name,email,roles_id)
		SELECT ?,?,?,?,?,roles_id FROM roles WHERE name=? RETURNING users_id`,
		u.Username, passwordHash, nullString(u.FirstName), nullString(u.LastName), nullString(u.Email), string(u.Role))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", u.Username, ErrAlreadyExists)
		}
		return 0, notFound(err, fmt.Sprintf("insert user with role %s", u.Role))
	}
	return id, nil
}

// UsernameTaken compares case-insensitively with Unicode case folding.
// SQLite's LOWER only folds ASCII, so the comparison happens here.
func (d *Database) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var names []string
	if err := list(ctx, d.db, &names, `SELECT username FROM users`); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	username = strings.TrimSpace(username)
	for _, n := range names {
		if strings.EqualFold(n, username) {
			return true, nil
		}
	}
	return false, nil
}

// UserByUsername matches the username exactly.
func (d *Database) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := get(ctx, d.db, &u, userSelect+` WHERE u.username=?`, username); err != nil {
		return nil, notFound(err, fmt.Sprintf("user %q", username))
	}
	return &u, nil
}

func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := get(ctx, d.db, &u, userSelect+` WHERE u.users_id=?`, id); err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

// ListUsers lists users with the given role, or everyone for an empty role.
func (d *Database) ListUsers(ctx context.Context, role Role) ([]User, error) {
	users := []User{}
	var err error
	if role == "" {
		err = list(ctx, d.db, &users, userSelect+` ORDER BY u.username`)
	} else {
		err = list(ctx, d.db, &users, userSelect+` WHERE r.name=? ORDER BY u.username`, string(role))
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (d *Database) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	if _, err := exec(ctx, d.db, `UPDATE users SET password=? WHERE users_id=?`, passwordHash, id); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// DeleteUser removes a user who has nothing on loan, together with their
// reservations and loan history. Loans they issued as staff keep their row
// with the staff reference cleared.
func (d *Database) DeleteUser(ctx context.Context, id int64) error {
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		var active int
		if err := get(ctx, tx, &active, `SELECT COUNT(*) FROM loans WHERE users_id=? AND returned_at IS NULL`, id); err != nil {
			return fmt.Errorf("count active loans: %w", err)
		}
		if active > 0 {
			return ErrActiveLoans
		}

		for _, q := range []string{
			`DELETE FROM reservations WHERE user_id=?`,
			`DELETE FROM loans WHERE users_id=?`,
			`UPDATE loans SET staff_id=NULL WHERE staff_id=?`,
		} {
			if _, err := exec(ctx, tx, q, id); err != nil {
				return fmt.Errorf("detach user %d: %w", id, err)
			}
		}

		n, err := exec(ctx, tx, `DELETE FROM users WHERE users_id=?`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// SeedUser inserts u unless a user with the same username already exists.
// It reports whether a row was written.
func (d *Database) SeedUser(ctx context.Context, u User, passwordHash string) (bool, error) {
	ok, err := exists(ctx, d.db, `SELECT 1 FROM users WHERE username=?`, strings.TrimSpace(u.Username))
	if err != nil {
		return false, fmt.Errorf("check seed user: %w", err)
	}
	if ok {
		return false, nil
	}
	if _, err := d.InsertUser(ctx, u, passwordHash); err != nil {
		return false, err
	}
	return true, nil
}
