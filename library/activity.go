package library

import (
	"context"
	"fmt"
	"time"
)

// Activity actions written by the service.
const (
	ActionLogin          = "Login"
	ActionLoginFailed    = "Login failed"
	ActionAddBook        = "Added book"
	ActionEditBook       = "Edited book"
	ActionDeleteBook     = "Deleted book"
	ActionAddAuthor      = "Added author"
	ActionAddGenre       = "Added genre"
	ActionAddPublisher   = "Added publisher"
	ActionBorrow         = "Borrowed"
	ActionReturn         = "Returned"
	ActionReserve        = "Reserved"
	ActionReservation    = "Reservation status"
	ActionRegisterClient = "Registered client"
	ActionCreateUser     = "Created user"
	ActionDeleteUser     = "Deleted user"
)

const (
	defaultActivityLimit = 50
	systemActor          = "system"
)

func (d *Database) InsertActivity(ctx context.Context, when time.Time, who, action, details string) error {
	if _, err := exec(ctx, d.db, `INSERT INTO activity_log(when_ts,action,who,details) VALUES(?,?,?,?)`,
		when.UTC(), action, who, details); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// RecentActivity returns the newest n entries first.
func (d *Database) RecentActivity(ctx context.Context, n int) ([]ActivityEntry, error) {
	if n <= 0 {
		n = defaultActivityLimit
	}
	entries := []ActivityEntry{}
	if err := list(ctx, d.db, &entries, `SELECT activity_id, when_ts, action, who, details
		FROM activity_log ORDER BY when_ts DESC, activity_id DESC LIMIT ?`, n); err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return entries, nil
}
