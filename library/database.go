package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Database provides the SQL access layer over SQLite or Postgres.
type Database struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects with the given driver. For sqlite3 dsn is a file path; for
// postgres and pgx it is a connection string.
func Open(driver, dsn string) (*Database, error) {
	dialect := "postgres"
	switch driver {
	case DriverSQLite:
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dsn)
		dialect = "sqlite3"
	case DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	d := &Database{db: db, driver: driver, dialect: goqu.Dialect(dialect)}
	if err := d.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

func (d *Database) isSQLite() bool { return d.driver == DriverSQLite }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

// Column types that differ between SQLite and Postgres.
var (
	sqliteTypes = strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TIMESTAMP",
		"{{loan_date_check}}", "",
	)
	postgresTypes = strings.NewReplacer(
		"{{pk}}", "SERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{loan_date_check}}", "CHECK (due_date >= borrowed_at::date),",
	)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		roles_id {{pk}},
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS authors (
		authors_id {{pk}},
		full_name TEXT NOT NULL,
		birth_date DATE,
		UNIQUE(full_name, birth_date)
	)`,
	`CREATE TABLE IF NOT EXISTS publishers (
		publishers_id {{pk}},
		pub_name TEXT NOT NULL UNIQUE,
		established_on DATE
	)`,
	`CREATE TABLE IF NOT EXISTS genres (
		genres_id {{pk}},
		gen_name TEXT NOT NULL UNIQUE,
		genre_desc TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		users_id {{pk}},
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		email TEXT UNIQUE,
		roles_id INTEGER NOT NULL REFERENCES roles(roles_id)
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		books_id {{pk}},
		title TEXT NOT NULL,
		summary TEXT,
		isbn TEXT UNIQUE,
		language TEXT,
		publication_year SMALLINT CHECK (publication_year BETWEEN 1000 AND 2030),
		publishers_id INTEGER NOT NULL REFERENCES publishers(publishers_id),
		image_path TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS book_authors (
		books_id INTEGER NOT NULL REFERENCES books(books_id) ON DELETE CASCADE,
		authors_id INTEGER NOT NULL REFERENCES authors(authors_id) ON DELETE CASCADE,
		PRIMARY KEY (books_id, authors_id)
	)`,
	`CREATE TABLE IF NOT EXISTS book_genres (
		books_id INTEGER NOT NULL REFERENCES books(books_id) ON DELETE CASCADE,
		genres_id INTEGER NOT NULL REFERENCES genres(genres_id) ON DELETE CASCADE,
		PRIMARY KEY (books_id, genres_id)
	)`,
	`CREATE TABLE IF NOT EXISTS book_copies (
		copies_id {{pk}},
		books_id INTEGER NOT NULL REFERENCES books(books_id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE','LOANED','RESERVED')),
		acquired_at DATE
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		loans_id {{pk}},
		users_id INTEGER NOT NULL REFERENCES users(users_id),
		staff_id INTEGER REFERENCES users(users_id),
		copy_id INTEGER NOT NULL REFERENCES book_copies(copies_id),
		borrowed_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		due_date DATE NOT NULL,
		returned_at {{ts}},
		{{loan_date_check}}
		CHECK (returned_at IS NULL OR returned_at >= borrowed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		reservations_id {{pk}},
		user_id INTEGER NOT NULL REFERENCES users(users_id),
		book_id INTEGER NOT NULL REFERENCES books(books_id),
		created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at {{ts}},
		status TEXT NOT NULL CHECK (status IN ('PENDING','READY','COMPLETED','CANCELLED'))
	)`,
	// At most one active reservation per user and book.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_active
		ON reservations(user_id, book_id) WHERE status IN ('PENDING','READY')`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		activity_id {{pk}},
		when_ts {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		action TEXT NOT NULL,
		who TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS ix_loans_copy ON loans(copy_id)`,
	`CREATE INDEX IF NOT EXISTS ix_copies_book ON book_copies(books_id)`,
}

var defaultRoles = []Role{RoleAdmin, RoleManager, RoleClient}

func (d *Database) applyMigrations() error {
	if d.isSQLite() {
		// WAL improves write concurrency.
		if _, err := d.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	var current int
	_ = d.db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&current)
	if current < schemaVersion {
		types := postgresTypes
		if d.isSQLite() {
			types = sqliteTypes
		}

		tx, err := d.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, stmt := range schema {
			if _, err := tx.Exec(types.Replace(stmt)); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		if _, err := tx.Exec(d.db.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value`), strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return d.seedRoles()
}

// seedRoles inserts the fixed roles when the table is empty.
func (d *Database) seedRoles() error {
	var n int
	if err := d.db.Get(&n, `SELECT COUNT(*) FROM roles`); err != nil {
		return fmt.Errorf("count roles: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, r := range defaultRoles {
		if _, err := d.db.Exec(d.db.Rebind(`INSERT INTO roles(name) VALUES(?)`), string(r)); err != nil {
			return fmt.Errorf("insert role %s: %w", r, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

// withTx runs fn inside a transaction, rolling back on error or panic.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// The helpers below take queries written with '?' placeholders and rebind
// them for the active driver.

func get(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
}

func list(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

func exec(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertID runs an INSERT ... RETURNING <id> statement.
func insertID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	var id int64
	if err := get(ctx, q, &id, query, args...); err != nil {
		return 0, err
	}
	return id, nil
}

// exists runs a SELECT 1 style probe.
func exists(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (bool, error) {
	var one int
	err := get(ctx, q, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// lookupID returns the first id selected by query, reporting whether a row matched.
func lookupID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, bool, error) {
	var id int64
	err := get(ctx, q, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// selectSQL renders a goqu dataset in prepared mode.
func selectSQL(ds *goqu.SelectDataset) (string, []any, error) {
	return ds.Prepared(true).ToSQL()
}
