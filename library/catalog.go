package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// BookFilter narrows SearchBooks. Zero values disable a filter.
type BookFilter struct {
	Query    string `json:"query"`
	GenreID  int64  `json:"genre_id"`
	Language string `json:"language"`
}

// bookColumns expects books aliased b and publishers left-joined as p.
const bookColumns = `b.books_id, b.title,
	COALESCE(b.summary, '') AS summary,
	COALESCE(b.isbn, '') AS isbn,
	COALESCE(b.language, '') AS language,
	b.publication_year, b.publishers_id, b.image_path,
	COALESCE(p.pub_name, '') AS pub_name,
	(SELECT COUNT(*) FROM book_copies c WHERE c.books_id = b.books_id) AS copy_count,
	(SELECT COUNT(*) FROM book_copies c WHERE c.books_id = b.books_id AND c.status = 'AVAILABLE') AS available_count`

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook inserts a validated book with its authors, genres and copies in one
// transaction.
func (d *Database) AddBook(ctx context.Context, f BookForm, imagePath string, today time.Time) (int64, error) {
	var id int64
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePublisher(ctx, tx, f.PublisherID); err != nil {
			return err
		}

		var err error
		id, err = insertID(ctx, tx, `INSERT INTO books(title,summary,isbn,language,publication_year,publishers_id,image_path)
			VALUES(?,?,?,?,?,?,?) RETURNING books_id`,
			f.Title, f.Summary, f.ISBN, f.Language, f.PublicationYear, f.PublisherID, nullString(imagePath))
		if err != nil {
			if isUniqueViolation(err) {
				return fieldError("isbn", "a book with this ISBN already exists")
			}
			return fmt.Errorf("insert book: %w", err)
		}

		if err := linkAuthorsAndGenres(ctx, tx, id, f); err != nil {
			return err
		}
		return addCopies(ctx, tx, id, f.Copies, today)
	})
	return id, err
}

// UpdateBook overwrites the book row, replaces its author and genre links and
// reconciles the number of copies to f.Copies.
func (d *Database) UpdateBook(ctx context.Context, id int64, f BookForm, imagePath string, today time.Time) error {
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePublisher(ctx, tx, f.PublisherID); err != nil {
			return err
		}

		n, err := exec(ctx, tx, `UPDATE books SET title=?, summary=?, isbn=?, language=?, publication_year=?, publishers_id=?, image_path=?
			WHERE books_id=?`,
			f.Title, f.Summary, f.ISBN, f.Language, f.PublicationYear, f.PublisherID, nullString(imagePath), id)
		if err != nil {
			if isUniqueViolation(err) {
				return fieldError("isbn", "a book with this ISBN already exists")
			}
			return fmt.Errorf("update book: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("book %d: %w", id, ErrNotFound)
		}

		if _, err := exec(ctx, tx, `DELETE FROM book_authors WHERE books_id=?`, id); err != nil {
			return fmt.Errorf("clear book authors: %w", err)
		}
		if _, err := exec(ctx, tx, `DELETE FROM book_genres WHERE books_id=?`, id); err != nil {
			return fmt.Errorf("clear book genres: %w", err)
		}
		if err := linkAuthorsAndGenres(ctx, tx, id, f); err != nil {
			return err
		}
		return reconcileCopies(ctx, tx, id, f.Copies, today)
	})
}

// DeleteBook removes a book and everything hanging off it. A book with an
// active loan is left untouched.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		var active int
		if err := get(ctx, tx, &active, `SELECT COUNT(*) FROM loans l
			JOIN book_copies c ON c.copies_id = l.copy_id
			WHERE c.books_id = ? AND l.returned_at IS NULL`, id); err != nil {
			return fmt.Errorf("count active loans: %w", err)
		}
		if active > 0 {
			return ErrActiveLoans
		}

		steps := []struct{ what, query string }{
			{"reservations", `DELETE FROM reservations WHERE book_id=?`},
			{"loans", `DELETE FROM loans WHERE copy_id IN (SELECT copies_id FROM book_copies WHERE books_id=?)`},
			{"copies", `DELETE FROM book_copies WHERE books_id=?`},
			{"book authors", `DELETE FROM book_authors WHERE books_id=?`},
			{"book genres", `DELETE FROM book_genres WHERE books_id=?`},
		}
		for _, s := range steps {
			if _, err := exec(ctx, tx, s.query, id); err != nil {
				return fmt.Errorf("delete %s: %w", s.what, err)
			}
		}

		n, err := exec(ctx, tx, `DELETE FROM books WHERE books_id=?`, id)
		if err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("book %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := get(ctx, d.db, &b, `SELECT `+bookColumns+`
		FROM books b LEFT JOIN publishers p ON p.publishers_id = b.publishers_id
		WHERE b.books_id = ?`, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("book %d", id))
	}
	return &b, nil
}

// SearchBooks matches the query against title, ISBN, publisher, authors,
// genres, language and publication year, case-insensitively.
func (d *Database) SearchBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	ds := d.dialect.From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("publishers").As("p"), goqu.On(goqu.I("p.publishers_id").Eq(goqu.I("b.publishers_id")))).
		Select(goqu.L(bookColumns)).
		Order(goqu.I("b.title").Asc(), goqu.I("b.books_id").Asc())

	if q := strings.TrimSpace(f.Query); q != "" {
		byAuthor := d.dialect.From(goqu.T("book_authors").As("ba")).
			Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.authors_id").Eq(goqu.I("ba.authors_id")))).
			Select(goqu.I("ba.books_id")).
			Where(d.contains("a.full_name", q))
		byGenre := d.dialect.From(goqu.T("book_genres").As("bg")).
			Join(goqu.T("genres").As("g"), goqu.On(goqu.I("g.genres_id").Eq(goqu.I("bg.genres_id")))).
			Select(goqu.I("bg.books_id")).
			Where(d.contains("g.gen_name", q))

		ds = ds.Where(goqu.Or(
			d.contains("b.title", q),
			d.contains("b.isbn", q),
			d.contains("p.pub_name", q),
			d.contains("b.language", q),
			d.contains("CAST(b.publication_year AS TEXT)", q),
			goqu.I("b.books_id").In(byAuthor),
			goqu.I("b.books_id").In(byGenre),
		))
	}
	if f.GenreID > 0 {
		ds = ds.Where(goqu.I("b.books_id").In(
			d.dialect.From("book_genres").Select("books_id").Where(goqu.C("genres_id").Eq(f.GenreID)),
		))
	}
	if lang := strings.TrimSpace(f.Language); lang != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.I("b.language")).Eq(strings.ToLower(lang)))
	}

	query, args, err := selectSQL(ds)
	if err != nil {
		return nil, fmt.Errorf("build book search: %w", err)
	}
	books := []Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// contains matches q as a literal substring of column, ignoring case.
func (d *Database) contains(column, q string) exp.LiteralExpression {
	op := "ILIKE"
	if d.driver == DriverSQLite {
		op = "LIKE"
	}
	return goqu.L(column+" "+op+` ? ESCAPE '\'`, "%"+likeEscaper.Replace(q)+"%")
}

func (d *Database) BookAuthors(ctx context.Context, bookID int64) ([]Author, error) {
	authors := []Author{}
	err := list(ctx, d.db, &authors, `SELECT a.authors_id, a.full_name, a.birth_date
		FROM authors a JOIN book_authors ba ON ba.authors_id = a.authors_id
		WHERE ba.books_id = ? ORDER BY a.full_name`, bookID)
	if err != nil {
		return nil, fmt.Errorf("book authors: %w", err)
	}
	return authors, nil
}

func (d *Database) BookGenres(ctx context.Context, bookID int64) ([]Genre, error) {
	genres := []Genre{}
	err := list(ctx, d.db, &genres, `SELECT g.genres_id, g.gen_name, g.genre_desc
		FROM genres g JOIN book_genres bg ON bg.genres_id = g.genres_id
		WHERE bg.books_id = ? ORDER BY g.gen_name`, bookID)
	if err != nil {
		return nil, fmt.Errorf("book genres: %w", err)
	}
	return genres, nil
}

// ListLanguages returns the distinct languages present in the catalog.
func (d *Database) ListLanguages(ctx context.Context) ([]string, error) {
	langs := []string{}
	err := list(ctx, d.db, &langs, `SELECT DISTINCT language FROM books
		WHERE language IS NOT NULL AND language <> '' ORDER BY language`)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	return langs, nil
}

func requirePublisher(ctx context.Context, q sqlx.ExtContext, id int64) error {
	ok, err := exists(ctx, q, `SELECT 1 FROM publishers WHERE publishers_id=?`, id)
	if err != nil {
		return fmt.Errorf("check publisher: %w", err)
	}
	if !ok {
		return fieldError("publisher_id", msgPublisher)
	}
	return nil
}

func linkAuthorsAndGenres(ctx context.Context, tx *sqlx.Tx, bookID int64, f BookForm) error {
	linked := map[int64]bool{}
	for _, a := range f.Authors {
		authorID, err := getOrCreateAuthor(ctx, tx, a.FullName, a.BirthDate)
		if err != nil {
			return err
		}
		if linked[authorID] {
			continue
		}
		linked[authorID] = true
		if _, err := exec(ctx, tx, `INSERT INTO book_authors(books_id,authors_id) VALUES(?,?)`, bookID, authorID); err != nil {
			return fmt.Errorf("link author: %w", err)
		}
	}

	linked = map[int64]bool{}
	for _, g := range f.Genres {
		genreID, err := getOrCreateGenre(ctx, tx, g.Name, g.Description)
		if err != nil {
			return err
		}
		if linked[genreID] {
			continue
		}
		linked[genreID] = true
		if _, err := exec(ctx, tx, `INSERT INTO book_genres(books_id,genres_id) VALUES(?,?)`, bookID, genreID); err != nil {
			return fmt.Errorf("link genre: %w", err)
		}
	}
	return nil
}

func addCopies(ctx context.Context, tx *sqlx.Tx, bookID int64, n int, today time.Time) error {
	for i := 0; i < n; i++ {
		if _, err := exec(ctx, tx, `INSERT INTO book_copies(books_id,status,acquired_at) VALUES(?,?,?)`,
			bookID, CopyAvailable, dateOf(today)); err != nil {
			return fmt.Errorf("insert copy: %w", err)
		}
	}
	return nil
}

// reconcileCopies adds AVAILABLE copies or removes shelf copies that were
// never loaned. Copies with loan history stay so borrowing statistics hold.
func reconcileCopies(ctx context.Context, tx *sqlx.Tx, bookID int64, want int, today time.Time) error {
	var have int
	if err := get(ctx, tx, &have, `SELECT COUNT(*) FROM book_copies WHERE books_id=?`, bookID); err != nil {
		return fmt.Errorf("count copies: %w", err)
	}
	if want >= have {
		return addCopies(ctx, tx, bookID, want-have, today)
	}

	var removable []int64
	if err := list(ctx, tx, &removable, `SELECT c.copies_id FROM book_copies c
		WHERE c.books_id = ? AND c.status = 'AVAILABLE'
		AND NOT EXISTS (SELECT 1 FROM loans l WHERE l.copy_id = c.copies_id)
		ORDER BY c.copies_id DESC
		LIMIT ?`, bookID, have-want); err != nil {
		return fmt.Errorf("select removable copies: %w", err)
	}
	if len(removable) < have-want {
		return ErrCopiesInUse
	}

	query, args, err := sqlx.In(`DELETE FROM book_copies WHERE copies_id IN (?)`, removable)
	if err != nil {
		return err
	}
	if _, err := exec(ctx, tx, query, args...); err != nil {
		return fmt.Errorf("remove copies: %w", err)
	}
	return nil
}

// CopyCount counts every copy of a book regardless of status.
func (d *Database) CopyCount(ctx context.Context, bookID int64) (int, error) {
	var n int
	if err := get(ctx, d.db, &n, `SELECT COUNT(*) FROM book_copies WHERE books_id=?`, bookID); err != nil {
		return 0, fmt.Errorf("count copies: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Authors, genres, publishers
// ---------------------------------------------------------------------------

// findAuthor matches on name and birth date, where a missing birth date only
// matches another missing one.
func findAuthor(ctx context.Context, q sqlx.ExtContext, name string, birth *time.Time) (int64, bool, error) {
	if birth == nil {
		return lookupID(ctx, q, `SELECT authors_id FROM authors WHERE full_name=? AND birth_date IS NULL`, name)
	}
	return lookupID(ctx, q, `SELECT authors_id FROM authors WHERE full_name=? AND birth_date=?`, name, dateOf(*birth))
}

func getOrCreateAuthor(ctx context.Context, q sqlx.ExtContext, name string, birth *time.Time) (int64, error) {
	id, ok, err := findAuthor(ctx, q, name, birth)
	if err != nil {
		return 0, fmt.Errorf("find author: %w", err)
	}
	if ok {
		return id, nil
	}
	id, err = insertID(ctx, q, `INSERT INTO authors(full_name,birth_date) VALUES(?,?) RETURNING authors_id`,
		name, nullDate(birth))
	if err != nil {
		return 0, fmt.Errorf("insert author: %w", err)
	}
	return id, nil
}

func getOrCreateGenre(ctx context.Context, q sqlx.ExtContext, name string, desc *string) (int64, error) {
	id, ok, err := lookupID(ctx, q, `SELECT genres_id FROM genres WHERE gen_name=?`, name)
	if err != nil {
		return 0, fmt.Errorf("find genre: %w", err)
	}
	if ok {
		return id, nil
	}
	id, err = insertID(ctx, q, `INSERT INTO genres(gen_name,genre_desc) VALUES(?,?) RETURNING genres_id`, name, desc)
	if err != nil {
		return 0, fmt.Errorf("insert genre: %w", err)
	}
	return id, nil
}

// GetOrCreateAuthor returns the id of the author with this identity, creating
// the author when missing. Existing rows are never modified.
func (d *Database) GetOrCreateAuthor(ctx context.Context, name string, birth *time.Time) (int64, error) {
	return getOrCreateAuthor(ctx, d.db, name, birth)
}

// GetOrCreateGenre looks a genre up by name, creating it when missing.
func (d *Database) GetOrCreateGenre(ctx context.Context, name string, desc *string) (int64, error) {
	return getOrCreateGenre(ctx, d.db, name, desc)
}

// AddAuthor inserts a new author, refusing an existing (name, birth date) pair.
func (d *Database) AddAuthor(ctx context.Context, name string, birth *time.Time) (int64, error) {
	_, ok, err := findAuthor(ctx, d.db, name, birth)
	if err != nil {
		return 0, fmt.Errorf("find author: %w", err)
	}
	if ok {
		return 0, fmt.Errorf("author %q: %w", name, ErrAlreadyExists)
	}
	id, err := insertID(ctx, d.db, `INSERT INTO authors(full_name,birth_date) VALUES(?,?) RETURNING authors_id`,
		name, nullDate(birth))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("author %q: %w", name, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert author: %w", err)
	}
	return id, nil
}

// AddGenre inserts a new genre, refusing an existing name.
func (d *Database) AddGenre(ctx context.Context, name string, desc *string) (int64, error) {
	id, err := insertID(ctx, d.db, `INSERT INTO genres(gen_name,genre_desc) VALUES(?,?) RETURNING genres_id`, name, desc)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("genre %q: %w", name, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert genre: %w", err)
	}
	return id, nil
}

// AddPublisher inserts a new publisher, refusing an existing name.
func (d *Database) AddPublisher(ctx context.Context, name string, established *time.Time) (int64, error) {
	id, err := insertID(ctx, d.db, `INSERT INTO publishers(pub_name,established_on) VALUES(?,?) RETURNING publishers_id`,
		name, nullDate(established))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("publisher %q: %w", name, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert publisher: %w", err)
	}
	return id, nil
}

func (d *Database) ListAuthors(ctx context.Context) ([]Author, error) {
	authors := []Author{}
	if err := list(ctx, d.db, &authors, `SELECT authors_id, full_name, birth_date FROM authors ORDER BY full_name, authors_id`); err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	return authors, nil
}

func (d *Database) ListGenres(ctx context.Context) ([]Genre, error) {
	genres := []Genre{}
	if err := list(ctx, d.db, &genres, `SELECT genres_id, gen_name, genre_desc FROM genres ORDER BY gen_name`); err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	return genres, nil
}

func (d *Database) ListPublishers(ctx context.Context) ([]Publisher, error) {
	pubs := []Publisher{}
	if err := list(ctx, d.db, &pubs, `SELECT publishers_id, pub_name, established_on FROM publishers ORDER BY pub_name`); err != nil {
		return nil, fmt.Errorf("list publishers: %w", err)
	}
	return pubs, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dateOf(*t)
}
