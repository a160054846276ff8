package main

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"library-catalog/library"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "library.db"))
	t.Setenv("IMAGES_DIR", filepath.Join(dir, "images"))
	t.Setenv("AUTH_BCRYPT_COST", "4")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("APP_ENV", "test")
	t.Setenv("LIBRARY_USER", "")
}

// runCLI runs one invocation; stdin supplies the password lines.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{in: bufio.NewReader(strings.NewReader(stdin)), out: &out}
	root := a.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if a.mgr != nil {
		require.NoError(t, a.mgr.Close())
	}
	return out.String(), err
}

func TestInitAndWhoami(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "init")
	require.NoError(t, err)
	assert.Equal(t, "Database ready (sqlite3).\n", out)

	out, err = runCLI(t, "admin123\n", "whoami", "--user", "admin")
	require.NoError(t, err)
	assert.Equal(t, "Admin User (admin), role ADMIN\n", out)

	_, err = runCLI(t, "nope\n", "whoami", "--user", "admin")
	require.ErrorIs(t, err, library.ErrInvalidCredentials)

	_, err = runCLI(t, "", "whoami")
	require.EqualError(t, err, "this command needs --user")
}

func TestCatalogAndCirculationFlow(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "admin123\n", "publisher", "add", "Ace Books", "--user", "admin")
	require.NoError(t, err)
	assert.Equal(t, "Added publisher ID 1.\n", out)

	out, err = runCLI(t, "admin123\n", "book", "add", "--user", "admin",
		"--title", "dune", "--summary", "Sand.", "--isbn", "978-0-441-17271-9",
		"--language", "en", "--year", "1965", "--publisher", "1", "--copies", "2",
		"--author", "Frank Herbert", "--genre", "Science Fiction")
	require.Error(t, err, "lowercase titles are rejected")
	assert.Empty(t, out)

	out, err = runCLI(t, "admin123\n", "book", "add", "--user", "admin",
		"--title", "Dune", "--summary", "Sand.", "--isbn", "978-0-441-17271-9",
		"--language", "en", "--year", "1965", "--publisher", "1", "--copies", "2",
		"--author", "Frank Herbert", "--genre", "Science Fiction")
	require.NoError(t, err)
	assert.Equal(t, "Added book ID 1.\n", out)

	out, err = runCLI(t, "", "book", "search", "herbert", "--json")
	require.NoError(t, err)
	var books []library.Book
	require.NoError(t, json.Unmarshal([]byte(out), &books))
	require.Len(t, books, 1)
	assert.Equal(t, "9780441172719", books[0].ISBN)
	assert.Equal(t, "English", books[0].Language)
	assert.Equal(t, 2, books[0].AvailableCopies)

	_, err = runCLI(t, "client123\n", "book", "delete", "1", "--user", "client")
	require.ErrorIs(t, err, library.ErrForbidden)

	// Seeded users are admin=1, manager=2, client=3.
	out, err = runCLI(t, "manager123\n", "loan", "create", "--user", "manager",
		"--customer", "3", "--copy", "1", "--due", "2099-01-31")
	require.NoError(t, err)
	assert.Equal(t, "Loan 1 created, due 2099-01-31.\n", out)

	out, err = runCLI(t, "client123\n", "loan", "list", "--user", "client", "--json")
	require.NoError(t, err)
	var loans []library.Loan
	require.NoError(t, json.Unmarshal([]byte(out), &loans))
	require.Len(t, loans, 1)
	assert.Equal(t, "Dune", loans[0].BookTitle)

	out, err = runCLI(t, "client123\n", "reserve", "1", "--user", "client")
	require.NoError(t, err)
	assert.Equal(t, "Reservation 1 created.\n", out)

	out, err = runCLI(t, "manager123\n", "reservation", "advance", "1", "--user", "manager")
	require.NoError(t, err)
	assert.Equal(t, "Reservation 1 is now READY.\n", out)

	out, err = runCLI(t, "manager123\n", "loan", "return", "1", "--user", "manager")
	require.NoError(t, err)
	assert.Equal(t, "Loan 1 returned.\n", out)

	_, err = runCLI(t, "manager123\n", "stats", "--user", "manager")
	require.ErrorIs(t, err, library.ErrForbidden)

	out, err = runCLI(t, "admin123\n", "stats", "--user", "admin", "--json")
	require.NoError(t, err)
	var report struct {
		TotalBooks  int64             `json:"total_books"`
		TotalCopies int64             `json:"total_copies"`
		TopBooks    []library.TopBook `json:"top_books"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.EqualValues(t, 1, report.TotalBooks)
	assert.EqualValues(t, 2, report.TotalCopies)
	require.Len(t, report.TopBooks, 1)
	assert.EqualValues(t, 1, report.TopBooks[0].Times)
}

func TestRegisterCustomerPromptsForPassword(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "manager123\nsecret\n", "customer", "register", "--user", "manager",
		"--username", "reader", "--first-name", "Ann", "--last-name", "Lee", "--email", "ann@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "Registered customer reader with ID 4.\n", out)

	out, err = runCLI(t, "secret\n", "whoami", "--user", "reader")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee (reader), role CLIENT\n", out)
}

func editFlagsCommand(bf *bookFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "edit"}
	bf.register(cmd.Flags())
	return cmd
}

func TestBookFlagsOnlyApplyChanged(t *testing.T) {
	year := 1965
	f := library.BookForm{
		Title: "Dune", ISBN: "9780441172719", PublicationYear: &year, Copies: 3,
		Authors: []library.Author{{ID: 7, FullName: "Frank Herbert"}},
	}
	var bf bookFlags
	cmd := editFlagsCommand(&bf)
	require.NoError(t, cmd.ParseFlags([]string{"--copies", "5", "--author", "Brian Herbert", "--author", "Kevin J. Anderson"}))

	bf.apply(cmd.Flags(), &f)
	assert.Equal(t, "Dune", f.Title)
	assert.Equal(t, 5, f.Copies)
	assert.Equal(t, &year, f.PublicationYear)
	assert.Equal(t, []library.Author{{FullName: "Brian Herbert"}, {FullName: "Kevin J. Anderson"}}, f.Authors)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "Dune", truncateString("Dune", 10))
	assert.Equal(t, "Über d...", truncateString("Über den Wolken", 9))
	assert.Equal(t, "Üb", truncateString("Über", 2))
}
