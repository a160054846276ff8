package main

import (
	"fmt"
	"strings"

	"library-catalog/library"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// bookFlags are shared by book add and book edit.
type bookFlags struct {
	title, summary, isbn, language string
	year, copies                   int
	publisherID                    int64
	authors, genres                []string
	image                          string
}

func (bf *bookFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&bf.title, "title", "", "title")
	fs.StringVar(&bf.summary, "summary", "", "summary")
	fs.StringVar(&bf.isbn, "isbn", "", "13 digit ISBN, dashes and spaces allowed")
	fs.StringVar(&bf.language, "language", "", "language name or two letter code")
	fs.IntVar(&bf.year, "year", 0, "publication year")
	fs.IntVar(&bf.copies, "copies", 1, "number of copies")
	fs.Int64Var(&bf.publisherID, "publisher", 0, "publisher ID")
	fs.StringArrayVar(&bf.authors, "author", nil, "author full name (repeatable)")
	fs.StringArrayVar(&bf.genres, "genre", nil, "genre name (repeatable)")
	fs.StringVar(&bf.image, "image", "", "cover image file to copy into the image store")
}

// apply copies the flags that were given onto f.
func (bf *bookFlags) apply(fs *pflag.FlagSet, f *library.BookForm) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("title", func() { f.Title = bf.title })
	set("summary", func() { f.Summary = bf.summary })
	set("isbn", func() { f.ISBN = bf.isbn })
	set("language", func() { f.Language = bf.language })
	set("copies", func() { f.Copies = bf.copies })
	set("publisher", func() { f.PublisherID = bf.publisherID })
	set("image", func() { f.ImageSource = bf.image })
	set("year", func() {
		if bf.year == 0 {
			f.PublicationYear = nil
			return
		}
		y := bf.year
		f.PublicationYear = &y
	})
	set("author", func() {
		f.Authors = f.Authors[:0]
		for _, name := range bf.authors {
			f.Authors = append(f.Authors, library.Author{FullName: name})
		}
	})
	set("genre", func() {
		f.Genres = f.Genres[:0]
		for _, name := range bf.genres {
			f.Genres = append(f.Genres, library.Genre{Name: name})
		}
	})
}

func (a *app) bookCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage and browse books"}

	var add bookFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book with its copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageCatalog)
			if err != nil {
				return err
			}
			var f library.BookForm
			add.apply(cmd.Flags(), &f)
			if f.Copies == 0 && !cmd.Flags().Changed("copies") {
				f.Copies = add.copies
			}
			id, err := a.mgr.AddBook(cmd.Context(), u, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added book ID %d.\n", id)
			return nil
		},
	}
	add.register(addCmd.Flags())

	var edit bookFlags
	editCmd := &cobra.Command{
		Use:   "edit <book-id>",
		Short: "Change a book; only the given flags are updated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageCatalog)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			f, err := a.mgr.GetBookForEdit(cmd.Context(), id)
			if err != nil {
				return err
			}
			edit.apply(cmd.Flags(), f)
			if err := a.mgr.UpdateBook(cmd.Context(), u, id, *f); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated book ID %d.\n", id)
			return nil
		},
	}
	edit.register(editCmd.Flags())

	deleteCmd := &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book that has nothing on loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageCatalog)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), u, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted book ID %d.\n", id)
			return nil
		},
	}

	var filter library.BookFilter
	searchCmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search title, ISBN, publisher, author, genre, language and year",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				filter.Query = args[0]
			}
			books, err := a.mgr.SearchBooks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(books)
			}
			if len(books) == 0 {
				fmt.Fprintln(a.out, "No books found.")
				return nil
			}
			fmt.Fprintf(a.out, "%-5s %-30s %-13s %-12s %-5s %-20s %s\n",
				"ID", "Title", "ISBN", "Language", "Year", "Publisher", "Avail")
			fmt.Fprintln(a.out, strings.Repeat("-", 96))
			for i := range books {
				b := books[i]
				b.Title = truncateString(b.Title, 30)
				b.PublisherName = truncateString(b.PublisherName, 20)
				fmt.Fprintln(a.out, library.PrettyBook(&b))
			}
			return nil
		},
	}
	searchCmd.Flags().Int64Var(&filter.GenreID, "genre", 0, "only this genre ID")
	searchCmd.Flags().StringVar(&filter.Language, "language", "", "only this language")

	showCmd := &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show one book; with --user also whether you can borrow or reserve it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showBook(cmd, args[0])
		},
	}

	cmd.AddCommand(addCmd, editCmd, deleteCmd, searchCmd, showCmd)
	return cmd
}

type bookDetails struct {
	*library.Book
	Authors      []library.Author      `json:"authors"`
	Genres       []library.Genre       `json:"genres"`
	Availability *library.Availability `json:"availability,omitempty"`
}

func (a *app) showBook(cmd *cobra.Command, arg string) error {
	ctx := cmd.Context()
	id, err := parseID(arg, "book")
	if err != nil {
		return err
	}
	b, err := a.mgr.GetBook(ctx, id)
	if err != nil {
		return err
	}
	d := bookDetails{Book: b}
	if d.Authors, err = a.mgr.BookAuthors(ctx, id); err != nil {
		return err
	}
	if d.Genres, err = a.mgr.BookGenres(ctx, id); err != nil {
		return err
	}
	if a.username != "" {
		u, err := a.login(cmd)
		if err != nil {
			return err
		}
		av, err := a.mgr.Availability(ctx, u.ID, id)
		if err != nil {
			return err
		}
		d.Availability = &av
	}
	if a.jsonOut {
		return a.printJSON(d)
	}

	names := func(n int, at func(int) string) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = at(i)
		}
		return strings.Join(parts, ", ")
	}
	year := "-"
	if b.PublicationYear != nil {
		year = fmt.Sprint(*b.PublicationYear)
	}
	fmt.Fprintf(a.out, "%s (ID %d)\n", b.Title, b.ID)
	fmt.Fprintf(a.out, "  Authors:   %s\n", names(len(d.Authors), func(i int) string { return d.Authors[i].FullName }))
	fmt.Fprintf(a.out, "  Genres:    %s\n", names(len(d.Genres), func(i int) string { return d.Genres[i].Name }))
	fmt.Fprintf(a.out, "  ISBN:      %s\n", b.ISBN)
	fmt.Fprintf(a.out, "  Language:  %s\n", b.Language)
	fmt.Fprintf(a.out, "  Year:      %s\n", year)
	fmt.Fprintf(a.out, "  Publisher: %s\n", b.PublisherName)
	fmt.Fprintf(a.out, "  Copies:    %d available of %d\n", b.AvailableCopies, b.CopyCount)
	if b.ImagePath != nil {
		fmt.Fprintf(a.out, "  Cover:     %s\n", *b.ImagePath)
	}
	fmt.Fprintf(a.out, "\n%s\n", b.Summary)
	if av := d.Availability; av != nil {
		switch {
		case av.HasActiveReservation:
			fmt.Fprintln(a.out, "\nYou already have an active reservation for this book.")
		case av.CanBorrow:
			fmt.Fprintln(a.out, "\nAvailable to borrow at the desk, or reserve it.")
		default:
			fmt.Fprintln(a.out, "\nNo copies on the shelf; you can reserve it.")
		}
	}
	return nil
}

func (a *app) authorCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "author", Short: "Manage authors"}

	var born string
	addCmd := &cobra.Command{
		Use:   "add <full-name>",
		Short: "Add an author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageCatalog)
			if err != nil {
				return err
			}
			birth, err := parseDate(born)
			if err != nil {
				return err
			}
			id, err := a.mgr.AddAuthor(cmd.Context(), u, args[0], birth)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added author ID %d.\n", id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&born, "born", "", "birth date, YYYY-MM-DD")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List authors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authors, err := a.mgr.ListAuthors(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(authors)
			}
			for _, au := range authors {
				fmt.Fprintf(a.out, "%-5d %-35s %s\n", au.ID, au.FullName, formatDate(au.BirthDate))
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func (a *app) genreCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "genre", Short: "Manage genres"}

	var description string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a genre",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageCatalog)
			if err != nil {
				return err
			}
			id, err := a.mgr.AddGenre(cmd.Context(), u, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added genre ID %d.\n", id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&description, "description", "", "short description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List genres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			genres, err := a.mgr.ListGenres(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(genres)
			}
			for _, g := range genres {
				desc := ""
				if g.Description != nil {
					desc = *g.Description
				}
				fmt.Fprintf(a.out, "%-5d %-25s %s\n", g.ID, g.Name, truncateString(desc, 50))
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func (a *app) publisherCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "publisher", Short: "Manage publishers"}

	var established string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a publisher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageCatalog)
			if err != nil {
				return err
			}
			on, err := parseDate(established)
			if err != nil {
				return err
			}
			id, err := a.mgr.AddPublisher(cmd.Context(), u, args[0], on)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added publisher ID %d.\n", id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&established, "established", "", "founding date, YYYY-MM-DD")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List publishers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pubs, err := a.mgr.ListPublishers(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(pubs)
			}
			for _, p := range pubs {
				fmt.Fprintf(a.out, "%-5d %-35s %s\n", p.ID, p.Name, formatDate(p.EstablishedOn))
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func (a *app) languagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages books are written in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			langs, err := a.mgr.ListLanguages(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(langs)
			}
			for _, l := range langs {
				fmt.Fprintln(a.out, l)
			}
			return nil
		},
	}
}

func (a *app) copiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "copies",
		Short: "List copies on the shelf",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			copies, err := a.mgr.AvailableCopies(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(copies)
			}
			for _, c := range copies {
				fmt.Fprintf(a.out, "%-6d book %-5d %s\n", c.ID, c.BookID, c.BookTitle)
			}
			return nil
		},
	}
}
