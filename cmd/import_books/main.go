package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"library-catalog/config"
	"library-catalog/library"
	"library-catalog/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// manifest is the import file. Books name their publisher; publishers that
// do not exist yet are created first.
type manifest struct {
	Publishers []struct {
		Name          string `json:"name"`
		EstablishedOn string `json:"established_on"`
	} `json:"publishers"`
	Books []manifestBook `json:"books"`
}

type manifestBook struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	ISBN            string   `json:"isbn"`
	Language        string   `json:"language"`
	PublicationYear *int     `json:"publication_year"`
	Publisher       string   `json:"publisher"`
	Copies          int      `json:"copies"`
	Authors         []string `json:"authors"`
	Genres          []string `json:"genres"`
	Image           string   `json:"image"`
}

func main() {
	var (
		configPath string
		fresh      bool
	)
	cmd := &cobra.Command{
		Use:           "import_books <manifest.json>",
		Short:         "Load books from a JSON manifest into the catalog",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, args[0], fresh)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "remove the SQLite database before importing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, manifestPath string, fresh bool) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return err
	}
	log := logger.Init(cfg.App.Env, cfg.App.LogLevel)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	if fresh {
		if cfg.Database.Driver != "sqlite3" {
			return errors.New("--fresh only works with the sqlite3 driver")
		}
		fmt.Println("Cleaning up existing database files...")
		for _, suffix := range []string{"", "-shm", "-wal"} {
			file := cfg.Database.Path + suffix
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	mgr, err := library.OpenLibraryManager(cfg.Database.Driver, cfg.Database.DataSource(),
		library.WithLogger(log),
		library.WithBcryptCost(cfg.Auth.BcryptCost),
		library.WithImageStore(library.NewImageStore(afero.NewOsFs(), cfg.Images.Dir)),
	)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer mgr.Close()
	if cfg.Seed.DemoUsers {
		if _, err := mgr.SeedDemoUsers(ctx); err != nil {
			return err
		}
	}

	publishers, err := publisherIndex(ctx, mgr)
	if err != nil {
		return err
	}
	for _, p := range m.Publishers {
		if err := ensurePublisher(ctx, mgr, publishers, p.Name, p.EstablishedOn); err != nil {
			return err
		}
	}

	fmt.Printf("Importing %d books from %s...\n", len(m.Books), manifestPath)
	successCount, errorCount := 0, 0
	for _, mb := range m.Books {
		fmt.Printf("Importing: %s... ", mb.Title)
		id, err := importBook(ctx, mgr, publishers, mb)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %d)\n", id)
		successCount++
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)
	if successCount > 0 {
		mgr.LogActivity(ctx, "import_books", "Imported books", fmt.Sprintf("%d from %s", successCount, manifestPath))
	}
	if errorCount > 0 {
		return fmt.Errorf("%d books could not be imported", errorCount)
	}
	return nil
}

func publisherIndex(ctx context.Context, mgr *library.LibraryManager) (map[string]int64, error) {
	pubs, err := mgr.ListPublishers(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int64, len(pubs))
	for _, p := range pubs {
		index[strings.ToLower(p.Name)] = p.ID
	}
	return index, nil
}

func ensurePublisher(ctx context.Context, mgr *library.LibraryManager, index map[string]int64, name, established string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("publisher without a name in manifest")
	}
	if _, ok := index[strings.ToLower(name)]; ok {
		return nil
	}
	var est *time.Time
	if established = strings.TrimSpace(established); established != "" {
		t, err := time.Parse(time.DateOnly, established)
		if err != nil {
			return fmt.Errorf("publisher %s: invalid established_on %q", name, established)
		}
		est = &t
	}
	id, err := mgr.AddPublisher(ctx, nil, name, est)
	if err != nil {
		return fmt.Errorf("publisher %s: %w", name, err)
	}
	index[strings.ToLower(name)] = id
	return nil
}

func importBook(ctx context.Context, mgr *library.LibraryManager, publishers map[string]int64, mb manifestBook) (int64, error) {
	if err := ensurePublisher(ctx, mgr, publishers, mb.Publisher, ""); err != nil {
		return 0, err
	}
	f := library.BookForm{
		Title:           mb.Title,
		Summary:         mb.Summary,
		ISBN:            mb.ISBN,
		Language:        mb.Language,
		PublicationYear: mb.PublicationYear,
		PublisherID:     publishers[strings.ToLower(strings.TrimSpace(mb.Publisher))],
		Copies:          mb.Copies,
		ImageSource:     mb.Image,
	}
	if f.Copies == 0 {
		f.Copies = 1
	}
	for _, a := range mb.Authors {
		f.Authors = append(f.Authors, library.Author{FullName: a})
	}
	for _, g := range mb.Genres {
		f.Genres = append(f.Genres, library.Genre{Name: g})
	}
	return mgr.AddBook(ctx, nil, f)
}
