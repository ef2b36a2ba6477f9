package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"library-circulation/config"
	"library-circulation/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// catalogEntry is one element of the catalog file: the book fields plus the
// number of copies to shelve.
type catalogEntry struct {
	library.Book
	Copies int `json:"copies"`
}

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env-file", ".env", "optional .env file with LIBRARY_* settings")
	catalog := flag.String("catalog", "catalog.json", "JSON array of books to import")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(cfg.Level()).With().Timestamp().Logger()

	entries, err := readCatalog(*catalog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading catalog: %v\n", err)
		return 1
	}

	manager, err := library.NewLibraryManager(cfg.DBDriver, cfg.DBDSN, library.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return 1
	}
	defer manager.Close()

	ctx := context.Background()
	fmt.Printf("Importing %d books from %s...\n", len(entries), *catalog)

	successCount := 0
	errorCount := 0
	for i := range entries {
		e := &entries[i]
		fmt.Printf("Importing: %s by %s... ", e.Name, e.Author)

		bookID, err := manager.AddBook(ctx, &e.Book, e.Copies)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %d, copies: %d)\n", bookID, e.Copies)
		successCount++
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	if successCount > 0 {
		fmt.Println("\nCatalog:")
		books, err := manager.ListBooks(ctx)
		if err != nil {
			fmt.Printf("Error retrieving books: %v\n", err)
		} else {
			fmt.Printf("%-5s %-14s %-30s %-22s %-7s %-5s\n", "ID", "ISBN", "Name", "Author", "Copies", "Avail")
			fmt.Println(strings.Repeat("-", 90))
			for _, b := range books {
				fmt.Println(library.PrettyBook(b))
			}
		}
	}
	if errorCount > 0 {
		return 1
	}
	return 0
}

func readCatalog(path string) ([]catalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []catalogEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}
