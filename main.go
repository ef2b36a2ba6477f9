package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"library-circulation/config"
	"library-circulation/library"
)

type rootFlags struct {
	envFile  string
	driver   string
	dsn      string
	logFile  string
	logLevel string
	dev      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "library",
		Short:         "Library circulation manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsole(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", ".env", "optional .env file with LIBRARY_* settings")
	pf.StringVar(&flags.driver, "driver", "", "store driver: sqlite3 or postgres")
	pf.StringVar(&flags.dsn, "db", "", "sqlite file path or postgres connection string")
	pf.StringVar(&flags.logFile, "log-file", "", "log file (ignored with --dev)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.dev, "dev", false, "log to stderr instead of the log file")

	root.AddCommand(
		&cobra.Command{
			Use:   "console",
			Short: "Log in and run the interactive circulation console",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runConsole(cmd, flags)
			},
		},
		newInitCmd(flags),
		newStatsCmd(flags),
	)
	return root
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, cleanup, err := openManager(cmd, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			fresh, err := mgr.NeedsBootstrap(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema ready.")
			if fresh {
				fmt.Fprintln(cmd.OutOrStdout(), "No librarian account yet: run the console and choose 'create account'.")
			}
			return nil
		},
	}
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print library statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, cleanup, err := openManager(cmd, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := mgr.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printStats(w io.Writer, s *library.Stats) {
	fmt.Fprintf(w, "Total books: %d\n", s.TotalBooks)
	fmt.Fprintf(w, "Total members: %d\n", s.TotalMembers)
	fmt.Fprintf(w, "Books currently issued: %d\n", s.IssuedBooks)
	fmt.Fprintf(w, "Overdue books: %d\n", s.OverdueBooks)
}

func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return cfg, err
	}
	changed := cmd.Flags().Changed
	if changed("driver") {
		cfg.DBDriver = flags.driver
	}
	if changed("db") {
		cfg.DBDSN = flags.dsn
	}
	if changed("log-file") {
		cfg.LogFile = flags.logFile
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("dev") {
		cfg.Dev = flags.dev
	}
	return cfg, cfg.Validate()
}

// newLogger writes to the log file, or to stderr in dev mode.
func newLogger(cfg config.Config) (zerolog.Logger, func(), error) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Dev {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(cfg.Level()).With().Timestamp().Logger()
		return logger, func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: f, NoColor: true}).Level(cfg.Level()).With().Timestamp().Logger()
	return logger, func() { f.Close() }, nil
}

func openManager(cmd *cobra.Command, flags *rootFlags) (*library.LibraryManager, zerolog.Logger, func(), error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	mgr, err := library.NewLibraryManager(cfg.DBDriver, cfg.DBDSN,
		library.WithLogger(logger),
		library.WithFinePerDay(cfg.FinePerDay),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		closeLog()
		return nil, zerolog.Nop(), nil, err
	}
	return mgr, logger, func() {
		mgr.Close()
		closeLog()
	}, nil
}

func runConsole(cmd *cobra.Command, flags *rootFlags) error {
	mgr, logger, cleanup, err := openManager(cmd, flags)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return newConsole(ctx, mgr, logger, os.Stdin, cmd.OutOrStdout()).run()
}
