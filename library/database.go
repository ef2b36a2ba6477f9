package library

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	logMsgSQLExecuted  = "executed sql"
	logMsgStoreFailed  = "store operation failed"
	logMsgRejected     = "operation rejected"
	logAttrQuery       = "query"
	logAttrDurationMS  = "duration_ms"
	logAttrBookID      = "book_id"
	logAttrMemberID    = "member_id"
	logAttrIssueID     = "issue_id"
	logAttrRows        = "rows_affected"
	logAttrOperation   = "operation"
	pingTimeout        = 10 * time.Second
	postgresMaxConns   = 25
	postgresIdleConns  = 5
	postgresConnMaxAge = time.Hour
)

// Database is the relational store behind the library: catalog, copies,
// members, librarians and issue records.
type Database struct {
	db         *sqlx.DB
	driver     string
	dialect    goqu.DialectWrapper
	log        zerolog.Logger
	now        func() time.Time
	finePerDay float64
}

// Option configures a Database.
type Option func(*Database) error

// WithLogger sets the logging sink. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Database) error {
		d.log = logger
		return nil
	}
}

// WithClock replaces time.Now for issue and due date arithmetic.
func WithClock(now func() time.Time) Option {
	return func(d *Database) error {
		if now == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidInput)
		}
		d.now = now
		return nil
	}
}

// WithFinePerDay sets the amount reported per overdue day on return.
func WithFinePerDay(amount float64) Option {
	return func(d *Database) error {
		if amount < 0 || math.IsNaN(amount) {
			return fmt.Errorf("%w: fine per day must be >= 0", ErrInvalidInput)
		}
		d.finePerDay = amount
		return nil
	}
}

// NewDatabase opens the store for driver, provisions the schema and returns
// a ready handle. For sqlite3 the dsn is a file path; the parent directory
// is created on first run.
func NewDatabase(driver, dsn string, options ...Option) (*Database, error) {
	d := &Database{
		driver: driver,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}

	var err error
	switch driver {
	case DriverSQLite:
		d.db, err = openSQLite(dsn)
	case DriverPostgres:
		d.db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, driver)
	}
	if err != nil {
		return nil, err
	}
	d.dialect = goqu.Dialect(driver)

	if err := d.applyMigrations(context.Background()); err != nil {
		d.db.Close()
		return nil, err
	}
	return d, nil
}

// sqliteParams are required on every SQLite connection. Immediate
// transactions take the write lock on BEGIN, so two sessions can never both
// read the same on-shelf count and write.
var sqliteParams = []struct {
	key, value string
	aliases    []string
}{
	{"_busy_timeout", "5000", []string{"_timeout"}},
	{"_foreign_keys", "1", []string{"_fk"}},
	{"_txlock", "immediate", nil},
}

// sqliteDSN turns a file path or file: URI into a DSN carrying sqliteParams.
// Parameters already present in a file: URI are left as given.
func sqliteDSN(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	_, query, _ := strings.Cut(dsn, "?")
	present := map[string]bool{}
	for _, kv := range strings.Split(query, "&") {
		if k, _, _ := strings.Cut(kv, "="); k != "" {
			present[k] = true
		}
	}

	var missing []string
	for _, p := range sqliteParams {
		found := present[p.key]
		for _, a := range p.aliases {
			found = found || present[a]
		}
		if !found {
			missing = append(missing, p.key+"="+p.value)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

func openSQLite(path string) (*sqlx.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	dsn := sqliteDSN(path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("open sqlite: %w", err))
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("enable WAL: %w", err))
	}
	return db, nil
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("open postgres: %w", err))
	}
	db.SetMaxOpenConns(postgresMaxConns)
	db.SetMaxIdleConns(postgresIdleConns)
	db.SetConnMaxLifetime(postgresConnMaxAge)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Join(ErrStoreUnavailable, fmt.Errorf("ping postgres: %w", err))
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error { return d.db.Close() }

// Driver reports which store driver is in use.
func (d *Database) Driver() string { return d.driver }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 2

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		book_id INTEGER PRIMARY KEY AUTOINCREMENT,
		isbn TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		author TEXT NOT NULL,
		publication TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		publication_year INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0,
		book_type TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS copies (
		book_id INTEGER PRIMARY KEY REFERENCES books(book_id) ON DELETE CASCADE,
		availability BOOLEAN NOT NULL DEFAULT 1,
		current_copies INTEGER NOT NULL DEFAULT 1,
		total_copies INTEGER NOT NULL DEFAULT 1,
		CHECK (current_copies >= 0 AND current_copies <= total_copies)
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		member_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		mobile_no TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL DEFAULT '',
		subscription TEXT NOT NULL DEFAULT '',
		membership_start_date DATE NOT NULL,
		membership_end_date DATE,
		borrow_limit INTEGER NOT NULL DEFAULT 5
	);`,
	`CREATE TABLE IF NOT EXISTS librarians (
		librarian_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		mobile_no TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS book_issues (
		issue_id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES copies(book_id),
		member_id INTEGER NOT NULL REFERENCES members(member_id),
		issue_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		actual_return_date DATETIME,
		fine REAL NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_book_issues_loan ON book_issues(book_id, member_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		book_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		isbn TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		author TEXT NOT NULL,
		publication TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		publication_year INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0,
		book_type TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS copies (
		book_id BIGINT PRIMARY KEY REFERENCES books(book_id) ON DELETE CASCADE,
		availability BOOLEAN NOT NULL DEFAULT TRUE,
		current_copies INTEGER NOT NULL DEFAULT 1,
		total_copies INTEGER NOT NULL DEFAULT 1,
		CHECK (current_copies >= 0 AND current_copies <= total_copies)
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		member_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name TEXT NOT NULL,
		mobile_no TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL DEFAULT '',
		subscription TEXT NOT NULL DEFAULT '',
		membership_start_date DATE NOT NULL,
		membership_end_date DATE,
		borrow_limit INTEGER NOT NULL DEFAULT 5
	);`,
	`CREATE TABLE IF NOT EXISTS librarians (
		librarian_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name TEXT NOT NULL,
		mobile_no TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS book_issues (
		issue_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		book_id BIGINT NOT NULL REFERENCES copies(book_id),
		member_id BIGINT NOT NULL REFERENCES members(member_id),
		issue_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		actual_return_date TIMESTAMPTZ,
		fine DOUBLE PRECISION NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_book_issues_loan ON book_issues(book_id, member_id);`,
	// v2: isbn was VARCHAR(13), which rejected hyphenated ISBN-13s.
	`ALTER TABLE books ALTER COLUMN isbn TYPE TEXT;`,
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return storeErr(fmt.Errorf("create meta: %w", err))
	}

	var current string
	_ = d.db.GetContext(ctx, &current, `SELECT value FROM meta WHERE key='schema_version';`)
	if current == fmt.Sprint(schemaVersion) {
		return nil
	}

	schema := sqliteSchema
	if d.driver == DriverPostgres {
		schema = postgresSchema
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storeErr(fmt.Errorf("apply migration: %w", err))
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`), fmt.Sprint(schemaVersion)); err != nil {
		return storeErr(fmt.Errorf("record schema version: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	d.log.Info().Str("driver", d.driver).Int("schema_version", schemaVersion).Msg("schema provisioned")
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// today is the current instant, truncated to whole seconds so stored
// timestamps compare consistently as text in SQLite.
func (d *Database) today() time.Time {
	return d.now().UTC().Truncate(time.Second)
}

func (d *Database) logQuery(query string, start time.Time) {
	d.log.Debug().
		Str(logAttrQuery, query).
		Float64(logAttrDurationMS, durationToMilliseconds(time.Since(start))).
		Msg(logMsgSQLExecuted)
}

func (d *Database) fail(operation string, err error) error {
	d.log.Error().Err(err).Str(logAttrOperation, operation).Msg(logMsgStoreFailed)
	return err
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
