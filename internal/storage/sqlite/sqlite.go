// Package sqlite implements the C1 persistence ports on top of
// modernc.org/sqlite, a pure-Go SQLite driver. The connection-opening
// pattern (WAL mode, busy-timeout DSN, restrictive file permissions) is
// grounded on mercator-hq-jupiter's pkg/limits/storage/sqlite.go, adapted
// here to serve two independent database files (config.db, security.db)
// per spec §6 instead of one generic key-value backend.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// OpenOptions configures a shared SQLite connection.
type OpenOptions struct {
	Path        string
	ReadOnly    bool
	BusyTimeout time.Duration
	MaxOpenConns int
}

// DB wraps *sql.DB with the read-only flag every repo consults before any
// write (spec §5: "any write attempt returns ReadOnlyMode without touching
// the database").
type DB struct {
	*sql.DB
	readOnly bool
	mu       sync.Mutex
}

func (d *DB) ReadOnly() bool { return d.readOnly }

// Open opens (creating if absent) a SQLite database file with WAL mode and
// a busy timeout, and ensures the file is created with mode 0600 on POSIX,
// per spec §6 ("On POSIX, both files must be created with mode 0600").
func Open(opts OpenOptions) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10 // spec §5 default connection pool size
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
	}

	// touch the file first so we can control its permission bits before
	// the driver opens it; modernc.org/sqlite will create it otherwise
	// with the process umask.
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		f, cerr := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0o600)
		if cerr != nil {
			return nil, fmt.Errorf("sqlite: create %s: %w", opts.Path, cerr)
		}
		f.Close()
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(opts.Path, 0o600); err != nil {
			return nil, fmt.Errorf("sqlite: chmod %s: %w", opts.Path, err)
		}
	}

	mode := "rwc"
	if opts.ReadOnly {
		mode = "ro"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		opts.Path, mode, opts.BusyTimeout.Milliseconds())

	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", opts.Path, err)
	}
	sdb.SetMaxOpenConns(opts.MaxOpenConns)
	sdb.SetMaxIdleConns(opts.MaxOpenConns)

	db := &DB{DB: sdb, readOnly: opts.ReadOnly}
	return db, nil
}

// Migrate runs the given idempotent DDL statements in order.
func (d *DB) Migrate(stmts []string) error {
	for _, s := range stmts {
		if _, err := d.Exec(s); err != nil {
			return fmt.Errorf("sqlite: migration failed: %w", err)
		}
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
