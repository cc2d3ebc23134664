package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	_ "modernc.org/sqlite"
)

var errStoreInUse = errors.New("store is in use by another kappanscan process")

//go:embed migrations/*.sql
var migrations embed.FS

// store is a small key-value table in SQLite holding the blacklist and the
// scanner settings as JSON documents. One process owns a store at a time:
// the blacklist is held in memory while scanning and written back whole.
type store struct {
	db   *sql.DB
	lock *os.File
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Fatal(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func openStore(path string) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	lock, err := lockStore(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = multierr.Combine(db.Close(), lock.Close())
		return nil, fmt.Errorf("pinging store: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := migrateStore(db); err != nil {
		_ = multierr.Combine(db.Close(), lock.Close())
		return nil, err
	}
	return &store{db: db, lock: lock}, nil
}

// lockStore takes an exclusive flock on path.lock. The lock goes away with
// the process, so a crashed scanner never leaves the store locked.
func lockStore(path string) (*os.File, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening store lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", errStoreInUse, path)
		}
		return nil, fmt.Errorf("locking store: %w", err)
	}
	return f, nil
}

func migrateStore(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (s *store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *store) Close() error {
	return multierr.Combine(s.db.Close(), s.lock.Close())
}
