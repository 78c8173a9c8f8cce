// Package sqlite is the SQLite-backed storage.Store, built on the pure-Go
// modernc.org/sqlite driver. The schema lives in embedded goose migrations
// applied on open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Store splits SQLite access into one writer connection and a reader pool,
// which is what WAL mode allows.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens path (or ":memory:"), migrates it to the latest schema and
// returns the Store.
func New(path string) (*Store, error) {
	dsn := dataSource(path)

	write, err := openPool(dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	read, err := openPool(dsn, max(4, runtime.NumCPU()))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open readers: %w", err)
	}

	s := &Store{write: write, read: read}
	if err := s.migrate(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// dataSource builds the driver DSN. An in-memory database uses a shared
// cache so the writer and the readers see the same data.
func dataSource(path string) string {
	params := make([]string, 0, len(pragmas)+2)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	if path == ":memory:" {
		params = append(params, "mode=memory", "cache=shared")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func openPool(dsn string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	return db, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.write, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	applied, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range applied {
		slog.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Ping checks the reader pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
