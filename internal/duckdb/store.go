// Package duckdb is the request/employee store. Every repository call runs
// through a dbmon.Monitor so slow queries, failures and N+1 access show up
// in the diagnostic log.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/diagd/internal/dbmon"
	"github.com/tinytelemetry/diagd/internal/duckdb/migrate"
)

// ErrNotFound is returned by point reads and updates that match no row.
var ErrNotFound = errors.New("record not found")

// Store manages the DuckDB connection and the monitored repository methods.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	mon          *dbmon.Monitor
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used. A nil mon gets a
// private monitor without a logger. An optional queryTimeout can be passed;
// it defaults to 30s.
func NewStore(dbPath string, mon *dbmon.Monitor, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := migrate.NewRunner(db).Run(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	qt := 30 * time.Second
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}
	if mon == nil {
		mon = dbmon.New(dbmon.Config{})
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		mon:          mon,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB. Queries issued on it are not monitored.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Monitor returns the query monitor observing this store.
func (s *Store) Monitor() *dbmon.Monitor {
	return s.mon
}

// queryCtx bounds ctx by QueryTimeout.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.QueryTimeout)
}

// Probe runs SELECT 1 outside the monitor, for health checks.
func (s *Store) Probe(ctx context.Context) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	return nil
}

// Connected reports whether Probe succeeds.
func (s *Store) Connected(ctx context.Context) bool {
	return s.Probe(ctx) == nil
}

// TableRowCounts returns the row count of each domain table.
func (s *Store) TableRowCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	counts := make(map[string]int64, 2)
	for _, table := range []string{"employees", "requests"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
