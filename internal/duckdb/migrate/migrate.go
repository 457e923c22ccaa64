// Package migrate applies the embedded, versioned schema files to a DuckDB
// database. Files are named <version>_<name>.sql and run in version order.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Runner applies pending migrations.
type Runner struct{ db *sql.DB }

func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var migs []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("parsing version from %s: %w", e.Name(), err)
		}
		data, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		migs = append(migs, migration{version: ver, name: e.Name(), sql: string(data)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

func (r *Runner) bootstrap(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	return err
}

func (r *Runner) appliedVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Run applies every pending migration, each in its own transaction, and
// returns the names applied.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	if err := r.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	migs, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	current, err := r.appliedVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied version: %w", err)
	}

	var applied []string
	for _, m := range migs {
		if m.version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return applied, err
		}
		applied = append(applied, m.name)
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		tx.Rollback()
		return fmt.Errorf("executing %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.name, err)
	}
	return nil
}

// Status returns the applied version and how many migrations are pending.
func (r *Runner) Status(ctx context.Context) (current int, pending int, err error) {
	if err = r.bootstrap(ctx); err != nil {
		return 0, 0, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	if current, err = r.appliedVersion(ctx); err != nil {
		return 0, 0, fmt.Errorf("reading applied version: %w", err)
	}
	migs, err := loadMigrations()
	if err != nil {
		return 0, 0, err
	}
	for _, m := range migs {
		if m.version > current {
			pending++
		}
	}
	return current, pending, nil
}
