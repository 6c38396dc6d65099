// Package database provides helpers for opening PostgreSQL and applying migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
)

// Migrator applies plain .up.sql migrations in lexical order.
type Migrator struct {
	db  *sql.DB
	log *slog.Logger
}

// NewMigrator constructs a Migrator that logs through the provided logger instance.
func NewMigrator(db *sql.DB, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}

	return &Migrator{
		db:  db,
		log: log,
	}
}

// ApplyDir applies the migrations found in a directory on disk.
func (m *Migrator) ApplyDir(ctx context.Context, dir string) error {
	return m.ApplyFS(ctx, os.DirFS(dir), ".")
}

// ApplyFS finds *.up.sql under root in fsys, sorts them, and executes them sequentially.
func (m *Migrator) ApplyFS(ctx context.Context, fsys fs.FS, root string) error {
	names, err := ListMigrations(fsys, root)
	if err != nil {
		return fmt.Errorf("list migrations in %q: %w", root, err)
	}

	baseLog := m.log.With(slog.String("root", root))

	if len(names) == 0 {
		baseLog.Info("no .up.sql migrations found")
		return nil
	}

	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("read migration %q: %w", name, err)
		}

		if err := m.apply(ctx, baseLog.With(slog.String("file", name)), name, string(data)); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, log *slog.Logger, name, script string) error {
	statement := strings.TrimSpace(script)
	if len(statement) == 0 {
		log.Warn("migration is empty, skipping")
		return nil
	}

	log.Info("applying migration")

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %q: %w", name, err)
	}

	if _, execErr := tx.ExecContext(ctx, statement); execErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error("rollback error", "error", rbErr)
		}
		return fmt.Errorf("execute migration %q: %w", name, execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %q: %w", name, commitErr)
	}

	return nil
}

func isUpMigration(name string) bool {
	return strings.HasSuffix(name, ".up.sql")
}

// ListMigrations returns all .up.sql files in root in lexical order.
func ListMigrations(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isUpMigration(e.Name()) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
