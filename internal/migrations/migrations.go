// Package migrations owns the Postgres schema store tables: the pgvector
// documents table and the match_documents similarity function.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "snowchat_schema_migrations"

// Files are named <version>_<name>.<up|down>.sql.
var fileName = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

type VersionStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

type Runner struct {
	fsys   fs.FS
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{fsys: embeddedFS, logger: logger}
}

// Up applies pending migrations oldest first. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	pending, _, err := r.plan(ctx, db)
	if err != nil {
		return 0, err
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}
	for i, m := range pending {
		if err := r.step(ctx, db, m.Version, m.Up, `INSERT INTO `+versionTable+` (version) VALUES ($1)`); err != nil {
			return i, fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		r.log().InfoContext(ctx, "migration applied", slog.Int64("version", m.Version), slog.String("name", m.Name))
	}
	return len(pending), nil
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	_, applied, err := r.plan(ctx, db)
	if err != nil {
		return 0, err
	}
	slices.Reverse(applied)
	if len(applied) > steps {
		applied = applied[:steps]
	}
	for i, m := range applied {
		if err := r.step(ctx, db, m.Version, m.Down, `DELETE FROM `+versionTable+` WHERE version = $1`); err != nil {
			return i, fmt.Errorf("roll back migration %d: %w", m.Version, err)
		}
		r.log().InfoContext(ctx, "migration rolled back", slog.Int64("version", m.Version), slog.String("name", m.Name))
	}
	return len(applied), nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]VersionStatus, error) {
	known, err := load(r.fsys)
	if err != nil {
		return nil, err
	}
	appliedAt, err := readApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]VersionStatus, 0, len(known))
	for _, m := range known {
		at, ok := appliedAt[m.Version]
		out = append(out, VersionStatus{Version: m.Version, Name: m.Name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// plan splits the known migrations into pending and applied, both ascending.
// An applied version with no source file is an error.
func (r *Runner) plan(ctx context.Context, db *sql.DB) ([]Migration, []Migration, error) {
	known, err := load(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	appliedAt, err := readApplied(ctx, db)
	if err != nil {
		return nil, nil, err
	}

	var pending, applied []Migration
	for _, m := range known {
		if _, ok := appliedAt[m.Version]; ok {
			applied = append(applied, m)
			delete(appliedAt, m.Version)
			continue
		}
		pending = append(pending, m)
	}
	for version := range appliedAt {
		return nil, nil, fmt.Errorf("applied migration %d is missing from source", version)
	}
	return pending, applied, nil
}

func (r *Runner) step(ctx context.Context, db *sql.DB, version int64, script, bookkeeping string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func (r *Runner) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

func readApplied(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("ensure version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+versionTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[int64]time.Time{}
	for rows.Next() {
		var version int64
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		out[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	return out, nil
}

// load reads and pairs the up/down files under sql/, sorted by version.
func load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*Migration{}
	for _, entry := range entries {
		match := fileName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: match[2]}
			byVersion[version] = m
		}
		if match[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		switch {
		case strings.TrimSpace(m.Up) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", m.Version)
		case strings.TrimSpace(m.Down) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return out, nil
}
