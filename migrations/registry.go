// Package migrations exposes the embedded connector schema per SQL dialect
// and hands it to a migration runner.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	connectors "github.com/goliatone/go-connectors"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	schemaRoot         = "data/sql/migrations"
	defaultSourceLabel = "go-connectors"
)

// Source is the migration tree of a single dialect. Postgres files live at
// the schema root and SQLite files in its sqlite subdirectory.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registration)

type registration struct {
	label    string
	dialects []string
	root     fs.FS
}

func WithSourceLabel(label string) Option {
	return func(r *registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.label = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects.
func WithDialects(dialects ...string) Option {
	return func(r *registration) {
		var next []string
		for _, dialect := range dialects {
			dialect = strings.ToLower(strings.TrimSpace(dialect))
			if dialect != "" && !slices.Contains(next, dialect) {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			r.dialects = next
		}
	}
}

// WithRoot replaces the embedded schema, mostly for tests.
func WithRoot(root fs.FS) Option {
	return func(r *registration) {
		if root != nil {
			r.root = root
		}
	}
}

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}

// Sources resolves the per-dialect trees under root, or under the embedded
// schema when root is nil. Every tree must hold at least one up migration.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = connectors.GetMigrationsFS()
	}
	base, err := fs.Sub(root, schemaRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", schemaRoot, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite schema: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: schemaRoot, FS: base},
		{Dialect: DialectSQLite, Path: schemaRoot + "/sqlite", FS: sqliteFS},
	}
	for _, source := range sources {
		matches, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s schema at %q has no up migrations", source.Dialect, source.Path)
		}
	}
	return sources, nil
}

// Register calls registerFn once per selected dialect and returns the
// sources it registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Source, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{
		label:    defaultSourceLabel,
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	sources, err := Sources(reg.root)
	if err != nil {
		return nil, err
	}
	var registered []Source
	for _, source := range sources {
		if !slices.Contains(reg.dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.label, source.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		registered = append(registered, source)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no schema for dialects %v", reg.dialects)
	}
	return registered, nil
}
