package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema is returned when a previous migration run failed halfway.
// The schema must be repaired by hand before gitwatch can start.
var ErrDirtySchema = errors.New("database schema is dirty")

// migrateLogger routes golang-migrate's progress output to zerolog.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	log.Debug().Str("component", "migrate").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool { return false }

// RunMigrations brings the credential and checkpoint schema up to date and
// returns the resulting schema version. Canceling ctx stops between
// migrations.
func RunMigrations(ctx context.Context, db *DB) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db.Writer, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	m.Log = migrateLogger{}

	from, err := schemaVersion(m)
	if err != nil {
		return 0, err
	}

	stop := context.AfterFunc(ctx, func() { m.GracefulStop <- true })
	defer stop()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}

	to, err := schemaVersion(m)
	if err != nil {
		return 0, err
	}

	if to != from {
		log.Info().Uint("from", from).Uint("to", to).Str("path", db.Path()).Msg("database schema migrated")
	} else {
		log.Debug().Uint("version", to).Msg("database schema up to date")
	}
	return to, nil
}

// schemaVersion reports the applied version, 0 for a fresh database.
func schemaVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}
