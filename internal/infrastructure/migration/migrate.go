package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/entitlesync/engine/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// SchemaTable records the applied device cache schema version
const SchemaTable = "device_cache_schema_migrations"

// Migrator applies the versioned device cache schema to postgres
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New creates a Migrator over the schema embedded in the binary
func New(db *sql.DB, log *zap.Logger) (*Migrator, error) {
	return NewFromFS(db, migrations.FS, log)
}

// NewFromPath creates a Migrator reading migration files from dir
func NewFromPath(db *sql.DB, dir string, log *zap.Logger) (*Migrator, error) {
	return NewFromFS(db, os.DirFS(dir), log)
}

// NewFromFS creates a Migrator reading migration files from the root of fsys
func NewFromFS(db *sql.DB, fsys fs.FS, log *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: SchemaTable})
	if err != nil {
		return nil, fmt.Errorf("open postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{m: m, log: log.Named("migration")}, nil
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.apply("up", m.m.Up)
}

// Down reverts every applied migration
func (m *Migrator) Down() error {
	return m.apply("down", m.m.Down)
}

// Steps applies n migrations forward, or -n backward when n is negative
func (m *Migrator) Steps(n int) error {
	return m.apply(fmt.Sprintf("steps %+d", n), func() error { return m.m.Steps(n) })
}

// GoTo migrates up or down to version
func (m *Migrator) GoTo(version uint) error {
	return m.apply(fmt.Sprintf("goto %d", version), func() error { return m.m.Migrate(version) })
}

// apply runs op and logs the version transition. Having nothing to do is not
// an error.
func (m *Migrator) apply(op string, fn func() error) error {
	from, _, err := m.Version()
	if err != nil {
		return err
	}

	if err := fn(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("device cache schema unchanged", zap.String("op", op), zap.Uint("version", from))
			return nil
		}
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	to, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.log.Info("device cache schema migrated",
		zap.String("op", op),
		zap.Uint("from", from),
		zap.Uint("to", to),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Version returns the applied version and whether the last migration failed
// halfway. Zero means an empty schema.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

// Force records version as applied without running anything. It exists to
// clear the dirty flag after a failed migration was repaired by hand.
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	m.log.Warn("device cache schema version forced", zap.Int("version", version))
	return nil
}

// Close releases the source and the database driver
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
