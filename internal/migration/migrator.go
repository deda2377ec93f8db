package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Registers the pure-Go "sqlite" driver used by openDatabase.
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// Dialect names a supported records database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect normalizes a driver name from configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database dialect: %s", s)
	}
}

// BuildDatabaseURL assembles the sql.Open connection string for a
// dialect. The mysql form enables multiStatements because migration
// files hold several statements each.
func BuildDatabaseURL(dialect Dialect, host string, port int, dbName, user, password, sslMode string) string {
	switch dialect {
	case DialectPostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			user, password, host, port, dbName, sslMode)
	case DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			user, password, host, port, dbName)
	case DialectSQLite:
		return fmt.Sprintf("file:%s?mode=rwc", dbName)
	default:
		return ""
	}
}

// Status describes one known migration.
type Status struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Info summarizes the schema state.
type Info struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config tells the migrator where the database is.
type Config struct {
	Dialect Dialect

	// DatabaseURL is the sql.Open connection string; BuildDatabaseURL
	// produces the right form per dialect.
	DatabaseURL string

	// TableName tracks applied versions. Defaults to schema_migrations.
	TableName string
}

// Migrator applies and rolls back schema migrations.
type Migrator struct {
	config  *Config
	migrate *migrate.Migrate
	db      *sql.DB
}

// NewMigrator opens the database and prepares the embedded migration
// source for its dialect.
func NewMigrator(cfg *Config) (*Migrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}

	m := &Migrator{config: cfg}
	if err := m.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

func (m *Migrator) init() error {
	db, err := m.openDatabase()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	m.db = db

	dbDriver, err := m.databaseDriver()
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := m.sourceDriver()
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m.migrate, err = migrate.NewWithInstance("iofs", src, string(m.config.Dialect), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return nil
}

func (m *Migrator) openDatabase() (*sql.DB, error) {
	var driverName string
	switch m.config.Dialect {
	case DialectPostgres:
		driverName = "postgres"
	case DialectMySQL:
		driverName = "mysql"
	case DialectSQLite:
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", m.config.Dialect)
	}

	db, err := sql.Open(driverName, m.config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (m *Migrator) databaseDriver() (database.Driver, error) {
	switch m.config.Dialect {
	case DialectPostgres:
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: m.config.TableName})
	case DialectMySQL:
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: m.config.TableName})
	case DialectSQLite:
		return sqlite.WithInstance(m.db, &sqlite.Config{MigrationsTable: m.config.TableName})
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", m.config.Dialect)
	}
}

func (m *Migrator) sourceDriver() (source.Driver, error) {
	fsys, dir, err := m.migrationFS()
	if err != nil {
		return nil, err
	}
	return iofs.New(fsys, dir)
}

func (m *Migrator) migrationFS() (fs.FS, string, error) {
	switch m.config.Dialect {
	case DialectPostgres:
		return postgresFS, "migrations/postgres", nil
	case DialectMySQL:
		return mysqlFS, "migrations/mysql", nil
	case DialectSQLite:
		return sqliteFS, "migrations/sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported database dialect: %s", m.config.Dialect)
	}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// DownAll rolls back everything.
func (m *Migrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Steps applies n migrations forward, or backward when n is negative.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Goto migrates up or down to an exact version.
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	if err := m.migrate.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration goto failed: %w", err)
	}
	return nil
}

// Force overwrites the recorded version without running migrations.
// The escape hatch for a dirty state after a failed migration.
func (m *Migrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty.
// A fresh database reports version 0.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// StatusList reports every known migration and whether it is applied.
func (m *Migrator) StatusList(ctx context.Context) ([]Status, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	files, err := m.availableMigrations()
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, Status{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= currentVersion,
			Dirty:   dirty && f.version == currentVersion,
		})
	}
	return statuses, nil
}

// InfoSummary reports aggregate schema state.
func (m *Migrator) InfoSummary(ctx context.Context) (*Info, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	files, err := m.availableMigrations()
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, f := range files {
		if f.version <= currentVersion {
			applied++
		}
	}

	return &Info{
		CurrentVersion:    currentVersion,
		Dirty:             dirty,
		TotalMigrations:   len(files),
		AppliedMigrations: applied,
		PendingMigrations: len(files) - applied,
	}, nil
}

// Close releases the migrate instance and its database connection.
func (m *Migrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	sourceErr, dbErr := m.migrate.Close()
	if err := errors.Join(sourceErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations lists the embedded up migrations for the
// configured dialect, sorted by version.
func (m *Migrator) availableMigrations() ([]migrationFile, error) {
	fsys, dir, err := m.migrationFS()
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[uint]bool)
	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		// 000001_create_runs.up.sql
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil || seen[uint(version)] {
			continue
		}
		seen[uint(version)] = true

		files = append(files, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}
