package migration

import (
	"fmt"

	"github.com/tulparlabs/agentrun/config"
)

// NewMigratorFromRecords builds a migrator for the configured records
// database.
func NewMigratorFromRecords(cfg config.RecordsConfig) (*Migrator, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid records driver: %w", err)
	}

	var url string
	switch dialect {
	case DialectPostgres:
		url = BuildDatabaseURL(dialect, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode)
	case DialectMySQL:
		url = BuildDatabaseURL(dialect, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, "")
	case DialectSQLite:
		// Name carries the file path for sqlite.
		url = BuildDatabaseURL(dialect, "", 0, cfg.Name, "", "", "")
	}

	return NewMigrator(&Config{
		Dialect:     dialect,
		DatabaseURL: url,
	})
}

// NewMigratorFromURL builds a migrator from an explicit connection
// string, for operators pointing at a database the config does not
// describe.
func NewMigratorFromURL(driver, url string) (*Migrator, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		Dialect:     dialect,
		DatabaseURL: url,
	})
}
