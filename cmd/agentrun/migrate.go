package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/tulparlabs/agentrun/internal/migration"
)

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator("migrate up", subargs, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		runMigrateDown(subargs)
	case "status":
		withMigrator("migrate status", subargs, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		withMigrator("migrate version", subargs, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		runMigrateGoto(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		withMigrator("migrate reset", subargs, nil, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  agentrun migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all rolls back everything)
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentrun migrate up
  agentrun migrate up --config /etc/agentrun/config.yaml
  agentrun migrate down --all
  agentrun migrate status
  agentrun migrate goto 1
  agentrun migrate force 0`)
}

// withMigrator parses shared flags, builds the migrator, and runs one
// CLI action against it. extraFlags registers before parsing so
// subcommands can add their own.
func withMigrator(name string, args []string, extraFlags func(*flag.FlagSet), run func(context.Context, *migration.CLI) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if extraFlags != nil {
		extraFlags(fs)
	}
	fs.Parse(args)

	migrator, err := buildMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := run(context.Background(), migration.NewCLI(migrator)); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func buildMigrator(configPath, dbType, dbURL string) (*migration.Migrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	cfg := loadConfig(configPath)
	if dbType != "" {
		cfg.Records.Driver = dbType
	}
	return migration.NewMigratorFromRecords(cfg.Records)
}

func runMigrateDown(args []string) {
	var all *bool
	withMigrator("migrate down", args,
		func(fs *flag.FlagSet) {
			all = fs.Bool("all", false, "Rollback all migrations")
		},
		func(ctx context.Context, cli *migration.CLI) error {
			if *all {
				return cli.RunDownAll(ctx)
			}
			return cli.RunDown(ctx)
		})
}

func runMigrateGoto(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentrun migrate goto <version>")
		os.Exit(1)
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withMigrator("migrate goto", args[1:], nil, func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunGoto(ctx, uint(version))
	})
}

func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentrun migrate force <version>")
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withMigrator("migrate force", args[1:], nil, func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunForce(ctx, int(version))
	})
}
