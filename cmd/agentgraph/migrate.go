package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand, subargs := args[0], args[1:]
	ctx := context.Background()

	switch subcommand {
	case "up":
		withMigrator("migrate up", subargs, func(c *migration.Console) error { return c.Up(ctx) })
	case "down":
		runMigrateDown(ctx, subargs)
	case "status":
		withMigrator("migrate status", subargs, func(c *migration.Console) error { return c.Status(ctx) })
	case "version":
		withMigrator("migrate version", subargs, func(c *migration.Console) error { return c.Version(ctx) })
	case "goto":
		version := parseVersionArg("goto", subargs)
		withMigrator("migrate goto", subargs[1:], func(c *migration.Console) error {
			return c.Goto(ctx, uint(version))
		})
	case "force":
		version := parseVersionArg("force", subargs)
		withMigrator("migrate force", subargs[1:], func(c *migration.Console) error {
			return c.Force(ctx, int(version))
		})
	case "reset":
		withMigrator("migrate reset", subargs, func(c *migration.Console) error { return c.Down(ctx, true) })
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  agentgraph migrate <subcommand> [options]

Subcommands:
  up        Create or upgrade the run history tables
  down      Rollback the last migration (--all for every migration)
  status    Show migrations and whether workflow_runs / workflow_node_runs exist
  version   Show current schema version
  goto      Migrate to a specific version
  force     Force set schema version without running SQL (clears dirty state)
  reset     Drop the run history tables
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite, sqlite3 (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentgraph migrate up
  agentgraph migrate up --config /etc/agentgraph/config.yaml
  agentgraph migrate down
  agentgraph migrate status
  agentgraph migrate goto 1
  agentgraph migrate force 0
  agentgraph migrate reset`)
}

// migrateFlags are the connection flags shared by every subcommand
type migrateFlags struct {
	configPath *string
	dbType     *string
	dbURL      *string
}

func registerMigrateFlags(fs *flag.FlagSet) migrateFlags {
	return migrateFlags{
		configPath: fs.String("config", "", "Path to config file"),
		dbType:     fs.String("db-type", "", "Database type (postgres, mysql, sqlite, sqlite3)"),
		dbURL:      fs.String("db-url", "", "Database connection URL"),
	}
}

// createMigrator creates a migrator from parsed flags
func (f migrateFlags) createMigrator() (*migration.Migrator, error) {
	// If db-type and db-url are provided, use them directly
	if *f.dbType != "" && *f.dbURL != "" {
		if *f.dbType == "sqlite" {
			return openMigrator(config.DatabaseConfig{Driver: "sqlite", Name: *f.dbURL})
		}
		return migration.FromURL(*f.dbType, *f.dbURL)
	}

	loader := config.NewLoader()
	if *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *f.dbType != "" {
		cfg.Database.Driver = *f.dbType
	}
	return openMigrator(cfg.Database)
}

// openMigrator creates a migrator for a database config. The pure-Go sqlite
// driver gets its own connection, the other drivers go through golang-migrate.
func openMigrator(dbCfg config.DatabaseConfig) (*migration.Migrator, error) {
	if dbCfg.Driver != "sqlite" {
		return migration.FromDatabaseConfig(dbCfg)
	}
	if isMemorySQLite(dbCfg) {
		return nil, fmt.Errorf("in-memory sqlite database cannot be migrated from a separate connection")
	}

	db, err := sql.Open("sqlite", dbCfg.Name)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	m, err := migration.New(migration.SQLite, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// isMemorySQLite reports whether the config points at a private in-memory database
func isMemorySQLite(dbCfg config.DatabaseConfig) bool {
	if dbCfg.Driver != "sqlite" && dbCfg.Driver != "sqlite3" {
		return false
	}
	return dbCfg.Name == "" || dbCfg.Name == ":memory:" || strings.Contains(dbCfg.Name, "mode=memory")
}

// withMigrator parses the connection flags, opens a migrator and runs fn
func withMigrator(name string, args []string, fn func(c *migration.Console) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := registerMigrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	runWithMigrator(flags, fn)
}

func runWithMigrator(flags migrateFlags, fn func(c *migration.Console) error) {
	migrator, err := flags.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	err = fn(migration.NewConsole(migrator))
	migrator.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// runMigrateDown rolls back the last migration, or all of them with --all
func runMigrateDown(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")
	flags := registerMigrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	runWithMigrator(flags, func(c *migration.Console) error {
		return c.Down(ctx, *all)
	})
}

// parseVersionArg reads the version number that goto and force require
func parseVersionArg(subcommand string, args []string) int64 {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: agentgraph migrate %s <version>\n", subcommand)
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || (subcommand == "goto" && version < 0) {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	return version
}
