// Command migrate applies the embedded Postgres schema used by the user
// store and the conversation archive.
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	appmigrations "github.com/wolfman30/loan-sales-assistant/migrations"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "migrate",
		Usage: "manage the loan assistant database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database_url",
				Usage:   "postgres connection string",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "log_level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		// Running without a subcommand applies every pending migration.
		Action: upCommand,
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "apply pending migrations",
				Action: upCommand,
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
				},
				Action: downCommand,
			},
			{
				Name:      "force",
				Usage:     "mark the schema as being at a version without running it",
				ArgsUsage: "<version>",
				Action:    forceCommand,
			},
			{
				Name:   "version",
				Usage:  "print the current schema version",
				Action: versionCommand,
			},
		},
	}
}

func upCommand(c *cli.Context) error {
	return withMigrator(c, func(m *migrate.Migrate, logger *logging.Logger) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info("migrations complete")
		return nil
	})
}

func downCommand(c *cli.Context) error {
	steps := c.Int("steps")
	if steps < 1 {
		return cli.Exit("--steps must be at least 1", 1)
	}
	return withMigrator(c, func(m *migrate.Migrate, logger *logging.Logger) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("rolled back migrations", "steps", steps)
		return nil
	})
}

func forceCommand(c *cli.Context) error {
	version, err := parseVersion(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return withMigrator(c, func(m *migrate.Migrate, logger *logging.Logger) error {
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		logger.Info("forced schema version", "version", version)
		return nil
	})
}

func versionCommand(c *cli.Context) error {
	return withMigrator(c, func(m *migrate.Migrate, _ *logging.Logger) error {
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(c.App.Writer, "no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "version %d (dirty=%t)\n", version, dirty)
		return nil
	})
}

func parseVersion(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, errors.New("force requires a version argument")
	}
	version, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", arg)
	}
	return version, nil
}

func withMigrator(c *cli.Context, fn func(*migrate.Migrate, *logging.Logger) error) error {
	logger := logging.New(c.String("log_level"))
	databaseURL := strings.TrimSpace(c.String("database_url"))
	if databaseURL == "" {
		return cli.Exit("DATABASE_URL is required", 1)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(c.Context); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	return fn(m, logger)
}
