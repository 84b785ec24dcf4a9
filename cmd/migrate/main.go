package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aimerfeng/Earnzy/internal/database"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	_ = godotenv.Load()

	var (
		command     string
		steps       int
		version     int
		dir         string
		databaseURL string
		confirm     bool
	)

	flag.StringVar(&command, "command", "up", "Migration command: up, down, force, version, drop")
	flag.IntVar(&steps, "steps", 0, "Number of migrations to apply or roll back (0 = all)")
	flag.IntVar(&version, "version", -1, "Target version for force")
	flag.StringVar(&dir, "dir", "", "Read migrations from this directory instead of the embedded set")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides DATABASE_URL env)")
	flag.BoolVar(&confirm, "yes", false, "Confirm destructive commands (down without -steps, drop)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable or -database flag is required")
	}

	source := "embedded"
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve migrations directory")
		}
		dir = abs
		source = abs
	}

	log.Info().
		Str("source", source).
		Str("command", command).
		Int("steps", steps).
		Msg("Starting migration")

	m, err := database.NewMigrator(databaseURL, dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer m.Close()

	switch command {
	case "up":
		err = runUp(m, steps)
	case "down":
		if steps == 0 && !confirm {
			log.Fatal().Msg("Rolling back every migration drops the ledger; pass -yes to confirm")
		}
		err = runDown(m, steps)
	case "force":
		if version < 0 {
			log.Fatal().Msg("Force command requires -version")
		}
		err = m.Force(version)
	case "version":
		printVersion(m)
		return
	case "drop":
		if !confirm {
			log.Fatal().Msg("Drop removes every table; pass -yes to confirm")
		}
		err = m.Drop()
	default:
		log.Fatal().Str("command", command).Msg("Unknown command")
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("No migrations to apply")
			return
		}
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Msg("Migration completed successfully")
	printVersion(m)
}

func printVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migrations have been applied yet")
			return
		}
		log.Fatal().Err(err).Msg("Failed to get version")
	}
	log.Info().
		Uint("version", version).
		Bool("dirty", dirty).
		Msg("Current migration version")
}

func runUp(m *migrate.Migrate, steps int) error {
	if steps > 0 {
		return m.Steps(steps)
	}
	return m.Up()
}

func runDown(m *migrate.Migrate, steps int) error {
	if steps > 0 {
		return m.Steps(-steps)
	}
	return m.Down()
}
