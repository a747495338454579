package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"classifieds/internal/common/config"
	"classifieds/internal/common/logging"
)

const usage = `Usage: migrate [-dir migrations] <command> [arg]
Commands:
  up [n]          Apply all pending migrations, or the next n
  down [n]        Roll back n migrations (default 1)
  force <version> Mark version as applied and clear the dirty flag
  version         Show current migration version`

func main() {
	dir := flag.String("dir", "migrations", "directory holding the SQL migrations")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if cfg.UsesMemoryStorage() {
		logging.Warn("STORAGE=memory has no schema to migrate")
		return
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		logging.Error("Failed to create migrator", "dir", *dir, "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, args[0], args[1:]); err != nil {
		logging.Error("Migration command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, command string, rest []string) error {
	switch command {
	case "up":
		n, err := optionalCount(rest, 0)
		if err != nil {
			return err
		}
		if n > 0 {
			err = m.Steps(n)
		} else {
			err = m.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			logging.Info("Schema already up to date")
			return nil
		}
		if err == nil {
			logging.Info("Migrations applied")
		}
		return err

	case "down":
		n, err := optionalCount(rest, 1)
		if err != nil {
			return err
		}
		if err := m.Steps(-n); err != nil {
			return err
		}
		logging.Info("Rolled back migrations", "steps", n)
		return nil

	case "force":
		if len(rest) != 1 {
			return errors.New("force needs a version")
		}
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", rest[0], err)
		}
		if err := m.Force(v); err != nil {
			return err
		}
		logging.Warn("Forced schema version", "version", v)
		return nil

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Version: none")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// optionalCount reads a positive step count from rest, or returns def.
func optionalCount(rest []string, def int) (int, error) {
	if len(rest) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("step count must be a positive integer, got %q", rest[0])
	}
	return n, nil
}
