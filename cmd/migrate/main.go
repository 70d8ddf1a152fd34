// Command migrate manages the postgres device cache schema.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/entitlesync/engine/internal/infrastructure/config"
	"github.com/entitlesync/engine/internal/infrastructure/logger"
	"github.com/entitlesync/engine/internal/infrastructure/migration"
	"github.com/entitlesync/engine/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// command is one subcommand. Commands with a nil migrate func work on files
// only and never open the database.
type command struct {
	usage   string
	minArgs int
	files   func(dir string, args []string, log *zap.Logger) error
	migrate func(m *migration.Migrator, args []string, log *zap.Logger) error
}

var commands = map[string]command{
	"up":      {usage: "up", migrate: func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Up() }},
	"down":    {usage: "down", migrate: func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Down() }},
	"step":    {usage: "step <n>", minArgs: 1, migrate: runStep},
	"goto":    {usage: "goto <version>", minArgs: 1, migrate: runGoto},
	"force":   {usage: "force <version>", minArgs: 1, migrate: runForce},
	"version": {usage: "version", migrate: runVersion},
	"create":  {usage: "create <name> [description]", minArgs: 1, files: runCreate},
	"list":    {usage: "list", files: runList},
}

func main() {
	dir := flag.String("path", "", "migrations directory (default: embedded schema; ./migrations for create)")
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(2)
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage()
		os.Exit(2)
	}
	if len(args) < cmd.minArgs {
		fmt.Fprintf(os.Stderr, "usage: migrate %s\n", cmd.usage)
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", TimeFormat: time.DateTime})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cmd, *dir, args, log); err != nil {
		log.Error("migrate "+name+" failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cmd command, dir string, args []string, log *zap.Logger) error {
	if cmd.files != nil {
		return cmd.files(dir, args, log)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != config.DatabaseDriverPostgres {
		return fmt.Errorf("schema migrations need the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var m *migration.Migrator
	if dir != "" {
		m, err = migration.NewFromPath(db, dir, log)
	} else {
		m, err = migration.New(db, log)
	}
	if err != nil {
		return err
	}
	defer m.Close()

	return cmd.migrate(m, args, log)
}

func runStep(m *migration.Migrator, args []string, _ *zap.Logger) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n == 0 {
		return fmt.Errorf("step count must be a non-zero integer, got %q", args[0])
	}
	return m.Steps(n)
}

func runGoto(m *migration.Migrator, args []string, _ *zap.Logger) error {
	v, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	return m.GoTo(uint(v))
}

func runForce(m *migration.Migrator, args []string, _ *zap.Logger) error {
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	return m.Force(v)
}

func runVersion(m *migration.Migrator, _ []string, log *zap.Logger) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	log.Info("device cache schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

func runCreate(dir string, args []string, log *zap.Logger) error {
	if dir == "" {
		dir = "migrations"
	}
	var desc string
	if len(args) > 1 {
		desc = args[1]
	}
	mf, err := migration.CreateMigration(dir, args[0], desc, time.Now())
	if err != nil {
		return err
	}
	log.Info("migration created",
		zap.Uint("version", mf.Version),
		zap.String("up", mf.UpPath),
		zap.String("down", mf.DownPath),
	)
	return nil
}

func runList(dir string, _ []string, _ *zap.Logger) error {
	var src fs.FS = migrations.FS
	if dir != "" {
		src = os.DirFS(dir)
	}
	files, err := migration.ListMigrations(src)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no migrations found")
	}
	for _, f := range files {
		fmt.Printf("%06d %s\n", f.Version, f.Name)
	}
	return nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Device cache schema migrations

Usage:
  migrate [-path dir] [-log-level level] <command> [arguments]

Commands:
  up                           apply all pending migrations
  down                         revert all migrations
  step <n>                     apply n migrations, or revert -n
  goto <version>               migrate to version
  force <version>              mark version applied without running it
  version                      print the applied version
  create <name> [description]  write a new up/down file pair
  list                         list known migrations

Database settings come from ENTITLESYNC_DATABASE_* (driver must be postgres).
`)
}
