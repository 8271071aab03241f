package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/erp/ledger/internal/infrastructure/config"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/infrastructure/migration"
	"github.com/erp/ledger/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// command is one migrate subcommand. Commands with db set open a migrator.
type command struct {
	usage string
	help  string
	db    bool
	run   func(env *runEnv, args []string) error
}

type runEnv struct {
	log      *zap.Logger
	dir      string
	migrator *migration.Migrator
}

var errUsage = errors.New("invalid arguments")

var commands = map[string]command{
	"up": {usage: "up", help: "Apply all pending migrations", db: true,
		run: func(env *runEnv, _ []string) error { return env.migrator.Up() }},
	"down": {usage: "down", help: "Roll back all migrations", db: true,
		run: func(env *runEnv, _ []string) error { return env.migrator.Down() }},
	"step": {usage: "step <n>", help: "Apply n migrations, negative rolls back", db: true,
		run: func(env *runEnv, args []string) error {
			n, err := intArg(args)
			if err != nil {
				return err
			}
			return env.migrator.Steps(n)
		}},
	"goto": {usage: "goto <version>", help: "Migrate up or down to a version", db: true,
		run: func(env *runEnv, args []string) error {
			v, err := intArg(args)
			if err != nil || v < 0 {
				return errUsage
			}
			return env.migrator.GoTo(uint(v))
		}},
	"version": {usage: "version", help: "Show the applied version", db: true,
		run: func(env *runEnv, _ []string) error {
			v, dirty, err := env.migrator.Version()
			if err != nil {
				return err
			}
			env.log.Info("Current migration version", zap.Uint("version", v), zap.Bool("dirty", dirty))
			return nil
		}},
	"force": {usage: "force <version>", help: "Record a version without running it", db: true,
		run: func(env *runEnv, args []string) error {
			v, err := intArg(args)
			if err != nil {
				return err
			}
			return env.migrator.Force(v)
		}},
	"drop": {usage: "drop -confirm", help: "Drop all database objects", db: true,
		run: func(env *runEnv, args []string) error {
			if len(args) == 0 || (args[0] != "-confirm" && args[0] != "--confirm") {
				return fmt.Errorf("%w: drop needs -confirm", errUsage)
			}
			return env.migrator.Drop()
		}},
	"create": {usage: "create <name> [description]", help: "Write a new up/down file pair into -path",
		run: func(env *runEnv, args []string) error {
			if len(args) == 0 {
				return errUsage
			}
			desc := ""
			if len(args) > 1 {
				desc = args[1]
			}
			mf, err := migration.CreateMigration(env.dir, args[0], desc)
			if err != nil {
				return err
			}
			env.log.Info("Migration created", zap.String("up", mf.UpPath), zap.String("down", mf.DownPath))
			return nil
		}},
	"list": {usage: "list", help: "List migrations",
		run: func(env *runEnv, _ []string) error {
			var names []string
			var err error
			if env.dir == "" {
				names, err = migration.ListMigrationsFS(migrations.FS)
			} else {
				names, err = migration.ListMigrations(env.dir)
			}
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}},
}

func intArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[0])
	}
	return n, nil
}

func main() {
	dir := flag.String("path", "", "Migrations directory (default: embedded ledger migrations)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	configPath := flag.String("config", "", "TOML config file (default: ./config.toml)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	env := &runEnv{log: log, dir: *dir}
	if args[0] == "create" && env.dir == "" {
		env.dir = "migrations"
	}

	if cmd.db {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatal("Failed to load configuration", zap.Error(err))
		}
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatal("Failed to ping database", zap.Error(err))
		}

		if env.dir == "" {
			env.migrator, err = migration.NewFromFS(db, migrations.FS, log)
		} else {
			env.migrator, err = migration.New(db, env.dir, log)
		}
		if err != nil {
			log.Fatal("Failed to create migrator", zap.Error(err))
		}
		defer env.migrator.Close()
	}

	if err := cmd.run(env, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			log.Error("Usage: migrate "+cmd.usage, zap.Error(err))
			os.Exit(2)
		}
		log.Fatal("Migration command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [flags] <command> [arguments]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, name := range []string{"up", "down", "step", "goto", "version", "force", "drop", "create", "list"} {
		c := commands[name]
		fmt.Fprintf(os.Stderr, "  %-28s %s\n", c.usage, c.help)
	}
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nThe database comes from config.toml or LEDGER_DATABASE_* variables.")
}
