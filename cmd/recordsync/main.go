package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/recordsync/internal/config"
	"github.com/vonshlovens/recordsync/internal/db"
	"github.com/vonshlovens/recordsync/internal/index"
	"github.com/vonshlovens/recordsync/internal/logging"
	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/report"
	syncer "github.com/vonshlovens/recordsync/internal/sync"
	"github.com/vonshlovens/recordsync/internal/watcher"
)

var (
	cfgFile string
	verbose bool
	version = "dev"

	current   *app
	logCloser io.Closer
)

// skipConfig marks commands that run before a config file exists
const skipConfig = "skip-config"

var conflictUsage = "conflict resolution: " + syncer.StrategyNames()

func main() {
	rootCmd := &cobra.Command{
		Use:          "recordsync",
		Short:        "Index civic records and keep a database projection in sync",
		Long:         `Scans a directory of Markdown records with YAML front matter, builds a searchable index and reconciles the records with a PostgreSQL or SQLite projection.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				level := slog.LevelInfo
				if verbose {
					level = slog.LevelDebug
				}
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
				return nil
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logCloser, err = logging.Setup(cfg.Log, verbose); err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			current, err = newApp(cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		indexCmd(),
		searchCmd(),
		newCmd(),
		syncCmd(),
		watchCmd(),
		statusCmd(),
		migrateCmd(),
		initCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Generate the record index",
		Long:  `Scans the record store and writes the index. Filters produce a narrowed listing that is printed but not persisted.`,
	}

	var (
		types, statuses, modules, subdirs []string
		doSync, progress                  bool
		conflict                          string
	)
	cmd.Flags().StringSliceVar(&types, "type", nil, "only include these record types")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only include these statuses")
	cmd.Flags().StringSliceVar(&modules, "module", nil, "only include these modules")
	cmd.Flags().StringSliceVar(&subdirs, "subdir", nil, "only scan these directories of the record store")
	cmd.Flags().BoolVar(&doSync, "sync", false, "also synchronize the database projection")
	cmd.Flags().StringVar(&conflict, "conflict", "", conflictUsage)
	cmd.Flags().BoolVar(&progress, "progress", false, "show progress bars")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, cancel := current.withTimeout(cmd.Context())
		defer cancel()

		opts := index.Options{
			Modules:      modules,
			Subdirs:      subdirs,
			SyncDatabase: doSync,
		}
		for _, t := range types {
			opts.Types = append(opts.Types, record.Type(t))
		}
		for _, s := range statuses {
			opts.Statuses = append(opts.Statuses, record.Status(s))
		}

		var projection db.Projection
		if doSync {
			strategy, err := current.strategy(conflict)
			if err != nil {
				return err
			}
			opts.ConflictResolution = strategy

			if projection, err = current.openProjection(ctx); err != nil {
				return err
			}
			defer projection.Close()
		}

		res, err := current.builder(projection, progress).Generate(ctx, opts)
		if err != nil {
			return fmt.Errorf("index generation failed: %w", err)
		}

		report.New(os.Stdout).Index(res)
		if len(types)+len(statuses)+len(modules)+len(subdirs) == 0 {
			fmt.Printf("\nIndex written to: %s\n", current.store.Path())
		}
		return nil
	}

	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the record index",
		Long:  `Matches the query case-insensitively against title, tags and authors. Filters narrow the results further.`,
		Args:  cobra.MaximumNArgs(1),
	}

	var (
		typ, status, module string
		tags                []string
		refresh             bool
	)
	cmd.Flags().StringVar(&typ, "type", "", "record type")
	cmd.Flags().StringVar(&status, "status", "", "record status")
	cmd.Flags().StringVar(&module, "module", "", "module")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "match records carrying any of these tags")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "rescan the record store before searching")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, cancel := current.withTimeout(cmd.Context())
		defer cancel()

		query := ""
		if len(args) > 0 {
			query = args[0]
		}

		builder := current.builder(nil, false)

		var idx *index.Index
		if refresh {
			res, err := builder.Generate(ctx, index.Options{})
			if err != nil {
				return fmt.Errorf("index generation failed: %w", err)
			}
			idx = res.Index
		} else {
			var err error
			if idx, err = builder.Current(ctx); err != nil {
				return fmt.Errorf("failed to load index: %w", err)
			}
		}

		hits := index.Search(idx, query, index.Filters{
			Type:   record.Type(typ),
			Status: record.Status(status),
			Module: module,
			Tags:   tags,
		})
		report.New(os.Stdout).Hits(hits)
		return nil
	}

	return cmd
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create a new record file",
		Long:  `Writes a record file with a generated ID and a slug taken from the title. The file is named after the slug.`,
		Args:  cobra.ExactArgs(1),
	}

	var (
		typ, status, dir, author string
		tags                     []string
	)
	cmd.Flags().StringVar(&typ, "type", "", "record type (required)")
	cmd.Flags().StringVar(&status, "status", "draft", "record status")
	cmd.Flags().StringVar(&dir, "dir", "", "directory under the records path")
	cmd.Flags().StringVar(&author, "author", "", "author username")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags")
	_ = cmd.MarkFlagRequired("type")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		e := record.New(record.Type(typ), record.Status(status), args[0], time.Now())
		if err := e.Type.Validate(); err != nil {
			return err
		}
		if err := e.Status.Validate(); err != nil {
			return err
		}
		if e.Metadata.Slug == "" {
			return fmt.Errorf("title %q has no letters or digits", args[0])
		}
		if !current.registry.KnownType(e.Type) {
			slog.Warn("type is not registered", "type", e.Type)
		}
		if !current.registry.KnownStatus(e.Status) {
			slog.Warn("status is not registered", "status", e.Status)
		}
		e.Author = author
		e.Metadata.Tags = tags
		e.Content = "# " + e.Title + "\n"

		path, err := writeRecord(current.cfg.RecordsPath, dir, e)
		if err != nil {
			return err
		}
		slog.Info("record created", "id", e.ID, "path", path)
		fmt.Println(path)
		return nil
	}

	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "One-time full sync, then exit",
		Long:  `Scans the record store, reconciles every record with the database projection and rewrites the index.`,
	}

	var (
		conflict string
		progress bool
	)
	cmd.Flags().StringVar(&conflict, "conflict", "", conflictUsage)
	cmd.Flags().BoolVar(&progress, "progress", false, "show progress bars")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		strategy, err := current.strategy(conflict)
		if err != nil {
			return err
		}

		ctx, cancel := current.withTimeout(cmd.Context())
		defer cancel()

		projection, err := current.openProjection(ctx)
		if err != nil {
			return err
		}
		defer projection.Close()

		res, err := current.builder(projection, progress).Generate(ctx, index.Options{
			SyncDatabase:       true,
			ConflictResolution: strategy,
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		logOutcome(res.Sync)

		p := report.New(os.Stdout)
		p.Outcome(res.Sync)
		p.Warnings(res.Warnings)
		p.Notices(res.Notices)

		if len(res.Sync.Errors) > 0 {
			return fmt.Errorf("%d records failed to sync", len(res.Sync.Errors))
		}
		return nil
	}

	return cmd
}

func watchCmd() *cobra.Command {
	var conflict string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the record store and sync on every change",
		Long:  `Performs a full sync, then watches the record store and re-syncs after each quiet period following file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := current.cfg

			strategy, err := current.strategy(conflict)
			if err != nil {
				return err
			}

			projection, err := current.openProjection(ctx)
			if err != nil {
				return err
			}
			defer projection.Close()

			builder := current.builder(projection, false)
			resync := func(reason string) {
				runCtx, cancel := current.withTimeout(ctx)
				defer cancel()

				res, err := builder.Generate(runCtx, index.Options{
					SyncDatabase:       true,
					ConflictResolution: strategy,
				})
				if err != nil {
					slog.Error("sync failed", "reason", reason, "error", err)
					return
				}
				for _, w := range res.Warnings {
					slog.Warn("skipped record file", "path", w.Path, "reason", w.Reason)
				}
				for _, n := range res.Notices {
					slog.Info("unrecognized record value", "path", n.Path, "reason", n.Reason)
				}
				logOutcome(res.Sync)
			}

			slog.Info("performing initial sync")
			resync("startup")

			w, err := watcher.NewWatcher(cfg.RecordsPath, cfg.Sync.DebounceMs, cfg.IgnorePatterns, cfg.IncludePatterns)
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}

			slog.Info("watching record store", "path", cfg.RecordsPath, "strategy", strategy)
			fmt.Println("Watching record store for changes. Press Ctrl+C to stop.")

			for {
				select {
				case <-ctx.Done():
					slog.Info("shutting down...")
					return w.Stop()

				case batch, ok := <-w.Events():
					if !ok {
						return nil
					}
					for _, c := range batch.Changes {
						slog.Debug("record file changed", "path", c.Path, "type", c.EventType)
					}
					current.cache.Invalidate()
					resync(fmt.Sprintf("%d changed files", len(batch.Changes)))
				}
			}
		},
	}

	cmd.Flags().StringVar(&conflict, "conflict", "", conflictUsage)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database and index status",
		Long:  `Shows the database projection's row counts and last sync time, and a summary of the index artifact.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := current.withTimeout(cmd.Context())
			defer cancel()

			var status *db.Status
			projection, err := db.Open(ctx, &current.cfg.Database)
			if err != nil {
				slog.Warn("database unavailable", "error", err)
			} else {
				defer projection.Close()
				if status, err = projection.Status(ctx); err != nil {
					return fmt.Errorf("failed to get status: %w", err)
				}
			}

			idx, err := current.store.Load()
			if err != nil {
				if !errors.Is(err, index.ErrCorruptIndex) {
					return err
				}
				slog.Warn("index artifact is corrupt; run recordsync index", "path", current.store.Path())
			}

			fmt.Printf("Records path: %s\n\n", current.cfg.RecordsPath)
			p := report.New(os.Stdout)
			p.Status(status, idx, current.store.Path())
			fmt.Println()
			p.Registry(current.registry.Types(), current.registry.Statuses())
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Runs all pending migrations of the records table. Migrations are embedded in the binary.`,
	}

	var statusOnly bool
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print migration status instead of migrating")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, cancel := current.withTimeout(cmd.Context())
		defer cancel()

		projection, err := db.Open(ctx, &current.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer projection.Close()

		if statusOnly {
			return projection.MigrationStatus(ctx)
		}

		if err := projection.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Migrations completed successfully.")
		return nil
	}

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Interactive setup to create config file",
		Long:        `Interactively creates a configuration file in the user config directory.`,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			ask := func(label, def string) string {
				if def != "" {
					fmt.Printf("%s [%s]: ", label, def)
				} else {
					fmt.Printf("%s: ", label)
				}
				answer, _ := reader.ReadString('\n')
				answer = strings.TrimSpace(answer)
				if answer == "" {
					return def
				}
				return answer
			}

			fmt.Println("=== recordsync setup ===")
			fmt.Println()

			recordsPath := ask("Records path", "")
			if info, err := os.Stat(recordsPath); err != nil || !info.IsDir() {
				return fmt.Errorf("records path is not a directory: %s", recordsPath)
			}

			var b strings.Builder
			fmt.Fprintf(&b, "records_path: %q\n\n", recordsPath)

			fmt.Println("\nDatabase Configuration:")
			driver := ask("  Driver (sqlite or postgres)", "sqlite")
			switch driver {
			case "sqlite":
				name := config.SanitizeIdentifier(filepath.Base(recordsPath))
				path := ask("  Database file", filepath.Join(config.DataDir(), name+".db"))
				fmt.Fprintf(&b, "database:\n  driver: sqlite\n  path: %q\n\n", path)

			case "postgres":
				host := ask("  Host", "localhost")
				port := ask("  Port", "5432")
				user := ask("  User", "")
				dbName := ask("  Database name", "")
				if dbName == "" {
					return errors.New("database name is required")
				}
				schema := ask("  Schema name", config.SanitizeIdentifier(filepath.Base(recordsPath)))
				sslMode := ask("  SSL mode", "require")
				fmt.Fprintf(&b, `database:
  driver: postgres
  host: %q
  port: %s
  user: %q
  password: "${DB_PASSWORD}"  # Set DB_PASSWORD in the environment or .env
  database: %q
  schema: %q
  sslmode: %q

`, host, port, user, dbName, schema, sslMode)

			default:
				return fmt.Errorf("unsupported database driver %q", driver)
			}

			conflict := ask("Conflict resolution ("+syncer.StrategyNames()+")", syncer.DefaultStrategy.String())
			if _, err := syncer.ParseStrategy(conflict); err != nil {
				return err
			}
			fmt.Fprintf(&b, `sync:
  conflict_resolution: %s
  debounce_ms: 2000
  timeout_s: 60

ignore_patterns:
  - ".git/**"
  - ".trash/**"
  - "**/.DS_Store"
  - "**/node_modules/**"
`, conflict)

			configDir := config.ConfigDir()
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(b.String()), 0o600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			if driver == "postgres" {
				fmt.Println("\nIMPORTANT: Set the DB_PASSWORD environment variable.")
				fmt.Println("To run migrations, run: recordsync migrate")
			}
			fmt.Println("To build the index, run: recordsync index")
			fmt.Println("To start syncing, run: recordsync watch")

			return nil
		},
	}
}
