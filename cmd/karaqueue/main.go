package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/karaqueue/karaqueue/internal/config"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
		migrate    = flag.String("migrate", "", "Run database migrations (up/down)")
		backup     = flag.String("backup", "", "Backup database to specified path")
		restore    = flag.String("restore", "", "Restore database from specified path")
		vacuum     = flag.Bool("vacuum", false, "Compact the database")
		stats      = flag.Bool("stats", false, "Print table counts and database size")
		list       = flag.Bool("list", false, "List playlists")
		export     = flag.String("export", "", "Export the playlist with this id")
		out        = flag.String("out", "", "Output file for -export (default stdout)")
		importFile = flag.String("import", "", "Import a playlist file")
		importAs   = flag.String("as", "admin", "Username that owns imported playlists")
		into       = flag.String("into", "", "Import into this playlist instead of creating one")
		blacklist  = flag.Bool("generate-blacklist", false, "Regenerate the blacklist from its criteria")
		scan       = flag.String("scan", "", "Import kara files from this directory (\"-\" uses library.path)")
		watch      = flag.Bool("watch", false, "Keep watching the -scan directory for changes")
		search     = flag.String("search", "", "Search the catalog by title or series")
		limit      = flag.Int("limit", 50, "Maximum number of -search results")
	)
	flag.Parse()

	// Show version and exit
	if *version {
		fmt.Printf("karaqueue %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	loader, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	// Initialize logger
	logConfig := cfg.Log
	if *logLevel != "" {
		logConfig.Level = *logLevel
	}
	logger.Initialize(logConfig)
	log := logger.Get()
	defer log.Close()

	log.Debug("karaqueue starting",
		logger.String("version", Version),
		logger.String("build_time", BuildTime),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, log)
	if err := app.startup(ctx); err != nil {
		log.Fatal("Failed to start", logger.Err(err))
	}
	defer app.shutdown()

	if err := run(ctx, app, loader, runFlags{
		migrate:    *migrate,
		backup:     *backup,
		restore:    *restore,
		vacuum:     *vacuum,
		stats:      *stats,
		list:       *list,
		export:     *export,
		out:        *out,
		importFile: *importFile,
		importAs:   *importAs,
		into:       *into,
		blacklist:  *blacklist,
		scan:       *scan,
		watch:      *watch,
		search:     *search,
		limit:      *limit,
	}); err != nil {
		log.Error("Command failed", failureFields(err)...)
		app.shutdown()
		os.Exit(1)
	}
}

type runFlags struct {
	migrate    string
	backup     string
	restore    string
	vacuum     bool
	stats      bool
	list       bool
	export     string
	out        string
	importFile string
	importAs   string
	into       string
	blacklist  bool
	scan       string
	watch      bool
	search     string
	limit      int
}

// failureFields describes a failed command with its stable error code.
func failureFields(err error) []logger.Field {
	de := domain.NewDomainError(err)
	fields := []logger.Field{logger.String("code", de.Code)}
	if de.Details != "" {
		fields = append(fields, logger.String("details", de.Details))
	}
	return append(fields, logger.Err(de.Err))
}

func run(ctx context.Context, app *App, loader *config.Loader, f runFlags) error {
	// Handle database operations
	switch {
	case f.migrate != "":
		return handleMigration(app, f.migrate)
	case f.backup != "":
		return app.database.Backup(f.backup)
	case f.restore != "":
		return app.database.Restore(f.restore)
	case f.vacuum:
		return app.database.Vacuum()
	case f.stats:
		stats, err := app.database.GetStats()
		if err != nil {
			return err
		}
		for key, value := range stats {
			fmt.Printf("%-24s %v\n", key, value)
		}
		return nil
	}

	if f.scan != "" {
		root := f.scan
		if root == "-" {
			root = app.cfg.Library.Path
		}
		watch := f.watch || app.cfg.Library.Watch
		if watch {
			loader.OnChange(app.reconfigure)
			loader.Watch()
		}
		if err := app.scanLibrary(ctx, root, watch); err != nil {
			return err
		}
	}

	if f.importFile != "" {
		if err := app.importPlaylist(ctx, f.importFile, f.importAs, f.into); err != nil {
			return err
		}
	}

	if f.blacklist {
		if _, err := app.engine.GenerateBlacklist(ctx); err != nil {
			return err
		}
	}

	if f.export != "" {
		if err := app.exportPlaylist(ctx, f.export, f.out); err != nil {
			return err
		}
	}

	if f.search != "" {
		if err := app.searchSongs(ctx, f.search, f.limit); err != nil {
			return err
		}
	}

	if f.list {
		return app.listPlaylists(ctx)
	}
	return nil
}

func handleMigration(app *App, direction string) error {
	switch direction {
	case "up":
		if err := app.database.Migrate(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		app.log.Info("Migrations completed successfully")
		return nil
	case "down":
		return fmt.Errorf("migration rollback is not supported")
	default:
		return fmt.Errorf("invalid migration direction %q, use 'up' or 'down'", direction)
	}
}
