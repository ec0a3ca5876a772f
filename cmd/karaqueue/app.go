package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/karaqueue/karaqueue/internal/catalog"
	"github.com/karaqueue/karaqueue/internal/config"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/engine"
	"github.com/karaqueue/karaqueue/internal/infrastructure/db"
	"github.com/karaqueue/karaqueue/internal/library"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/karaqueue/karaqueue/internal/notify"
)

// App wires the engine to its store, catalog and notifier.
type App struct {
	cfg      config.Config
	log      *logger.Logger
	database *db.Database
	songs    *db.SongRepository
	redis    *notify.RedisNotifier
	engine   *engine.Engine

	// command output
	out io.Writer
}

func NewApp(cfg config.Config, log *logger.Logger) *App {
	return &App{cfg: cfg, log: log, out: os.Stdout}
}

// startup opens the database and builds the engine.
func (a *App) startup(ctx context.Context) error {
	dbConfig := db.DefaultConfig()
	dbConfig.Path = a.cfg.Database.Path
	dbConfig.MaxOpenConns = a.cfg.Database.MaxOpenConns
	dbConfig.MaxIdleConns = a.cfg.Database.MaxIdleConns
	dbConfig.ConnMaxLifetime = a.cfg.Database.ConnMaxLifetime
	dbConfig.ConnMaxIdleTime = a.cfg.Database.ConnMaxIdleTime
	dbConfig.BusyTimeout = a.cfg.Database.BusyTimeout
	dbConfig.LogLevel = a.cfg.Database.LogLevel

	database, err := db.Open(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.database = database
	a.songs = db.NewSongRepository(database)

	var notifier domain.Notifier = notify.NewLogNotifier(a.log)
	if a.cfg.Notify.Enabled {
		redis, err := notify.Dial(ctx, a.cfg.Notify.RedisURL, a.cfg.Notify.Channel)
		if err != nil {
			// events still reach the log
			a.log.Warn("Redis notifications disabled", logger.Err(err))
		} else {
			a.redis = redis
			notifier = notify.Multi{redis, notifier}
		}
	}

	opts, err := engine.OptionsFromConfig(a.cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(db.NewStore(database), catalog.NewGateway(a.songs), notifier, domain.SystemClock{}, a.log, opts)

	a.log.Debug("Engine started",
		logger.String("database", dbConfig.Path),
		logger.String("quota", string(opts.Quota.Type)),
		logger.Bool("notify", a.redis != nil))
	return nil
}

// shutdown is called when the command is done
func (a *App) shutdown() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close redis client", logger.Err(err))
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Warn("Failed to close database", logger.Err(err))
		}
	}
}

// reconfigure applies a reloaded configuration to what can change at runtime.
func (a *App) reconfigure(cfg *config.Config) {
	if err := a.log.SetLevel(cfg.Log.Level); err != nil {
		a.log.Warn("Ignoring invalid log level", logger.String("level", cfg.Log.Level))
	}
}

func (a *App) listPlaylists(ctx context.Context) error {
	playlists, err := a.engine.ListPlaylists(ctx, false)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tSONGS\tDURATION\tTIME LEFT")
	for _, p := range playlists {
		role, _ := p.HoldsRole()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.Name, role, p.KaraCount, clock(p.Duration), clock(p.TimeLeft))
	}
	return w.Flush()
}

// searchSongs prints the catalog songs whose title or series match query.
func (a *App) searchSongs(ctx context.Context, query string, limit int) error {
	songs, err := a.songs.Search(ctx, query, limit)
	if err != nil {
		return err
	}
	total, err := a.songs.Count(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KID\tTITLE\tSERIES\tDURATION")
	for _, s := range songs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Title, s.Series, clock(s.Duration))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%d of %d songs\n", len(songs), total)
	return err
}

func (a *App) exportPlaylist(ctx context.Context, id, out string) error {
	export, err := a.engine.ExportPlaylist(ctx, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode playlist: %w", err)
	}

	if out == "" || out == "-" {
		_, err = a.out.Write(append(data, '\n'))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write playlist file: %w", err)
	}
	a.log.Info("Playlist exported",
		logger.String("playlist", id),
		logger.String("path", out),
		logger.Int("songs", len(export.PlaylistContents)))
	return nil
}

func (a *App) importPlaylist(ctx context.Context, path, username, into string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read playlist file: %w", err)
	}
	var export domain.PlaylistExport
	if err := json.Unmarshal(data, &export); err != nil {
		return domain.NewValidationError("file", "not a playlist file: "+err.Error())
	}

	report, err := a.engine.ImportPlaylist(ctx, engine.ImportRequest{
		Data:           &export,
		By:             domain.Requester{Username: username, Admin: true},
		IntoPlaylistID: into,
	})
	if err != nil {
		return err
	}
	a.log.Info("Playlist imported",
		logger.String("playlist", report.PlaylistID),
		logger.Int("imported", report.Imported),
		logger.Strings("unknown", report.Unknown))
	return nil
}

func (a *App) scanLibrary(ctx context.Context, root string, watch bool) error {
	scanner := library.NewScanner(a.songs, a.log, a.cfg.Library.Workers)
	result, err := scanner.ScanFolder(ctx, root)
	if err != nil {
		return err
	}
	if result.ImportedSongs > 0 {
		if _, err := a.engine.GenerateBlacklist(ctx); err != nil {
			return err
		}
	}
	if !watch {
		return nil
	}

	err = scanner.Watch(ctx, root)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
