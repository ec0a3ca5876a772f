package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"golang.org/x/sync/semaphore"
	gormlogger "gorm.io/gorm/logger"
)

type Database struct {
	db  *gorm.DB
	cfg Config
	mu  sync.RWMutex

	// one write transaction at a time per process
	writers *semaphore.Weighted
}

type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	BusyTimeout     time.Duration
	LogLevel        string
}

func DefaultConfig() Config {
	return Config{
		Path:            "karaqueue.db",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		BusyTimeout:     5 * time.Second,
		LogLevel:        "warn",
	}
}

// Open initializes a database at cfg.Path and runs migrations.
func Open(cfg Config) (*Database, error) {
	d := &Database{writers: semaphore.NewWeighted(1)}
	if err := d.Initialize(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) Initialize(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open(cfg)
}

func (d *Database) open(cfg Config) error {
	// The write transaction holds one connection. Catalog reads made while
	// it is open need another.
	if cfg.MaxOpenConns < 2 {
		cfg.MaxOpenConns = 2
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "info":
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		PrepareStmt: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	d.db = db
	d.cfg = cfg

	if err := d.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Database initialized", logger.String("path", cfg.Path))
	return nil
}

// dsn carries the pragmas so that every pooled connection gets them.
// Write transactions take the lock at BEGIN so busy_timeout applies to them.
func dsn(cfg Config) string {
	params := []string{
		"_foreign_keys=on",
		"_journal_mode=WAL",
		fmt.Sprintf("_busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	return "file:" + cfg.Path + "?" + strings.Join(params, "&")
}

func (d *Database) Migrate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.migrate()
}

func (d *Database) migrate() error {
	if d.db == nil {
		return fmt.Errorf("database not initialized")
	}

	models := []interface{}{
		&domain.Playlist{},
		&domain.PlaylistEntry{},
		&domain.Upvote{},
		&domain.PlayedSong{},
		&domain.BlacklistCriterion{},
		&domain.BlacklistEntry{},
		&domain.WhitelistEntry{},
		&domain.Tag{},
		&domain.Song{},
	}

	for _, model := range models {
		if err := d.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	if err := d.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (d *Database) createIndexes() error {
	indexes := []struct {
		Table   string
		Name    string
		Columns []string
		Unique  bool
		Where   string
	}{
		// At most one playlist per role.
		{"playlists", "idx_playlists_current", []string{"flag_current"}, true, "flag_current"},
		{"playlists", "idx_playlists_public", []string{"flag_public"}, true, "flag_public"},

		// Dense, totally ordered positions and a single playing entry.
		{"playlist_entries", "idx_entries_position", []string{"playlist_id", "position"}, true, ""},
		{"playlist_entries", "idx_entries_playing", []string{"playlist_id"}, true, "flag_playing"},
		{"playlist_entries", "idx_entries_requester", []string{"playlist_id", "username"}, false, ""},

		{"played_songs", "idx_played_songs_song_played", []string{"song_id", "played_at"}, false, ""},
		{"blacklist", "idx_blacklist_song", []string{"song_id"}, false, ""},
	}

	for _, idx := range indexes {
		var count int64
		d.db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", idx.Name).Scan(&count)
		if count > 0 {
			continue
		}

		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}
		sql := fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, idx.Name, idx.Table, strings.Join(idx.Columns, ", "))
		if idx.Where != "" {
			sql += " WHERE " + idx.Where
		}
		if err := d.db.Exec(sql).Error; err != nil {
			// uniqueness indexes carry invariants; do not run without them
			if idx.Unique {
				return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
			}
			logger.Warn("Failed to create index",
				logger.String("index", idx.Name),
				logger.Err(err))
		}
	}

	return nil
}

func (d *Database) DB() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// acquireWriter blocks until no other write transaction of this process is
// open. Writers wait here without holding a pool connection.
func (d *Database) acquireWriter(ctx context.Context) (func(), error) {
	if err := d.writers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { d.writers.Release(1) }, nil
}

func (d *Database) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Path
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.close()
}

func (d *Database) close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) Backup(path string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if err := d.db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}

	logger.Info("Database backed up successfully", logger.String("path", path))
	return nil
}

// Restore replaces the database file with the backup at path and reopens it.
func (d *Database) Restore(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer src.Close()

	if err := d.close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	// drop WAL leftovers so they are not replayed over the restored file
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(d.cfg.Path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s file: %w", suffix, err)
		}
	}

	dst, err := os.Create(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to restore database: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to restore database: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to restore database: %w", err)
	}

	if err := d.open(d.cfg); err != nil {
		return fmt.Errorf("failed to reinitialize database: %w", err)
	}

	logger.Info("Database restored successfully", logger.String("path", path))
	return nil
}

func (d *Database) Vacuum() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := d.db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	logger.Info("Database vacuumed successfully")
	return nil
}

func (d *Database) GetStats() (map[string]interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stats := make(map[string]interface{})

	tables := []string{"playlists", "playlist_entries", "songs", "blacklist_criteria", "blacklist", "whitelist"}
	for _, table := range tables {
		var count int64
		if err := d.db.Table(table).Count(&count).Error; err != nil {
			logger.Warn("Failed to get table count",
				logger.String("table", table),
				logger.Err(err))
			continue
		}
		stats[table+"_count"] = count
	}

	var dbSize int64
	d.db.Raw("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&dbSize)
	stats["size_bytes"] = dbSize

	return stats, nil
}
