package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/spf13/viper"
)

const envPrefix = "KARAQUEUE"

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      logger.Config  `mapstructure:"log"`
	Playlist PlaylistConfig `mapstructure:"playlist"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Library  LibraryConfig  `mapstructure:"library"`
}

type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

type PlaylistConfig struct {
	MaxDejaVuTime int `mapstructure:"max_dejavu_time"` // minutes
}

type QuotaConfig struct {
	Type                   string `mapstructure:"type"` // none, count, duration
	Songs                  int    `mapstructure:"songs"`
	Time                   int    `mapstructure:"time"` // seconds
	FreeUpvotes            bool   `mapstructure:"free_upvotes"`
	FreeUpvotesRequiredMin int    `mapstructure:"free_upvotes_required_min"`
	FreeAcceptedSongs      bool   `mapstructure:"free_accepted_songs"`
}

type EngineConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryMin      time.Duration `mapstructure:"retry_min"`
	RetryMax      time.Duration `mapstructure:"retry_max"`
	Workers       int           `mapstructure:"workers"`
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RedisURL string `mapstructure:"redis_url"`
	Channel  string `mapstructure:"channel"`
}

// LibraryConfig points the catalog scanner at a directory of kara files.
type LibraryConfig struct {
	Path    string `mapstructure:"path"`
	Watch   bool   `mapstructure:"watch"`
	Workers int    `mapstructure:"workers"`
}

// DejaVuWindow returns the dejavu window as a duration.
func (c PlaylistConfig) DejaVuWindow() time.Duration {
	return time.Duration(c.MaxDejaVuTime) * time.Minute
}

func (c *Config) Validate() error {
	if _, err := domain.ParseQuotaType(c.Quota.Type); err != nil {
		return err
	}
	if c.Quota.Songs < 0 || c.Quota.Time < 0 {
		return domain.NewValidationError("quota", "limits cannot be negative")
	}
	if c.Quota.FreeUpvotes && c.Quota.FreeUpvotesRequiredMin < 1 {
		return domain.NewValidationError("quota.free_upvotes_required_min", "must be at least 1")
	}
	if c.Playlist.MaxDejaVuTime < 0 {
		return domain.NewValidationError("playlist.max_dejavu_time", "cannot be negative")
	}
	if c.Engine.RetryAttempts < 1 {
		return domain.NewValidationError("engine.retry_attempts", "must be at least 1")
	}
	if c.Engine.RetryMin > c.Engine.RetryMax {
		return domain.NewValidationError("engine.retry_min", "must not exceed engine.retry_max")
	}
	if c.Engine.Workers < 1 {
		return domain.NewValidationError("engine.workers", "must be at least 1")
	}
	if c.Library.Workers < 1 {
		return domain.NewValidationError("library.workers", "must be at least 1")
	}
	if c.Notify.Enabled && c.Notify.RedisURL == "" {
		return domain.NewValidationError("notify.redis_url", "required when notifications are enabled")
	}
	return nil
}

// Loader owns the viper instance behind a Config and keeps it current when
// the file changes on disk.
type Loader struct {
	v        *viper.Viper
	mu       sync.RWMutex
	cfg      *Config
	onChange []func(*Config)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Load reads path (or the default search paths when path is empty) on top
// of the defaults and KARAQUEUE_* environment variables. A missing file in
// the search paths is not an error.
func Load(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(userConfigDir())
		v.AddConfigPath("/etc/karaqueue")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg
	return l, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Config returns a copy of the active configuration.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.cfg
}

// OnChange registers fn to run with the new configuration after a reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts reloading the configuration whenever its file changes.
// Invalid edits are logged and ignored.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.Reload(); err != nil {
			logger.Warn("Ignoring invalid configuration change",
				logger.String("file", e.Name),
				logger.Err(err))
			return
		}
		logger.Info("Configuration reloaded", logger.String("file", e.Name))
	})
	l.v.WatchConfig()
}

// Reload re-reads the file and notifies OnChange subscribers.
func (l *Loader) Reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := l.decode()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	subscribers := append([]func(*Config){}, l.onChange...)
	l.mu.Unlock()

	for _, fn := range subscribers {
		fn(cfg)
	}
	return nil
}

// WriteDefault writes the current settings to path unless a file exists.
func (l *Loader) WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return l.v.SafeWriteConfigAs(path)
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", filepath.Join(dataDir(), "karaqueue.db"))
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 10*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.log_level", "warn")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.file_path", filepath.Join(dataDir(), "logs", "karaqueue.log"))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.json_format", false)
	v.SetDefault("log.caller", false)

	v.SetDefault("playlist.max_dejavu_time", 60)

	// Quota defaults
	v.SetDefault("quota.type", string(domain.QuotaCount))
	v.SetDefault("quota.songs", 2)
	v.SetDefault("quota.time", 300)
	v.SetDefault("quota.free_upvotes", false)
	v.SetDefault("quota.free_upvotes_required_min", 1)
	v.SetDefault("quota.free_accepted_songs", true)

	// Engine defaults
	v.SetDefault("engine.retry_attempts", 5)
	v.SetDefault("engine.retry_min", 100*time.Millisecond)
	v.SetDefault("engine.retry_max", 200*time.Millisecond)
	v.SetDefault("engine.workers", 4)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.redis_url", "redis://localhost:6379/0")
	v.SetDefault("notify.channel", "karaqueue:events")

	v.SetDefault("library.path", filepath.Join(dataDir(), "karaokes"))
	v.SetDefault("library.watch", false)
	v.SetDefault("library.workers", 4)
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "karaqueue")
	}
	return "."
}

func dataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "karaqueue")
	}
	return "."
}
