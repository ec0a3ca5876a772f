// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/infrastructure/db"
	"github.com/stretchr/testify/require"
)

// SetupTestDatabase opens a migrated sqlite database in a temp dir and
// closes it when the test ends.
func SetupTestDatabase(t *testing.T) *db.Database {
	t.Helper()

	cfg := db.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.LogLevel = "silent"

	database, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// SetupTestStore returns a Store over a fresh test database.
func SetupTestStore(t *testing.T) (*db.Database, *db.Store) {
	t.Helper()
	database := SetupTestDatabase(t)
	return database, db.NewStore(database)
}

// SeedSongs writes songs to the catalog tables.
func SeedSongs(t *testing.T, database *db.Database, songs ...*domain.Song) {
	t.Helper()
	require.NoError(t, db.NewSongRepository(database).Upsert(context.Background(), songs))
}

// Song builds a catalog song with the given duration in seconds.
func Song(id string, duration int) *domain.Song {
	return &domain.Song{ID: id, Title: "Song " + id, Duration: duration}
}

// Clock is a settable domain.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder is a domain.Notifier that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Emit(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Has reports whether an event with name and payload was received.
func (r *Recorder) Has(name domain.EventName, payload string) bool {
	for _, ev := range r.Events() {
		if ev.Name == name && ev.Payload == payload {
			return true
		}
	}
	return false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
