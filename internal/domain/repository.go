package domain

import (
	"context"
	"time"
)

// Tx is the set of persistence operations available inside one atomic unit
// of work. Multi-row writes issued through the same Tx commit together.
type Tx interface {
	PlaylistRepository
	EntryRepository
	BlacklistRepository
	HistoryRepository
}

// Store runs work against the persistent store. Reads made through the
// embedded Tx outside of WithTx are autocommitted.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type PlaylistRepository interface {
	CreatePlaylist(ctx context.Context, p *Playlist) error
	// UpdatePlaylist writes p if its Version still matches the stored one and
	// bumps Version. A stale Version yields ErrConcurrentWrite.
	UpdatePlaylist(ctx context.Context, p *Playlist) error
	DeletePlaylist(ctx context.Context, id string) error
	GetPlaylist(ctx context.Context, id string) (*Playlist, error)
	ListPlaylists(ctx context.Context, visibleOnly bool) ([]*Playlist, error)
	// RoleHolder returns the playlist holding role, or nil.
	RoleHolder(ctx context.Context, role Role) (*Playlist, error)
}

type EntryRepository interface {
	InsertEntries(ctx context.Context, entries []*PlaylistEntry) error
	GetEntry(ctx context.Context, id string) (*PlaylistEntry, error)
	GetEntries(ctx context.Context, ids []string) ([]*PlaylistEntry, error)
	// ListEntries returns the entries of a playlist ordered by position.
	ListEntries(ctx context.Context, playlistID string) ([]*PlaylistEntry, error)
	ListEntriesByUser(ctx context.Context, playlistID, username string) ([]*PlaylistEntry, error)
	// SetPositions rewrites the positions of several entries of one playlist
	// atomically, without tripping the per-playlist uniqueness constraint.
	SetPositions(ctx context.Context, playlistID string, positions map[string]float64) error
	// SetPlaying moves the playing flag of a playlist to entryID. An empty
	// entryID clears it.
	SetPlaying(ctx context.Context, playlistID, entryID string) error
	// MarkFree sets the free flag. There is no way to clear it.
	MarkFree(ctx context.Context, ids []string) error
	DeleteEntries(ctx context.Context, ids []string) error
	DeletePlaylistEntries(ctx context.Context, playlistID string) error

	AddUpvote(ctx context.Context, u *Upvote) error
	RemoveUpvote(ctx context.Context, entryID, username string) error
	ListUpvotes(ctx context.Context, entryIDs []string) ([]Upvote, error)
}

type BlacklistRepository interface {
	CreateCriteria(ctx context.Context, criteria []*BlacklistCriterion) error
	GetCriterion(ctx context.Context, id string) (*BlacklistCriterion, error)
	ListCriteria(ctx context.Context) ([]*BlacklistCriterion, error)
	DeleteCriterion(ctx context.Context, id string) error
	DeleteAllCriteria(ctx context.Context) error

	// ReplaceBlacklist swaps the whole generated blacklist for entries.
	ReplaceBlacklist(ctx context.Context, entries []BlacklistEntry) error
	ListBlacklist(ctx context.Context) ([]BlacklistEntry, error)

	AddWhitelist(ctx context.Context, entries []WhitelistEntry) error
	RemoveWhitelist(ctx context.Context, songIDs []string) error
	ListWhitelist(ctx context.Context) ([]WhitelistEntry, error)
}

type HistoryRepository interface {
	RecordPlayed(ctx context.Context, songID string, at time.Time) error
	// LastPlayed returns, per song, the most recent play at or after since.
	LastPlayed(ctx context.Context, songIDs []string, since time.Time) (map[string]time.Time, error)
}

// Catalog is the read-only song metadata source.
type Catalog interface {
	GetSong(ctx context.Context, id string) (*Song, error)
	ListSongs(ctx context.Context) ([]*Song, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
