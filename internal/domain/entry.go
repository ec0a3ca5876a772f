package domain

import (
	"time"

	"github.com/google/uuid"
)

// Position selects where new entries land in a playlist.
type Position int

const (
	// PositionEnd appends after the current maximum position.
	PositionEnd Position = 0
	// PositionAfterCursor inserts right after the playing entry.
	PositionAfterCursor Position = -1
)

func (p Position) Validate() error {
	if p < PositionAfterCursor {
		return NewValidationError("pos", "position must be -1, 0 or a positive index")
	}
	return nil
}

type EntryFlags struct {
	Playing bool `json:"playing" gorm:"not null;default:false"`
	Free    bool `json:"free" gorm:"not null;default:false"`
	Visible bool `json:"visible" gorm:"not null"`
}

// PlaylistEntry is one song placed in one playlist (a PLC).
type PlaylistEntry struct {
	ID         string     `json:"plcid" gorm:"primaryKey"`
	PlaylistID string     `json:"plaid" gorm:"not null;index"`
	SongID     string     `json:"kid" gorm:"not null;index"`
	Username   string     `json:"username" gorm:"index"`
	Nickname   string     `json:"nickname"`
	Position   float64    `json:"pos" gorm:"not null"`
	Duration   int        `json:"duration" gorm:"not null;default:0"` // seconds, copied from the catalog
	Flags      EntryFlags `json:"flags" gorm:"embedded;embeddedPrefix:flag_"`
	CreatedAt  time.Time  `json:"created_at"`
}

func NewPlaylistEntry(playlistID string, song *Song, by Requester, now time.Time) *PlaylistEntry {
	return &PlaylistEntry{
		ID:         uuid.NewString(),
		PlaylistID: playlistID,
		SongID:     song.ID,
		Username:   by.Username,
		Nickname:   by.DisplayName(),
		Duration:   song.Duration,
		Flags:      EntryFlags{Visible: true},
		CreatedAt:  now,
	}
}

// CopyTo returns a new entry for the same song and requester in another
// playlist. Flags are not carried over.
func (e *PlaylistEntry) CopyTo(playlistID string, now time.Time) *PlaylistEntry {
	return &PlaylistEntry{
		ID:         uuid.NewString(),
		PlaylistID: playlistID,
		SongID:     e.SongID,
		Username:   e.Username,
		Nickname:   e.Nickname,
		Duration:   e.Duration,
		Flags:      EntryFlags{Visible: true},
		CreatedAt:  now,
	}
}

// Requester identifies who issues an operation.
type Requester struct {
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Admin    bool   `json:"admin"`
}

func (r Requester) DisplayName() string {
	if r.Nickname != "" {
		return r.Nickname
	}
	return r.Username
}

func (r Requester) Validate() error {
	if r.Username == "" {
		return NewValidationError("username", "username is required")
	}
	return nil
}

type Upvote struct {
	EntryID   string    `json:"plcid" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

type PlayedSong struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	SongID   string    `gorm:"not null;index"`
	PlayedAt time.Time `gorm:"not null;index"`
}

// EntryView is the read projection of a PlaylistEntry.
type EntryView struct {
	*PlaylistEntry
	Title           string     `json:"title"`
	Series          string     `json:"series,omitempty"`
	Tags            []Tag      `json:"tags,omitempty"`
	Index           int        `json:"index"`
	TimeBeforePlay  int        `json:"time_before_play"`
	FlagDejavu      bool       `json:"flag_dejavu"`
	LastPlayedAt    *time.Time `json:"lastplayed_at,omitempty"`
	Upvotes         int        `json:"upvotes"`
	FlagUpvoted     bool       `json:"flag_upvoted"`
	FlagBlacklisted bool       `json:"flag_blacklisted"`
	FlagWhitelisted bool       `json:"flag_whitelisted"`
}

// EntryQuery drives list reads.
type EntryQuery struct {
	Filter string
	Lang   string
	From   int
	Size   int
	Viewer string
}

type EntryPage struct {
	Entries []*EntryView `json:"content"`
	Total   int          `json:"count"`
	From    int          `json:"from"`
	To      int          `json:"to"`
}

func (PlaylistEntry) TableName() string { return "playlist_entries" }
func (PlayedSong) TableName() string    { return "played_songs" }
