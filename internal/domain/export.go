package domain

import (
	"strconv"
	"time"
)

const (
	ExportDescription = "Karaqueue Playlist File"
	ExportVersion     = 4
)

// PlaylistExport is the portable playlist file. It carries song ids and
// flags only, never catalog metadata.
type PlaylistExport struct {
	Header              ExportHeader     `json:"Header"`
	PlaylistContents    []ExportedEntry  `json:"PlaylistContents"`
	PlaylistInformation ExportedPlaylist `json:"PlaylistInformation"`
}

type ExportHeader struct {
	Description string `json:"description"`
	Version     int    `json:"version"`
}

type ExportedEntry struct {
	SongID      string     `json:"kid"`
	FlagPlaying bool       `json:"flag_playing,omitempty"`
	FlagFree    bool       `json:"flag_free,omitempty"`
	Username    string     `json:"username,omitempty"`
	Nickname    string     `json:"nickname,omitempty"`
	Position    int        `json:"pos,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type ExportedPlaylist struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
	FlagVisible bool      `json:"flag_visible"`
	TimeLeft    int       `json:"time_left"`
}

func (e *PlaylistExport) Validate() error {
	if e.Header.Version <= 0 || e.Header.Version > ExportVersion {
		return NewValidationError("Header.version", "unsupported playlist file version")
	}
	if e.PlaylistInformation.Name == "" {
		return NewValidationError("PlaylistInformation.name", "name is required")
	}
	playing := 0
	for i, item := range e.PlaylistContents {
		if item.SongID == "" {
			return NewValidationError("PlaylistContents", "entry without kid at index "+strconv.Itoa(i))
		}
		if item.FlagPlaying {
			playing++
		}
	}
	if playing > 1 {
		return NewValidationError("PlaylistContents", "more than one entry is flagged playing")
	}
	return nil
}

// ImportReport lists what an import created and which song ids the catalog
// did not know.
type ImportReport struct {
	PlaylistID string   `json:"plaid"`
	Imported   int      `json:"imported"`
	Unknown    []string `json:"unknown_kids,omitempty"`
}
