package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxPlaylistNameLength = 255

// Role is a playlist-wide flag that at most one playlist may hold.
type Role string

const (
	RoleCurrent Role = "current"
	RolePublic  Role = "public"
)

func (r Role) Valid() bool {
	return r == RoleCurrent || r == RolePublic
}

type PlaylistFlags struct {
	Current bool `json:"current" gorm:"not null;default:false"`
	Public  bool `json:"public" gorm:"not null;default:false"`
	Visible bool `json:"visible" gorm:"not null"`
}

// Has reports whether the flags hold role.
func (f PlaylistFlags) Has(role Role) bool {
	switch role {
	case RoleCurrent:
		return f.Current
	case RolePublic:
		return f.Public
	}
	return false
}

func (f *PlaylistFlags) Set(role Role, value bool) {
	switch role {
	case RoleCurrent:
		f.Current = value
	case RolePublic:
		f.Public = value
	}
}

type Playlist struct {
	ID         string        `json:"id" gorm:"primaryKey"`
	Name       string        `json:"name" gorm:"not null;index"`
	Owner      string        `json:"owner" gorm:"index"`
	Flags      PlaylistFlags `json:"flags" gorm:"embedded;embeddedPrefix:flag_"`
	KaraCount  int           `json:"karacount" gorm:"not null;default:0"`
	Duration   int           `json:"duration" gorm:"not null;default:0"`  // seconds
	TimeLeft   int           `json:"time_left" gorm:"not null;default:0"` // seconds
	Version    int           `json:"version" gorm:"not null;default:1"`
	CreatedAt  time.Time     `json:"created_at"`
	ModifiedAt time.Time     `json:"modified_at"`
}

// PlaylistPatch carries the editable fields of a playlist. Nil fields are
// left untouched.
type PlaylistPatch struct {
	Name    *string
	Owner   *string
	Visible *bool
}

func NewPlaylist(name, owner string, flags PlaylistFlags, now time.Time) (*Playlist, error) {
	p := &Playlist{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		Owner:      owner,
		Flags:      flags,
		Version:    1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Playlist) Validate() error {
	if p.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if len(p.Name) > MaxPlaylistNameLength {
		return NewValidationError("name", "name is too long")
	}
	if p.Flags.Current && p.Flags.Public {
		return &ConflictError{Message: "a playlist cannot be both current and public"}
	}
	return nil
}

// Apply copies the non-nil fields of patch onto p.
func (p *Playlist) Apply(patch PlaylistPatch, now time.Time) error {
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Owner != nil {
		p.Owner = *patch.Owner
	}
	if patch.Visible != nil {
		p.Flags.Visible = *patch.Visible
	}
	p.ModifiedAt = now
	return p.Validate()
}

// HoldsRole reports whether p holds either exclusive role.
func (p *Playlist) HoldsRole() (Role, bool) {
	switch {
	case p.Flags.Current:
		return RoleCurrent, true
	case p.Flags.Public:
		return RolePublic, true
	}
	return "", false
}
