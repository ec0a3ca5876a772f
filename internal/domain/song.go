package domain

import (
	"strings"
	"time"
)

// FallbackLanguage is tried when a title is missing in the requested language.
const FallbackLanguage = "eng"

type TagType string

const (
	TagTypeSinger     TagType = "singers"
	TagTypeSongwriter TagType = "songwriters"
	TagTypeCreator    TagType = "creators"
	TagTypeAuthor     TagType = "authors"
	TagTypeLanguage   TagType = "langs"
	TagTypeSongType   TagType = "songtypes"
	TagTypeSeries     TagType = "series"
	TagTypeFamily     TagType = "families"
	TagTypeOrigin     TagType = "origins"
	TagTypeGenre      TagType = "genres"
	TagTypePlatform   TagType = "platforms"
	TagTypeVersion    TagType = "versions"
	TagTypeGroup      TagType = "groups"
	TagTypeMisc       TagType = "misc"
)

var tagTypes = map[TagType]struct{}{
	TagTypeSinger: {}, TagTypeSongwriter: {}, TagTypeCreator: {}, TagTypeAuthor: {},
	TagTypeLanguage: {}, TagTypeSongType: {}, TagTypeSeries: {}, TagTypeFamily: {},
	TagTypeOrigin: {}, TagTypeGenre: {}, TagTypePlatform: {}, TagTypeVersion: {},
	TagTypeGroup: {}, TagTypeMisc: {},
}

func (t TagType) Valid() bool {
	_, ok := tagTypes[t]
	return ok
}

type Tag struct {
	ID      string   `json:"tid" gorm:"primaryKey"`
	Name    string   `json:"name" gorm:"not null;index"`
	Type    TagType  `json:"type" gorm:"not null;index"`
	Aliases []string `json:"aliases,omitempty" gorm:"serializer:json"`
}

// Song is catalog metadata for one karaoke, keyed by its KID.
type Song struct {
	ID            string            `json:"kid" gorm:"primaryKey"`
	Title         string            `json:"title" gorm:"not null"`
	Titles        map[string]string `json:"titles,omitempty" gorm:"serializer:json"`
	Series        string            `json:"series" gorm:"index"`
	SeriesAliases []string          `json:"series_aliases,omitempty" gorm:"serializer:json"`
	Duration      int               `json:"duration"` // seconds
	Tags          []Tag             `json:"tags" gorm:"many2many:song_tags;"`
	UpdatedAt     time.Time         `json:"modified_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (s *Song) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return NewValidationError("kid", "song id is required")
	}
	if s.Duration < 0 {
		return NewValidationError("duration", "duration cannot be negative")
	}
	return nil
}

// DisplayTitle picks the title in lang, then in FallbackLanguage, then the
// default title.
func (s *Song) DisplayTitle(lang string) string {
	if lang != "" {
		if t, ok := s.Titles[lang]; ok && t != "" {
			return t
		}
	}
	if t, ok := s.Titles[FallbackLanguage]; ok && t != "" {
		return t
	}
	return s.Title
}

// TagsOfType returns the tags of the given type.
func (s *Song) TagsOfType(t TagType) []Tag {
	var out []Tag
	for _, tag := range s.Tags {
		if tag.Type == t {
			out = append(out, tag)
		}
	}
	return out
}

// SeriesNames lists the series name and its aliases, plus any tag of type series.
func (s *Song) SeriesNames() []string {
	var names []string
	if s.Series != "" {
		names = append(names, s.Series)
	}
	names = append(names, s.SeriesAliases...)
	for _, tag := range s.TagsOfType(TagTypeSeries) {
		names = append(names, tag.Name)
		names = append(names, tag.Aliases...)
	}
	return names
}

// AllTitles lists the default title and every localized one.
func (s *Song) AllTitles() []string {
	titles := []string{s.Title}
	for _, t := range s.Titles {
		titles = append(titles, t)
	}
	return titles
}
