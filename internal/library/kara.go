package library

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/karaqueue/karaqueue/internal/domain"
)

// KaraFile is the on-disk metadata of one karaoke.
type KaraFile struct {
	Header struct {
		Version int `json:"version"`
	} `json:"header"`
	Medias []struct {
		Filename string `json:"filename"`
		Duration int    `json:"duration"`
	} `json:"medias"`
	Data struct {
		KID                   string               `json:"kid"`
		Titles                map[string]string    `json:"titles"`
		TitlesDefaultLanguage string               `json:"titles_default_language"`
		Series                string               `json:"series"`
		SeriesAliases         []string             `json:"series_aliases"`
		Tags                  map[string][]KaraTag `json:"tags"`
	} `json:"data"`
}

type KaraTag struct {
	TID     string   `json:"tid"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

const maxKaraVersion = 4

// ParseKara decodes one kara file into a catalog song.
func ParseKara(r io.Reader) (*domain.Song, error) {
	var kf KaraFile
	if err := json.NewDecoder(r).Decode(&kf); err != nil {
		return nil, fmt.Errorf("failed to decode kara file: %w", err)
	}
	return kf.Song()
}

// ReadKaraFile parses the kara file at path.
func ReadKaraFile(path string) (*domain.Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseKara(f)
}

func (kf *KaraFile) Song() (*domain.Song, error) {
	if kf.Header.Version > maxKaraVersion {
		return nil, domain.NewValidationError("header.version", fmt.Sprintf("unsupported kara version %d", kf.Header.Version))
	}

	song := &domain.Song{
		ID:            strings.TrimSpace(kf.Data.KID),
		Titles:        kf.Data.Titles,
		Series:        kf.Data.Series,
		SeriesAliases: kf.Data.SeriesAliases,
	}

	song.Title = kf.Data.Titles[kf.Data.TitlesDefaultLanguage]
	if song.Title == "" {
		song.Title = kf.Data.Titles[domain.FallbackLanguage]
	}
	if song.Title == "" {
		for _, t := range kf.Data.Titles {
			if t > song.Title {
				song.Title = t
			}
		}
	}

	if len(kf.Medias) > 0 {
		song.Duration = kf.Medias[0].Duration
	}

	types := make([]string, 0, len(kf.Data.Tags))
	for typ := range kf.Data.Tags {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		tags := kf.Data.Tags[typ]
		tagType := domain.TagType(typ)
		if !tagType.Valid() {
			return nil, domain.NewValidationError("data.tags", "unknown tag type "+typ)
		}
		for _, t := range tags {
			if t.TID == "" || t.Name == "" {
				return nil, domain.NewValidationError("data.tags", "tag needs a tid and a name")
			}
			song.Tags = append(song.Tags, domain.Tag{ID: t.TID, Name: t.Name, Type: tagType, Aliases: t.Aliases})
		}
	}

	if err := song.Validate(); err != nil {
		return nil, err
	}
	if song.Title == "" {
		return nil, domain.NewValidationError("data.titles", "at least one title is required")
	}
	return song, nil
}
