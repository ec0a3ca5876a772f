package db

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/karaqueue/karaqueue/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SongRepository reads and writes the catalog tables that the media scanner
// fills. The engine only reads them.
// maxQueryIDs keeps IN lists under the sqlite bound variable limit.
const maxQueryIDs = 500

type SongRepository struct {
	db       *gorm.DB
	database *Database
}

func NewSongRepository(database *Database) *SongRepository {
	return &SongRepository{
		db:       database.DB(),
		database: database,
	}
}

// Upsert writes songs and their tags, replacing the tag set of each song.
func (r *SongRepository) Upsert(ctx context.Context, songs []*domain.Song) error {
	for _, s := range songs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("validation failed for song %s: %w", s.ID, err)
		}
	}

	release, err := r.database.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range songs {
			if len(s.Tags) > 0 {
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&s.Tags).Error; err != nil {
					return fmt.Errorf("failed to save tags: %w", err)
				}
			}
			if err := tx.Omit("Tags").Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error; err != nil {
				return fmt.Errorf("failed to save song: %w", err)
			}
			if err := tx.Model(s).Association("Tags").Replace(s.Tags); err != nil {
				return fmt.Errorf("failed to link song tags: %w", err)
			}
		}
		return nil
	})
}

func (r *SongRepository) Delete(ctx context.Context, id string) error {
	release, err := r.database.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	song := &domain.Song{ID: id}
	if err := r.db.WithContext(ctx).Model(song).Association("Tags").Clear(); err != nil {
		return fmt.Errorf("failed to unlink song tags: %w", err)
	}
	result := r.db.WithContext(ctx).Delete(&domain.Song{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete song: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("song", id)
	}
	return nil
}

func (r *SongRepository) FindByID(ctx context.Context, id string) (*domain.Song, error) {
	var song domain.Song
	if err := r.db.WithContext(ctx).Preload("Tags").First(&song, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NewNotFoundError("song", id)
		}
		return nil, fmt.Errorf("failed to find song: %w", err)
	}
	return &song, nil
}

// FindByIDs returns the songs among ids that exist, in id order.
func (r *SongRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.Song, error) {
	var songs []*domain.Song
	for start := 0; start < len(ids); start += maxQueryIDs {
		end := start + maxQueryIDs
		if end > len(ids) {
			end = len(ids)
		}
		var chunk []*domain.Song
		if err := r.db.WithContext(ctx).Preload("Tags").Where("id IN ?", ids[start:end]).Find(&chunk).Error; err != nil {
			return nil, fmt.Errorf("failed to find songs: %w", err)
		}
		songs = append(songs, chunk...)
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].ID < songs[j].ID })
	return songs, nil
}

func (r *SongRepository) FindAll(ctx context.Context) ([]*domain.Song, error) {
	var songs []*domain.Song
	if err := r.db.WithContext(ctx).Preload("Tags").Order("id").Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("failed to find all songs: %w", err)
	}
	return songs, nil
}

func (r *SongRepository) Search(ctx context.Context, query string, limit int) ([]*domain.Song, error) {
	var songs []*domain.Song

	query = strings.TrimSpace(query)
	if query == "" {
		return songs, nil
	}

	const maxQueryLength = 100
	if len(query) > maxQueryLength {
		query = query[:maxQueryLength]
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	searchPattern := "%" + strings.ToLower(sanitizeSearchQuery(query)) + "%"
	if err := r.db.WithContext(ctx).Preload("Tags").Where(
		"LOWER(title) LIKE ? OR LOWER(series) LIKE ? OR LOWER(titles) LIKE ?",
		searchPattern, searchPattern, searchPattern,
	).Limit(limit).Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("failed to search songs: %w", err)
	}
	return songs, nil
}

// sanitizeSearchQuery removes potentially dangerous characters from search queries
func sanitizeSearchQuery(query string) string {
	replacer := strings.NewReplacer(
		"--", "",
		"/*", "",
		"*/", "",
		";", "",
		"\\", "",
		"\x00", "",
		"\n", " ",
		"\r", " ",
		"\t", " ",
	)
	return replacer.Replace(query)
}

func (r *SongRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Song{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count songs: %w", err)
	}
	return count, nil
}
