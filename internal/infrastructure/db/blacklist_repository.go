package db

import (
	"context"
	"fmt"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateCriteria(ctx context.Context, criteria []*domain.BlacklistCriterion) error {
	if len(criteria) == 0 {
		return nil
	}
	for _, c := range criteria {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if err := s.conn(ctx).Create(criteria).Error; err != nil {
		return translate(fmt.Errorf("failed to create blacklist criteria: %w", err), domain.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) GetCriterion(ctx context.Context, id string) (*domain.BlacklistCriterion, error) {
	var c domain.BlacklistCriterion
	if err := s.conn(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(notFound(err, "blacklist criterion", id), domain.ErrConcurrentWrite)
	}
	return &c, nil
}

func (s *Store) ListCriteria(ctx context.Context) ([]*domain.BlacklistCriterion, error) {
	var criteria []*domain.BlacklistCriterion
	if err := s.conn(ctx).Order("created_at, id").Find(&criteria).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list blacklist criteria: %w", err), domain.ErrConcurrentWrite)
	}
	return criteria, nil
}

func (s *Store) DeleteCriterion(ctx context.Context, id string) error {
	result := s.conn(ctx).Delete(&domain.BlacklistCriterion{}, "id = ?", id)
	if result.Error != nil {
		return translate(fmt.Errorf("failed to delete blacklist criterion: %w", result.Error), domain.ErrConcurrentWrite)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("blacklist criterion", id)
	}
	return nil
}

func (s *Store) DeleteAllCriteria(ctx context.Context) error {
	if err := s.conn(ctx).Where("1 = 1").Delete(&domain.BlacklistCriterion{}).Error; err != nil {
		return translate(fmt.Errorf("failed to empty blacklist criteria: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) ReplaceBlacklist(ctx context.Context, entries []domain.BlacklistEntry) error {
	db := s.conn(ctx)
	if err := db.Where("1 = 1").Delete(&domain.BlacklistEntry{}).Error; err != nil {
		return translate(fmt.Errorf("failed to clear blacklist: %w", err), domain.ErrConcurrentWrite)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := db.CreateInBatches(entries, 500).Error; err != nil {
		return translate(fmt.Errorf("failed to write blacklist: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) ListBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	var entries []domain.BlacklistEntry
	if err := s.conn(ctx).Order("song_id, criterion_id").Find(&entries).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list blacklist: %w", err), domain.ErrConcurrentWrite)
	}
	return entries, nil
}

// AddWhitelist inserts entries, refreshing the reason of songs already listed.
func (s *Store) AddWhitelist(ctx context.Context, entries []domain.WhitelistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "song_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason"}),
	}).Create(&entries).Error
	if err != nil {
		return translate(fmt.Errorf("failed to add to whitelist: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) RemoveWhitelist(ctx context.Context, songIDs []string) error {
	if len(songIDs) == 0 {
		return nil
	}
	if err := s.conn(ctx).Where("song_id IN ?", songIDs).Delete(&domain.WhitelistEntry{}).Error; err != nil {
		return translate(fmt.Errorf("failed to remove from whitelist: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	var entries []domain.WhitelistEntry
	if err := s.conn(ctx).Order("created_at, song_id").Find(&entries).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list whitelist: %w", err), domain.ErrConcurrentWrite)
	}
	return entries, nil
}

func (s *Store) RecordPlayed(ctx context.Context, songID string, at time.Time) error {
	if err := s.conn(ctx).Create(&domain.PlayedSong{SongID: songID, PlayedAt: at}).Error; err != nil {
		return translate(fmt.Errorf("failed to record played song: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) LastPlayed(ctx context.Context, songIDs []string, since time.Time) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	if len(songIDs) == 0 {
		return out, nil
	}

	var played []domain.PlayedSong
	if err := s.conn(ctx).
		Where("song_id IN ? AND played_at >= ?", songIDs, since).
		Order("played_at DESC").
		Find(&played).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to read play history: %w", err), domain.ErrConcurrentWrite)
	}

	for _, p := range played {
		if _, ok := out[p.SongID]; !ok {
			out[p.SongID] = p.PlayedAt
		}
	}
	return out, nil
}
