package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/karaqueue/karaqueue/internal/domain"
	"gorm.io/gorm/clause"
)

func (s *Store) InsertEntries(ctx context.Context, entries []*domain.PlaylistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.conn(ctx).CreateInBatches(entries, 100).Error; err != nil {
		return translate(fmt.Errorf("failed to insert playlist entries: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*domain.PlaylistEntry, error) {
	var e domain.PlaylistEntry
	if err := s.conn(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, translate(notFound(err, "playlist entry", id), domain.ErrConcurrentWrite)
	}
	return &e, nil
}

// GetEntries returns the entries in the order of ids. Any unknown id fails
// the whole call.
func (s *Store) GetEntries(ctx context.Context, ids []string) ([]*domain.PlaylistEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []*domain.PlaylistEntry
	if err := s.conn(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to get playlist entries: %w", err), domain.ErrConcurrentWrite)
	}

	byID := make(map[string]*domain.PlaylistEntry, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]*domain.PlaylistEntry, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			return nil, domain.NewNotFoundError("playlist entry", id)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) ListEntries(ctx context.Context, playlistID string) ([]*domain.PlaylistEntry, error) {
	var entries []*domain.PlaylistEntry
	if err := s.conn(ctx).Where("playlist_id = ?", playlistID).Order("position").Find(&entries).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list playlist entries: %w", err), domain.ErrConcurrentWrite)
	}
	return entries, nil
}

func (s *Store) ListEntriesByUser(ctx context.Context, playlistID, username string) ([]*domain.PlaylistEntry, error) {
	var entries []*domain.PlaylistEntry
	if err := s.conn(ctx).Where("playlist_id = ? AND username = ?", playlistID, username).
		Order("position").Find(&entries).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list user entries: %w", err), domain.ErrConcurrentWrite)
	}
	return entries, nil
}

// SetPositions parks every moved entry on a unique negative position first,
// then writes the final values, so no intermediate state violates the
// (playlist_id, position) uniqueness constraint.
func (s *Store) SetPositions(ctx context.Context, playlistID string, positions map[string]float64) error {
	if len(positions) == 0 {
		return nil
	}

	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	db := s.conn(ctx)
	for i, id := range ids {
		result := db.Model(&domain.PlaylistEntry{}).
			Where("id = ? AND playlist_id = ?", id, playlistID).
			Update("position", -float64(i+1))
		if result.Error != nil {
			return translate(fmt.Errorf("failed to move playlist entry: %w", result.Error), domain.ErrConcurrentWrite)
		}
		if result.RowsAffected == 0 {
			return domain.NewNotFoundError("playlist entry", id)
		}
	}

	for _, id := range ids {
		if err := db.Model(&domain.PlaylistEntry{}).
			Where("id = ?", id).
			Update("position", positions[id]).Error; err != nil {
			return translate(fmt.Errorf("failed to move playlist entry: %w", err), domain.ErrConcurrentWrite)
		}
	}
	return nil
}

func (s *Store) SetPlaying(ctx context.Context, playlistID, entryID string) error {
	db := s.conn(ctx)
	if err := db.Model(&domain.PlaylistEntry{}).
		Where("playlist_id = ? AND flag_playing = ?", playlistID, true).
		Update("flag_playing", false).Error; err != nil {
		return translate(fmt.Errorf("failed to clear playing entry: %w", err), domain.ErrConcurrentWrite)
	}
	if entryID == "" {
		return nil
	}

	result := db.Model(&domain.PlaylistEntry{}).
		Where("id = ? AND playlist_id = ?", entryID, playlistID).
		Update("flag_playing", true)
	if result.Error != nil {
		return translate(fmt.Errorf("failed to set playing entry: %w", result.Error), domain.ErrConcurrentWrite)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("playlist entry", entryID)
	}
	return nil
}

func (s *Store) MarkFree(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.conn(ctx).Model(&domain.PlaylistEntry{}).
		Where("id IN ? AND flag_free = ?", ids, false).
		Update("flag_free", true).Error; err != nil {
		return translate(fmt.Errorf("failed to free playlist entries: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db := s.conn(ctx)
	if err := db.Where("entry_id IN ?", ids).Delete(&domain.Upvote{}).Error; err != nil {
		return translate(fmt.Errorf("failed to delete upvotes: %w", err), domain.ErrConcurrentWrite)
	}
	result := db.Where("id IN ?", ids).Delete(&domain.PlaylistEntry{})
	if result.Error != nil {
		return translate(fmt.Errorf("failed to delete playlist entries: %w", result.Error), domain.ErrConcurrentWrite)
	}
	if int(result.RowsAffected) != len(ids) {
		return fmt.Errorf("%w: %d of %d entries were already gone", domain.ErrConcurrentWrite, len(ids)-int(result.RowsAffected), len(ids))
	}
	return nil
}

func (s *Store) DeletePlaylistEntries(ctx context.Context, playlistID string) error {
	db := s.conn(ctx)
	if err := db.Where("entry_id IN (?)", db.Model(&domain.PlaylistEntry{}).Select("id").Where("playlist_id = ?", playlistID)).
		Delete(&domain.Upvote{}).Error; err != nil {
		return translate(fmt.Errorf("failed to delete upvotes: %w", err), domain.ErrConcurrentWrite)
	}
	if err := db.Where("playlist_id = ?", playlistID).Delete(&domain.PlaylistEntry{}).Error; err != nil {
		return translate(fmt.Errorf("failed to empty playlist: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) AddUpvote(ctx context.Context, u *domain.Upvote) error {
	result := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(u)
	if result.Error != nil {
		return translate(fmt.Errorf("failed to add upvote: %w", result.Error), domain.ErrConcurrentWrite)
	}
	if result.RowsAffected == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *Store) RemoveUpvote(ctx context.Context, entryID, username string) error {
	result := s.conn(ctx).Delete(&domain.Upvote{}, "entry_id = ? AND username = ?", entryID, username)
	if result.Error != nil {
		return translate(fmt.Errorf("failed to remove upvote: %w", result.Error), domain.ErrConcurrentWrite)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("upvote", entryID)
	}
	return nil
}

func (s *Store) ListUpvotes(ctx context.Context, entryIDs []string) ([]domain.Upvote, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}
	var upvotes []domain.Upvote
	if err := s.conn(ctx).Where("entry_id IN ?", entryIDs).Order("created_at").Find(&upvotes).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list upvotes: %w", err), domain.ErrConcurrentWrite)
	}
	return upvotes, nil
}

