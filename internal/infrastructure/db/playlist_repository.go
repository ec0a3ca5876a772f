package db

import (
	"context"
	"fmt"

	"github.com/karaqueue/karaqueue/internal/domain"
	"gorm.io/gorm"
)

func (s *Store) CreatePlaylist(ctx context.Context, p *domain.Playlist) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.conn(ctx).Create(p).Error; err != nil {
		return translate(fmt.Errorf("failed to create playlist: %w", err), domain.ErrConcurrentWrite)
	}
	return nil
}

func (s *Store) UpdatePlaylist(ctx context.Context, p *domain.Playlist) error {
	if err := p.Validate(); err != nil {
		return err
	}

	result := s.conn(ctx).Model(&domain.Playlist{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"name":         p.Name,
			"owner":        p.Owner,
			"flag_current": p.Flags.Current,
			"flag_public":  p.Flags.Public,
			"flag_visible": p.Flags.Visible,
			"kara_count":   p.KaraCount,
			"duration":     p.Duration,
			"time_left":    p.TimeLeft,
			"modified_at":  p.ModifiedAt,
			"version":      p.Version + 1,
		})
	if result.Error != nil {
		return translate(fmt.Errorf("failed to update playlist: %w", result.Error), domain.ErrConcurrentWrite)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := s.conn(ctx).Model(&domain.Playlist{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
			return translate(fmt.Errorf("failed to check playlist: %w", err), domain.ErrConcurrentWrite)
		}
		if count == 0 {
			return domain.NewNotFoundError("playlist", p.ID)
		}
		return fmt.Errorf("%w: playlist %s changed since it was read", domain.ErrConcurrentWrite, p.ID)
	}

	p.Version++
	return nil
}

// DeletePlaylist removes a playlist together with its entries and their upvotes.
func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	db := s.conn(ctx)
	if err := db.Where("entry_id IN (?)", db.Model(&domain.PlaylistEntry{}).Select("id").Where("playlist_id = ?", id)).
		Delete(&domain.Upvote{}).Error; err != nil {
		return translate(fmt.Errorf("failed to delete upvotes: %w", err), domain.ErrConcurrentWrite)
	}
	if err := db.Where("playlist_id = ?", id).Delete(&domain.PlaylistEntry{}).Error; err != nil {
		return translate(fmt.Errorf("failed to delete playlist entries: %w", err), domain.ErrConcurrentWrite)
	}

	result := db.Delete(&domain.Playlist{}, "id = ?", id)
	if result.Error != nil {
		return translate(fmt.Errorf("failed to delete playlist: %w", result.Error), domain.ErrConcurrentWrite)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("playlist", id)
	}
	return nil
}

func (s *Store) GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	var p domain.Playlist
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(notFound(err, "playlist", id), domain.ErrConcurrentWrite)
	}
	return &p, nil
}

func (s *Store) ListPlaylists(ctx context.Context, visibleOnly bool) ([]*domain.Playlist, error) {
	var playlists []*domain.Playlist
	q := s.conn(ctx).Order("created_at, name")
	if visibleOnly {
		q = q.Where("flag_visible = ?", true)
	}
	if err := q.Find(&playlists).Error; err != nil {
		return nil, translate(fmt.Errorf("failed to list playlists: %w", err), domain.ErrConcurrentWrite)
	}
	return playlists, nil
}

func (s *Store) RoleHolder(ctx context.Context, role domain.Role) (*domain.Playlist, error) {
	if !role.Valid() {
		return nil, domain.NewValidationError("role", "unknown role "+string(role))
	}
	var p domain.Playlist
	err := s.conn(ctx).Where("flag_"+string(role)+" = ?", true).Take(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, translate(fmt.Errorf("failed to find %s playlist: %w", role, err), domain.ErrConcurrentWrite)
	}
	return &p, nil
}
