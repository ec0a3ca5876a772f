package playlist

import (
	"context"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/karaqueue/karaqueue/internal/ordering"
)

// Play moves the playing flag of the entry's playlist onto entryID. The
// entry becomes free and its song is recorded as played.
func (r *Registry) Play(ctx context.Context, tx domain.Tx, now time.Time, entryID string) (*domain.PlaylistEntry, error) {
	e, err := tx.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if err := tx.SetPlaying(ctx, e.PlaylistID, e.ID); err != nil {
		return nil, err
	}
	if !e.Flags.Free {
		if err := tx.MarkFree(ctx, []string{e.ID}); err != nil {
			return nil, err
		}
	}
	if err := tx.RecordPlayed(ctx, e.SongID, now); err != nil {
		return nil, err
	}
	if _, err := r.Refresh(ctx, tx, now, e.PlaylistID); err != nil {
		return nil, err
	}

	e.Flags.Playing = true
	e.Flags.Free = true
	r.log.Debug("Now playing", logger.String("plaid", e.PlaylistID), logger.String("plcid", e.ID), logger.String("kid", e.SongID))
	return e, nil
}

// Next plays the entry after the playing one, or the first entry when
// nothing plays.
func (r *Registry) Next(ctx context.Context, tx domain.Tx, now time.Time, playlistID string) (*domain.PlaylistEntry, error) {
	entries, err := tx.ListEntries(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.NewValidationError("plaid", "playlist is empty")
	}

	next := ordering.Cursor(entries) + 1
	if next >= len(entries) {
		return nil, domain.NewValidationError("pos", "current position is the last entry")
	}
	return r.Play(ctx, tx, now, entries[next].ID)
}

// Previous plays the entry before the playing one.
func (r *Registry) Previous(ctx context.Context, tx domain.Tx, now time.Time, playlistID string) (*domain.PlaylistEntry, error) {
	entries, err := tx.ListEntries(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	switch c := ordering.Cursor(entries); {
	case c < 0:
		return nil, domain.NewValidationError("pos", "nothing is playing")
	case c == 0:
		return nil, domain.NewValidationError("pos", "current position is the first entry")
	default:
		return r.Play(ctx, tx, now, entries[c-1].ID)
	}
}

// StopPlaying clears the playing flag of a playlist.
func (r *Registry) StopPlaying(ctx context.Context, tx domain.Tx, now time.Time, playlistID string) error {
	if err := tx.SetPlaying(ctx, playlistID, ""); err != nil {
		return err
	}
	_, err := r.Refresh(ctx, tx, now, playlistID)
	return err
}
