package engine

import (
	"context"
	"fmt"

	"github.com/karaqueue/karaqueue/internal/admission"
	"github.com/karaqueue/karaqueue/internal/catalog"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/quota"
)

// AddRequest asks for songs to be added to a playlist. An empty PlaylistID
// targets the public playlist; regular users may not target anything else.
type AddRequest struct {
	PlaylistID string
	SongIDs    []string
	Position   domain.Position
	By         domain.Requester
}

// AddSongs adds each song that passes the checks and reports the outcome
// per song. Requests from regular users are checked against the blacklist
// and their quota inside the transaction that inserts them; admins bypass
// both. A song already in the playlist is always refused.
func (e *Engine) AddSongs(ctx context.Context, req AddRequest) (*domain.BulkReport, error) {
	if err := req.By.Validate(); err != nil {
		return nil, err
	}
	if err := req.Position.Validate(); err != nil {
		return nil, err
	}
	if len(req.SongIDs) == 0 {
		return nil, domain.NewValidationError("kid", "at least one song is required")
	}

	songs := catalog.NewSnapshot(e.catalog)
	if _, _, err := songs.Resolve(ctx, req.SongIDs, e.opts.Workers); err != nil {
		return nil, err
	}

	var report *domain.BulkReport
	err := e.mutateWith(ctx, "add_songs", songs, func(u *unit) error {
		public, err := publicID(u)
		if err != nil {
			return err
		}
		target := req.PlaylistID
		if target == "" {
			if public == "" {
				return domain.NewNotFoundError("public playlist", "")
			}
			target = public
		}
		if !req.By.Admin && target != public {
			return domain.NewValidationError("plaid", "songs can only be requested into the public playlist")
		}
		p, err := u.tx.GetPlaylist(u.ctx, target)
		if err != nil {
			return err
		}
		report = &domain.BulkReport{PlaylistID: p.ID}

		checked := !req.By.Admin
		var (
			rules *admission.Evaluator
			mine  []*domain.PlaylistEntry
		)
		if checked {
			if rules, err = e.evaluator(u.ctx, u.tx); err != nil {
				return err
			}
			if mine, err = u.tx.ListEntriesByUser(u.ctx, p.ID, req.By.Username); err != nil {
				return err
			}
		}

		present, err := e.presentSongs(u, p.ID)
		if err != nil {
			return err
		}

		var accepted []*domain.PlaylistEntry
		for _, kid := range req.SongIDs {
			if _, dup := present[kid]; dup {
				report.Add(domain.Failed(kid, alreadyPresent(kid)))
				continue
			}
			song, err := u.songs.GetSong(u.ctx, kid)
			if domain.IsNotFound(err) {
				report.Add(domain.Failed(kid, err))
				continue
			}
			if err != nil {
				return err
			}

			if checked {
				if verdict := rules.Evaluate(song); !verdict.Admitted {
					report.Add(domain.Failed(kid, domain.NewValidationError("kid", "song is blacklisted: "+verdict.Reason())))
					continue
				}
				if err := e.quota.Check(req.By, mine); err != nil {
					report.Add(domain.Failed(kid, err))
					continue
				}
			}

			entry := domain.NewPlaylistEntry(p.ID, song, req.By, u.now)
			if checked {
				mine = quota.Charge(mine, entry)
			}
			present[kid] = struct{}{}
			accepted = append(accepted, entry)
			report.Add(domain.Succeeded(kid, entry.ID))
		}

		if len(accepted) == 0 {
			return nil
		}
		if err := e.ordering.Insert(u.ctx, u.tx, p.ID, req.Position, accepted); err != nil {
			return err
		}
		if err := e.contentsChanged(u, p.ID); err != nil {
			return err
		}
		return e.quotaChanged(u, accepted)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// CopyEntries copies entries into another playlist. Songs already in the
// destination are skipped and reported. When FreeAcceptedSongs is on,
// copying out of the public playlist frees the source entries.
func (e *Engine) CopyEntries(ctx context.Context, ids []string, toPlaylistID string, pos domain.Position) (*domain.BulkReport, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, domain.NewValidationError("plcid", "at least one entry is required")
	}

	var report *domain.BulkReport
	err := e.mutate(ctx, "copy_entries", func(u *unit) error {
		dest, err := u.tx.GetPlaylist(u.ctx, toPlaylistID)
		if err != nil {
			return err
		}
		report = &domain.BulkReport{PlaylistID: dest.ID}

		public, err := publicID(u)
		if err != nil {
			return err
		}
		present, err := e.presentSongs(u, dest.ID)
		if err != nil {
			return err
		}

		var copies, accepted []*domain.PlaylistEntry
		for _, id := range ids {
			src, err := u.tx.GetEntry(u.ctx, id)
			if domain.IsNotFound(err) {
				report.Add(domain.Failed("", err))
				continue
			}
			if err != nil {
				return err
			}
			if _, dup := present[src.SongID]; dup {
				report.Add(domain.Failed(src.SongID, alreadyPresent(src.SongID)))
				continue
			}

			c := src.CopyTo(dest.ID, u.now)
			present[src.SongID] = struct{}{}
			copies = append(copies, c)
			report.Add(domain.Succeeded(src.SongID, c.ID))

			if e.opts.FreeAcceptedSongs && public != "" && src.PlaylistID == public && dest.ID != public && !src.Flags.Free {
				accepted = append(accepted, src)
			}
		}

		if len(copies) == 0 {
			return nil
		}
		if err := e.ordering.Insert(u.ctx, u.tx, dest.ID, pos, copies); err != nil {
			return err
		}
		if err := e.contentsChanged(u, dest.ID); err != nil {
			return err
		}

		if len(accepted) == 0 {
			return nil
		}
		if err := u.tx.MarkFree(u.ctx, entryIDs(accepted)); err != nil {
			return err
		}
		u.emit(domain.EventPlaylistContentsUpdated, public)
		return e.quotaChanged(u, accepted)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RemoveEntries deletes entries, all or none. Regular users may only
// remove their own requests from the public playlist.
func (e *Engine) RemoveEntries(ctx context.Context, ids []string, by domain.Requester) error {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return domain.NewValidationError("plcid", "at least one entry is required")
	}

	return e.mutate(ctx, "remove_entries", func(u *unit) error {
		entries, err := u.tx.GetEntries(u.ctx, ids)
		if err != nil {
			return err
		}
		if !by.Admin {
			public, err := publicID(u)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if entry.PlaylistID != public || entry.Username != by.Username {
					return domain.NewValidationError("plcid", "only your own requests in the public playlist can be removed")
				}
			}
		}

		removed, err := e.ordering.RemoveEntries(u.ctx, u.tx, ids)
		if err != nil {
			return err
		}
		for _, playlistID := range playlistIDs(removed) {
			if err := e.contentsChanged(u, playlistID); err != nil {
				return err
			}
		}
		return e.quotaChanged(u, removed)
	})
}

// SetEntryPosition moves an entry to the 1-based index pos of its playlist.
func (e *Engine) SetEntryPosition(ctx context.Context, id string, pos int) error {
	return e.mutate(ctx, "set_entry_position", func(u *unit) error {
		entry, err := e.ordering.SetPosition(u.ctx, u.tx, id, pos)
		if err != nil {
			return err
		}
		return e.contentsChanged(u, entry.PlaylistID)
	})
}

// SetPlaying makes an entry the playing one of its playlist.
func (e *Engine) SetPlaying(ctx context.Context, id string) (*domain.PlaylistEntry, error) {
	return e.play(ctx, "set_playing", func(u *unit) (*domain.PlaylistEntry, error) {
		return e.registry.Play(u.ctx, u.tx, u.now, id)
	})
}

// Next advances the current playlist by one entry.
func (e *Engine) Next(ctx context.Context) (*domain.PlaylistEntry, error) {
	return e.play(ctx, "next", func(u *unit) (*domain.PlaylistEntry, error) {
		current, err := e.registry.Holder(u.ctx, u.tx, domain.RoleCurrent)
		if err != nil {
			return nil, err
		}
		return e.registry.Next(u.ctx, u.tx, u.now, current.ID)
	})
}

// Previous moves the current playlist back by one entry.
func (e *Engine) Previous(ctx context.Context) (*domain.PlaylistEntry, error) {
	return e.play(ctx, "previous", func(u *unit) (*domain.PlaylistEntry, error) {
		current, err := e.registry.Holder(u.ctx, u.tx, domain.RoleCurrent)
		if err != nil {
			return nil, err
		}
		return e.registry.Previous(u.ctx, u.tx, u.now, current.ID)
	})
}

func (e *Engine) play(ctx context.Context, op string, fn func(u *unit) (*domain.PlaylistEntry, error)) (*domain.PlaylistEntry, error) {
	var playing *domain.PlaylistEntry
	err := e.mutate(ctx, op, func(u *unit) error {
		var err error
		if playing, err = fn(u); err != nil {
			return err
		}
		u.emit(domain.EventPlaylistContentsUpdated, playing.PlaylistID)
		u.emit(domain.EventPlaylistInfoUpdated, playing.PlaylistID)
		return e.quotaChanged(u, []*domain.PlaylistEntry{playing})
	})
	if err != nil {
		return nil, err
	}
	return playing, nil
}

// StopPlaying clears the playing flag of a playlist.
func (e *Engine) StopPlaying(ctx context.Context, playlistID string) error {
	return e.mutate(ctx, "stop_playing", func(u *unit) error {
		if _, err := u.tx.GetPlaylist(u.ctx, playlistID); err != nil {
			return err
		}
		if err := e.registry.StopPlaying(u.ctx, u.tx, u.now, playlistID); err != nil {
			return err
		}
		u.emit(domain.EventPlaylistContentsUpdated, playlistID)
		u.emit(domain.EventPlaylistInfoUpdated, playlistID)
		return nil
	})
}

// FreeEntries marks entries free, giving their requesters quota back.
func (e *Engine) FreeEntries(ctx context.Context, ids []string) error {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return domain.NewValidationError("plcid", "at least one entry is required")
	}
	return e.mutate(ctx, "free_entries", func(u *unit) error {
		entries, err := u.tx.GetEntries(u.ctx, ids)
		if err != nil {
			return err
		}
		if err := u.tx.MarkFree(u.ctx, ids); err != nil {
			return err
		}
		for _, playlistID := range playlistIDs(entries) {
			u.emit(domain.EventPlaylistContentsUpdated, playlistID)
		}
		return e.quotaChanged(u, entries)
	})
}

// Upvote records by's upvote on an entry and returns its upvote count.
// Requesters cannot upvote their own entries.
func (e *Engine) Upvote(ctx context.Context, id string, by domain.Requester) (int, error) {
	if err := by.Validate(); err != nil {
		return 0, err
	}
	var count int
	err := e.mutate(ctx, "upvote", func(u *unit) error {
		entry, err := u.tx.GetEntry(u.ctx, id)
		if err != nil {
			return err
		}
		if entry.Username == by.Username {
			return domain.NewValidationError("plcid", "you cannot upvote your own song")
		}
		if err := u.tx.AddUpvote(u.ctx, &domain.Upvote{EntryID: id, Username: by.Username, CreatedAt: u.now}); err != nil {
			return err
		}
		upvotes, err := u.tx.ListUpvotes(u.ctx, []string{id})
		if err != nil {
			return err
		}
		count = len(upvotes)
		u.emit(domain.EventPlaylistContentsUpdated, entry.PlaylistID)

		if e.opts.FreeUpvotes && count >= e.opts.FreeUpvotesRequiredMin && !entry.Flags.Free {
			if err := u.tx.MarkFree(u.ctx, []string{id}); err != nil {
				return err
			}
			return e.quotaChanged(u, []*domain.PlaylistEntry{entry})
		}
		return nil
	})
	return count, err
}

// Downvote withdraws by's upvote. A freed entry stays free.
func (e *Engine) Downvote(ctx context.Context, id string, by domain.Requester) (int, error) {
	var count int
	err := e.mutate(ctx, "downvote", func(u *unit) error {
		entry, err := u.tx.GetEntry(u.ctx, id)
		if err != nil {
			return err
		}
		if err := u.tx.RemoveUpvote(u.ctx, id, by.Username); err != nil {
			return err
		}
		upvotes, err := u.tx.ListUpvotes(u.ctx, []string{id})
		if err != nil {
			return err
		}
		count = len(upvotes)
		u.emit(domain.EventPlaylistContentsUpdated, entry.PlaylistID)
		return nil
	})
	return count, err
}

func (e *Engine) presentSongs(u *unit, playlistID string) (map[string]struct{}, error) {
	entries, err := u.tx.ListEntries(u.ctx, playlistID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		present[entry.SongID] = struct{}{}
	}
	return present, nil
}

func alreadyPresent(kid string) error {
	return fmt.Errorf("%w: song %s is already in the playlist", domain.ErrAlreadyExists, kid)
}
