package engine

import (
	"context"
	"sort"

	"github.com/karaqueue/karaqueue/internal/catalog"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
)

// ExportPlaylist snapshots a playlist into the portable file format.
func (e *Engine) ExportPlaylist(ctx context.Context, id string) (*domain.PlaylistExport, error) {
	p, err := e.store.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &domain.PlaylistExport{
		Header: domain.ExportHeader{
			Description: domain.ExportDescription,
			Version:     domain.ExportVersion,
		},
		PlaylistContents: make([]domain.ExportedEntry, 0, len(entries)),
		PlaylistInformation: domain.ExportedPlaylist{
			Name:        p.Name,
			CreatedAt:   p.CreatedAt,
			ModifiedAt:  p.ModifiedAt,
			FlagVisible: p.Flags.Visible,
			TimeLeft:    p.TimeLeft,
		},
	}
	for i, entry := range entries {
		created := entry.CreatedAt
		out.PlaylistContents = append(out.PlaylistContents, domain.ExportedEntry{
			SongID:      entry.SongID,
			FlagPlaying: entry.Flags.Playing,
			FlagFree:    entry.Flags.Free,
			Username:    entry.Username,
			Nickname:    entry.Nickname,
			Position:    i + 1,
			CreatedAt:   &created,
		})
	}
	return out, nil
}

// ImportRequest imports a playlist file. Without IntoPlaylistID a new
// playlist owned by By is created.
type ImportRequest struct {
	Data           *domain.PlaylistExport
	By             domain.Requester
	IntoPlaylistID string
}

// ImportPlaylist restores a playlist file. Song ids the catalog does not
// know are reported, not fatal; songs already in the target playlist are
// skipped.
func (e *Engine) ImportPlaylist(ctx context.Context, req ImportRequest) (*domain.ImportReport, error) {
	if req.Data == nil {
		return nil, domain.NewValidationError("playlist", "playlist file is required")
	}
	if err := req.Data.Validate(); err != nil {
		return nil, err
	}
	if err := req.By.Validate(); err != nil {
		return nil, err
	}

	items := ordered(req.Data.PlaylistContents)
	kids := make([]string, len(items))
	for i, item := range items {
		kids[i] = item.SongID
	}
	found, unknown, err := catalog.NewSnapshot(e.catalog).Resolve(ctx, kids, e.opts.Workers)
	if err != nil {
		return nil, err
	}

	var report *domain.ImportReport
	err = e.mutate(ctx, "import_playlist", func(u *unit) error {
		var (
			p   *domain.Playlist
			err error
		)
		if req.IntoPlaylistID != "" {
			p, err = u.tx.GetPlaylist(u.ctx, req.IntoPlaylistID)
		} else {
			info := req.Data.PlaylistInformation
			p, err = e.registry.Create(u.ctx, u.tx, u.now, info.Name, req.By.Username, domain.PlaylistFlags{Visible: info.FlagVisible})
			u.emit(domain.EventPlaylistsUpdated, "")
		}
		if err != nil {
			return err
		}

		present, err := e.presentSongs(u, p.ID)
		if err != nil {
			return err
		}

		var (
			entries []*domain.PlaylistEntry
			playing string
		)
		for _, item := range items {
			song, ok := found[item.SongID]
			if !ok {
				continue
			}
			if _, dup := present[song.ID]; dup {
				continue
			}
			present[song.ID] = struct{}{}

			by := domain.Requester{Username: item.Username, Nickname: item.Nickname}
			if by.Username == "" {
				by = req.By
			}
			created := u.now
			if item.CreatedAt != nil {
				created = *item.CreatedAt
			}
			entry := domain.NewPlaylistEntry(p.ID, song, by, created)
			entry.Flags.Free = item.FlagFree
			if item.FlagPlaying {
				playing = entry.ID
			}
			entries = append(entries, entry)
		}

		if err := e.ordering.Append(u.ctx, u.tx, p.ID, entries); err != nil {
			return err
		}
		if playing != "" {
			if err := u.tx.SetPlaying(u.ctx, p.ID, playing); err != nil {
				return err
			}
		}
		if err := e.contentsChanged(u, p.ID); err != nil {
			return err
		}

		report = &domain.ImportReport{PlaylistID: p.ID, Imported: len(entries), Unknown: unknown}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(report.Unknown) > 0 {
		e.log.Warn("Imported playlist references unknown songs",
			logger.String("plaid", report.PlaylistID),
			logger.Strings("kids", report.Unknown))
	}
	return report, nil
}

// ordered returns the items sorted by pos when every item carries one, in
// file order otherwise.
func ordered(items []domain.ExportedEntry) []domain.ExportedEntry {
	out := make([]domain.ExportedEntry, len(items))
	copy(out, items)
	for _, item := range out {
		if item.Position <= 0 {
			return out
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
