package engine

import (
	"context"

	"github.com/karaqueue/karaqueue/internal/admission"
	"github.com/karaqueue/karaqueue/internal/catalog"
	"github.com/karaqueue/karaqueue/internal/derived"
	"github.com/karaqueue/karaqueue/internal/domain"
)

// ListEntries returns one page of a playlist's entries with their derived
// fields.
func (e *Engine) ListEntries(ctx context.Context, playlistID string, q domain.EntryQuery) (*domain.EntryPage, error) {
	if _, err := e.store.GetPlaylist(ctx, playlistID); err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return e.project(ctx, entries, q)
}

// GetEntry returns a single entry with its derived fields. Filter and
// pagination in q are ignored.
func (e *Engine) GetEntry(ctx context.Context, id string, q domain.EntryQuery) (*domain.EntryView, error) {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, entry.PlaylistID)
	if err != nil {
		return nil, err
	}
	page, err := e.project(ctx, entries, domain.EntryQuery{Lang: q.Lang, Viewer: q.Viewer})
	if err != nil {
		return nil, err
	}
	for _, v := range page.Entries {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, domain.NewNotFoundError("playlist entry", id)
}

func (e *Engine) project(ctx context.Context, entries []*domain.PlaylistEntry, q domain.EntryQuery) (*domain.EntryPage, error) {
	kids := songIDs(entries)
	songs, _, err := catalog.NewSnapshot(e.catalog).Resolve(ctx, kids, e.opts.Workers)
	if err != nil {
		return nil, err
	}
	upvotes, err := e.store.ListUpvotes(ctx, entryIDs(entries))
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	lastPlayed, err := e.store.LastPlayed(ctx, kids, now.Add(-e.opts.DejaVuWindow))
	if err != nil {
		return nil, err
	}
	blacklist, err := e.store.ListBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	whitelist, err := e.store.ListWhitelist(ctx)
	if err != nil {
		return nil, err
	}

	in := derived.Inputs{
		Songs:       songs,
		Upvotes:     upvotes,
		LastPlayed:  lastPlayed,
		Blacklisted: make(map[string]struct{}, len(blacklist)),
		Whitelisted: make(map[string]struct{}, len(whitelist)),
		Now:         now,
		Window:      e.opts.DejaVuWindow,
	}
	for _, b := range blacklist {
		in.Blacklisted[b.SongID] = struct{}{}
	}
	for _, w := range whitelist {
		in.Whitelisted[w.SongID] = struct{}{}
	}
	return derived.Project(entries, in, q), nil
}

// RemainingQuota returns what by may still add to the public playlist, or
// domain.Unlimited.
func (e *Engine) RemainingQuota(ctx context.Context, by domain.Requester) (int, error) {
	if by.Admin || !e.quota.Enabled() {
		return domain.Unlimited, nil
	}
	public, err := e.PublicPlaylist(ctx)
	if err != nil {
		return 0, err
	}
	mine, err := e.store.ListEntriesByUser(ctx, public.ID, by.Username)
	if err != nil {
		return 0, err
	}
	return e.quota.Remaining(by, mine), nil
}

// EvaluateSong returns the admission decision for a song with the reasons
// it is blacklisted, if any.
func (e *Engine) EvaluateSong(ctx context.Context, kid string) (domain.Admission, error) {
	song, err := e.catalog.GetSong(ctx, kid)
	if err != nil {
		return domain.Admission{}, err
	}
	rules, err := e.evaluator(ctx, e.store)
	if err != nil {
		return domain.Admission{}, err
	}
	return rules.Evaluate(song), nil
}

func (e *Engine) evaluator(ctx context.Context, tx domain.Tx) (*admission.Evaluator, error) {
	criteria, err := tx.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}
	whitelist, err := tx.ListWhitelist(ctx)
	if err != nil {
		return nil, err
	}
	return admission.NewEvaluator(criteria, whitelist)
}
