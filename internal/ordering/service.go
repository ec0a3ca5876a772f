package ordering

import (
	"context"
	"math/rand"
	"sync"

	"github.com/karaqueue/karaqueue/internal/domain"
)

// Service applies ordering changes through a transaction. It holds no
// playlist state; the caller owns the transaction and its retries.
type Service struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(seed int64) *Service {
	return &Service{rng: rand.New(rand.NewSource(seed))}
}

// load returns the entries of a playlist in order, renormalized first when
// an earlier insert left fractional keys.
func (s *Service) load(ctx context.Context, tx domain.Tx, playlistID string) ([]*domain.PlaylistEntry, error) {
	entries, err := tx.ListEntries(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if Dense(entries) {
		return entries, nil
	}
	if err := tx.SetPositions(ctx, playlistID, Renormalize(entries)); err != nil {
		return nil, err
	}
	return entries, nil
}

// Insert places entries at pos and stores them. Entries keep their slice
// order.
func (s *Service) Insert(ctx context.Context, tx domain.Tx, playlistID string, pos domain.Position, entries []*domain.PlaylistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := pos.Validate(); err != nil {
		return err
	}

	current, err := s.load(ctx, tx, playlistID)
	if err != nil {
		return err
	}

	keys, ok := InsertionKeys(current, pos, len(entries))
	if !ok {
		return domain.NewValidationError("pos", "cannot place entries at this position")
	}

	for i, e := range entries {
		e.PlaylistID = playlistID
		e.Position = keys[i]
	}
	return tx.InsertEntries(ctx, entries)
}

func (s *Service) Append(ctx context.Context, tx domain.Tx, playlistID string, entries []*domain.PlaylistEntry) error {
	return s.Insert(ctx, tx, playlistID, domain.PositionEnd, entries)
}

func (s *Service) InsertAfterCursor(ctx context.Context, tx domain.Tx, playlistID string, entries []*domain.PlaylistEntry) error {
	return s.Insert(ctx, tx, playlistID, domain.PositionAfterCursor, entries)
}

// Renormalize rewrites a playlist to 1..N and returns its entries in order.
func (s *Service) Renormalize(ctx context.Context, tx domain.Tx, playlistID string) ([]*domain.PlaylistEntry, error) {
	return s.load(ctx, tx, playlistID)
}

// RemoveEntries deletes the given entries and closes the gaps they leave.
// It returns the removed entries.
func (s *Service) RemoveEntries(ctx context.Context, tx domain.Tx, ids []string) ([]*domain.PlaylistEntry, error) {
	ids = unique(ids)
	removed, err := tx.GetEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteEntries(ctx, ids); err != nil {
		return nil, err
	}

	for _, playlistID := range playlistsOf(removed) {
		if _, err := s.load(ctx, tx, playlistID); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// SetPosition moves one entry to the 1-based index pos of its playlist.
func (s *Service) SetPosition(ctx context.Context, tx domain.Tx, entryID string, pos int) (*domain.PlaylistEntry, error) {
	entry, err := tx.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	entries, err := s.load(ctx, tx, entry.PlaylistID)
	if err != nil {
		return nil, err
	}
	moved, err := Move(entries, entryID, pos)
	if err != nil {
		return nil, err
	}
	if err := tx.SetPositions(ctx, entry.PlaylistID, Renormalize(moved)); err != nil {
		return nil, err
	}
	for _, e := range moved {
		if e.ID == entryID {
			return e, nil
		}
	}
	return entry, nil
}

// Reorder applies a complete ordering. Any mismatch with the stored entries
// rejects the whole call.
func (s *Service) Reorder(ctx context.Context, tx domain.Tx, playlistID string, ordered []string) error {
	entries, err := tx.ListEntries(ctx, playlistID)
	if err != nil {
		return err
	}
	reordered, err := ApplyOrder(entries, ordered)
	if err != nil {
		return err
	}
	return tx.SetPositions(ctx, playlistID, Renormalize(reordered))
}

func (s *Service) ShuffleAfterCursor(ctx context.Context, tx domain.Tx, playlistID string) error {
	entries, err := tx.ListEntries(ctx, playlistID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	shuffled := ShuffleAfterCursor(entries, s.rng)
	s.mu.Unlock()

	return tx.SetPositions(ctx, playlistID, Renormalize(shuffled))
}

// TrimAfter removes every entry past the 1-based index pos and returns them.
func (s *Service) TrimAfter(ctx context.Context, tx domain.Tx, playlistID string, pos int) ([]*domain.PlaylistEntry, error) {
	if pos < 0 {
		return nil, domain.NewValidationError("pos", "position cannot be negative")
	}
	entries, err := s.load(ctx, tx, playlistID)
	if err != nil {
		return nil, err
	}
	if pos >= len(entries) {
		return nil, nil
	}

	trimmed := entries[pos:]
	ids := make([]string, len(trimmed))
	for i, e := range trimmed {
		ids[i] = e.ID
	}
	if err := tx.DeleteEntries(ctx, ids); err != nil {
		return nil, err
	}
	return trimmed, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func playlistsOf(entries []*domain.PlaylistEntry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.PlaylistID]; ok {
			continue
		}
		seen[e.PlaylistID] = struct{}{}
		out = append(out, e.PlaylistID)
	}
	return out
}
