// Package ordering keeps playlist entries totally ordered.
//
// Positions are float keys. A mutation first renormalizes the playlist to
// the dense sequence 1..N if an earlier insert left fractional keys, then
// computes keys for new entries: appends take max+1.., inserts take evenly
// spaced keys strictly inside the target gap. Every other reordering ends
// with the playlist dense again.
package ordering

import (
	"math/rand"

	"github.com/karaqueue/karaqueue/internal/domain"
)

// Cursor returns the index of the playing entry in entries, or -1.
func Cursor(entries []*domain.PlaylistEntry) int {
	for i, e := range entries {
		if e.Flags.Playing {
			return i
		}
	}
	return -1
}

// Dense reports whether entries sit exactly on 1..N.
func Dense(entries []*domain.PlaylistEntry) bool {
	for i, e := range entries {
		if e.Position != float64(i+1) {
			return false
		}
	}
	return true
}

// Renormalize assigns 1..N to entries in slice order and returns the
// positions that changed.
func Renormalize(entries []*domain.PlaylistEntry) map[string]float64 {
	changed := make(map[string]float64)
	for i, e := range entries {
		want := float64(i + 1)
		if e.Position != want {
			changed[e.ID] = want
			e.Position = want
		}
	}
	return changed
}

// KeysBetween returns n increasing keys strictly between lo and hi. ok is
// false once float precision can no longer separate them.
func KeysBetween(lo, hi float64, n int) ([]float64, bool) {
	if n <= 0 {
		return nil, true
	}
	if !(lo < hi) {
		return nil, false
	}
	step := (hi - lo) / float64(n+1)
	keys := make([]float64, n)
	prev := lo
	for i := range keys {
		k := lo + step*float64(i+1)
		if !(k > prev && k < hi) {
			return nil, false
		}
		keys[i] = k
		prev = k
	}
	return keys, true
}

// InsertionKeys computes keys for n new entries placed at pos in sorted
// entries. A positive pos is the 1-based index the first new entry will
// occupy. With nothing playing, PositionAfterCursor means the top of the
// playlist.
func InsertionKeys(entries []*domain.PlaylistEntry, pos domain.Position, n int) ([]float64, bool) {
	if len(entries) == 0 {
		return sequence(0, n), true
	}
	last := entries[len(entries)-1].Position

	switch {
	case pos == domain.PositionEnd || int(pos) > len(entries):
		return sequence(last, n), true

	case pos == domain.PositionAfterCursor:
		c := Cursor(entries)
		switch {
		case c == -1:
			first := entries[0].Position
			return KeysBetween(first-1, first, n)
		case c == len(entries)-1:
			return sequence(last, n), true
		default:
			return KeysBetween(entries[c].Position, entries[c+1].Position, n)
		}

	default:
		idx := int(pos) - 1
		hi := entries[idx].Position
		lo := hi - 1
		if idx > 0 {
			lo = entries[idx-1].Position
		}
		return KeysBetween(lo, hi, n)
	}
}

func sequence(after float64, n int) []float64 {
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = after + float64(i+1)
	}
	return keys
}

// Move returns entries with id moved so that it ends at the 1-based index
// pos. A pos past the end moves it last.
func Move(entries []*domain.PlaylistEntry, id string, pos int) ([]*domain.PlaylistEntry, error) {
	if pos < 1 {
		return nil, domain.NewValidationError("pos", "position must be at least 1")
	}
	from := -1
	for i, e := range entries {
		if e.ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		return nil, domain.NewNotFoundError("playlist entry", id)
	}

	moved := entries[from]
	out := make([]*domain.PlaylistEntry, 0, len(entries))
	out = append(out, entries[:from]...)
	out = append(out, entries[from+1:]...)

	to := pos - 1
	if to > len(out) {
		to = len(out)
	}
	out = append(out, nil)
	copy(out[to+1:], out[to:])
	out[to] = moved
	return out, nil
}

// ApplyOrder returns entries rearranged to follow ordered, which must list
// every entry exactly once.
func ApplyOrder(entries []*domain.PlaylistEntry, ordered []string) ([]*domain.PlaylistEntry, error) {
	if len(ordered) != len(entries) {
		return nil, domain.NewValidationError("order", "order must list every entry of the playlist exactly once")
	}
	byID := make(map[string]*domain.PlaylistEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	out := make([]*domain.PlaylistEntry, 0, len(ordered))
	for _, id := range ordered {
		e, ok := byID[id]
		if !ok {
			return nil, domain.NewValidationError("order", "unknown or repeated entry "+id)
		}
		delete(byID, id)
		out = append(out, e)
	}
	return out, nil
}

// ShuffleAfterCursor returns entries with everything after the playing
// entry shuffled. The playing entry and everything before it keep their
// order. With nothing playing the whole playlist is shuffled.
func ShuffleAfterCursor(entries []*domain.PlaylistEntry, rng *rand.Rand) []*domain.PlaylistEntry {
	out := make([]*domain.PlaylistEntry, len(entries))
	copy(out, entries)

	tail := out[Cursor(out)+1:]
	rng.Shuffle(len(tail), func(i, j int) {
		tail[i], tail[j] = tail[j], tail[i]
	})
	return out
}
