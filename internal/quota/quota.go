// Package quota computes how much a requester may still add to the public
// playlist. Nothing is stored: consumption is recomputed from the
// requester's entries that are not free yet.
package quota

import "github.com/karaqueue/karaqueue/internal/domain"

type Settings struct {
	Type  domain.QuotaType
	Songs int // count mode limit
	Time  int // duration mode limit, seconds
}

type Manager struct {
	settings Settings
}

func New(s Settings) *Manager {
	return &Manager{settings: s}
}

func (m *Manager) Settings() Settings {
	return m.settings
}

func (m *Manager) Enabled() bool {
	return m.settings.Type == domain.QuotaCount || m.settings.Type == domain.QuotaDuration
}

// Consumed sums what user's non-free entries use up: a count in count mode,
// seconds in duration mode.
func (m *Manager) Consumed(username string, entries []*domain.PlaylistEntry) int {
	consumed := 0
	for _, e := range entries {
		if e.Username != username || e.Flags.Free {
			continue
		}
		if m.settings.Type == domain.QuotaDuration {
			consumed += e.Duration
		} else {
			consumed++
		}
	}
	return consumed
}

// Remaining returns domain.Unlimited when quotas are off or user is an
// admin, otherwise the non-negative amount left.
func (m *Manager) Remaining(user domain.Requester, entries []*domain.PlaylistEntry) int {
	if user.Admin || !m.Enabled() {
		return domain.Unlimited
	}

	limit := m.settings.Songs
	if m.settings.Type == domain.QuotaDuration {
		limit = m.settings.Time
	}
	left := limit - m.Consumed(user.Username, entries)
	if left < 0 {
		return 0
	}
	return left
}

// CanAdd reports whether user may add one more song. In duration mode the
// song's own length is not checked against what is left: any remaining
// time admits a song, so the last one may run over the limit.
func (m *Manager) CanAdd(user domain.Requester, entries []*domain.PlaylistEntry) bool {
	left := m.Remaining(user, entries)
	return left == domain.Unlimited || left > 0
}

// Check returns a QuotaExceededError when CanAdd is false.
func (m *Manager) Check(user domain.Requester, entries []*domain.PlaylistEntry) error {
	if m.CanAdd(user, entries) {
		return nil
	}
	return &domain.QuotaExceededError{
		Username:  user.Username,
		Type:      m.settings.Type,
		Remaining: m.Remaining(user, entries),
	}
}

// Charge returns entries plus a pending entry, so that a bulk add can check
// each song against the quota left after the previous ones.
func Charge(entries []*domain.PlaylistEntry, pending *domain.PlaylistEntry) []*domain.PlaylistEntry {
	out := make([]*domain.PlaylistEntry, len(entries), len(entries)+1)
	copy(out, entries)
	return append(out, pending)
}
