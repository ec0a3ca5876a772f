package quota

import (
	"testing"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(user string, duration int, free bool) *domain.PlaylistEntry {
	return &domain.PlaylistEntry{Username: user, Duration: duration, Flags: domain.EntryFlags{Free: free}}
}

var bob = domain.Requester{Username: "bob"}

func TestRemainingUnlimited(t *testing.T) {
	entries := []*domain.PlaylistEntry{entry("bob", 100, false), entry("bob", 100, false)}

	off := New(Settings{Type: domain.QuotaNone, Songs: 1})
	assert.Equal(t, domain.Unlimited, off.Remaining(bob, entries))
	assert.True(t, off.CanAdd(bob, entries))

	count := New(Settings{Type: domain.QuotaCount, Songs: 1})
	admin := domain.Requester{Username: "bob", Admin: true}
	assert.Equal(t, domain.Unlimited, count.Remaining(admin, entries))
	assert.NoError(t, count.Check(admin, entries))
}

func TestCountQuotaFreedByPlay(t *testing.T) {
	m := New(Settings{Type: domain.QuotaCount, Songs: 2})

	first := entry("bob", 120, false)
	second := entry("bob", 120, false)
	others := entry("alice", 120, false)
	entries := []*domain.PlaylistEntry{first, second, others}

	assert.Equal(t, 0, m.Remaining(bob, entries))
	assert.False(t, m.CanAdd(bob, entries))

	err := m.Check(bob, entries)
	require.Error(t, err)
	assert.True(t, domain.IsQuotaExceeded(err))
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 0, qe.Remaining)

	first.Flags.Free = true
	assert.Equal(t, 1, m.Remaining(bob, entries))
	assert.True(t, m.CanAdd(bob, entries))
}

func TestDurationQuotaAllowsOverrun(t *testing.T) {
	m := New(Settings{Type: domain.QuotaDuration, Time: 300})

	entries := []*domain.PlaylistEntry{entry("bob", 250, false)}
	assert.Equal(t, 50, m.Remaining(bob, entries))
	// a 200s song still fits: any time left admits one more
	assert.True(t, m.CanAdd(bob, entries))

	entries = Charge(entries, entry("bob", 200, false))
	assert.Equal(t, 0, m.Remaining(bob, entries))
	assert.False(t, m.CanAdd(bob, entries))
	assert.Equal(t, 450, m.Consumed("bob", entries))
}

func TestChargeDoesNotAlias(t *testing.T) {
	base := make([]*domain.PlaylistEntry, 1, 4)
	base[0] = entry("bob", 10, false)

	a := Charge(base, entry("bob", 20, false))
	b := Charge(base, entry("bob", 30, false))
	assert.Equal(t, 20, a[1].Duration)
	assert.Equal(t, 30, b[1].Duration)
}
