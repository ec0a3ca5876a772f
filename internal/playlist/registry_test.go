package playlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/infrastructure/db"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/karaqueue/karaqueue/internal/ordering"
	"github.com/karaqueue/karaqueue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx   context.Context
	store *db.Store
	clock *testutil.Clock
	reg   *Registry
}

func setup(t *testing.T) *fixture {
	t.Helper()
	_, store := testutil.SetupTestStore(t)
	clock := testutil.NewClock(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC))
	return &fixture{
		ctx:   context.Background(),
		store: store,
		clock: clock,
		reg:   NewRegistry(logger.Nop()),
	}
}

func (f *fixture) create(t *testing.T, name string, flags domain.PlaylistFlags) *domain.Playlist {
	t.Helper()
	var p *domain.Playlist
	require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		var err error
		p, err = f.reg.Create(f.ctx, tx, f.clock.Now(), name, "admin", flags)
		return err
	}))
	return p
}

func (f *fixture) holder(t *testing.T, role domain.Role) *domain.Playlist {
	t.Helper()
	p, err := f.store.RoleHolder(f.ctx, role)
	require.NoError(t, err)
	return p
}

func (f *fixture) fill(t *testing.T, playlistID string, durations ...int) []*domain.PlaylistEntry {
	t.Helper()
	entries := make([]*domain.PlaylistEntry, len(durations))
	for i, d := range durations {
		song := testutil.Song(string(rune('a'+i)), d)
		entries[i] = domain.NewPlaylistEntry(playlistID, song, domain.Requester{Username: "bob"}, f.clock.Now())
	}
	svc := ordering.NewService(1)
	require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		if err := svc.Append(f.ctx, tx, playlistID, entries); err != nil {
			return err
		}
		_, err := f.reg.Refresh(f.ctx, tx, f.clock.Now(), playlistID)
		return err
	}))
	return entries
}

func TestCreateTakesOverRoles(t *testing.T) {
	f := setup(t)

	first := f.create(t, "First", domain.PlaylistFlags{Current: true, Visible: true})
	assert.Equal(t, first.ID, f.holder(t, domain.RoleCurrent).ID)

	second := f.create(t, "Second", domain.PlaylistFlags{Current: true, Visible: true})
	assert.Equal(t, second.ID, f.holder(t, domain.RoleCurrent).ID)

	reloaded, err := f.store.GetPlaylist(f.ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Flags.Current)
}

func TestCreateRejectsBothRoles(t *testing.T) {
	f := setup(t)

	err := f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		_, err := f.reg.Create(f.ctx, tx, f.clock.Now(), "Both", "admin", domain.PlaylistFlags{Current: true, Public: true})
		return err
	})
	assert.True(t, domain.IsConflict(err))

	all, err := f.store.ListPlaylists(f.ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSetRole(t *testing.T) {
	f := setup(t)
	a := f.create(t, "A", domain.PlaylistFlags{Current: true})
	b := f.create(t, "B", domain.PlaylistFlags{Public: true})
	c := f.create(t, "C", domain.PlaylistFlags{})

	t.Run("moves the role", func(t *testing.T) {
		var change *RoleChange
		require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			var err error
			change, err = f.reg.SetCurrent(f.ctx, tx, f.clock.Now(), c.ID)
			return err
		}))
		assert.True(t, change.Changed)
		require.NotNil(t, change.Previous)
		assert.Equal(t, a.ID, change.Previous.ID)
		assert.Equal(t, c.ID, f.holder(t, domain.RoleCurrent).ID)
	})

	t.Run("no-op on the holder", func(t *testing.T) {
		var change *RoleChange
		require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			var err error
			change, err = f.reg.SetCurrent(f.ctx, tx, f.clock.Now(), c.ID)
			return err
		}))
		assert.False(t, change.Changed)
		assert.Nil(t, change.Previous)
	})

	t.Run("public playlist cannot become current", func(t *testing.T) {
		err := f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			_, err := f.reg.SetCurrent(f.ctx, tx, f.clock.Now(), b.ID)
			return err
		})
		var conflict *domain.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, domain.RolePublic, conflict.Role)
		assert.Equal(t, b.ID, conflict.HolderID)
		assert.Equal(t, c.ID, f.holder(t, domain.RoleCurrent).ID, "state is untouched")
	})

	t.Run("unknown playlist", func(t *testing.T) {
		err := f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			_, err := f.reg.SetPublic(f.ctx, tx, f.clock.Now(), "missing")
			return err
		})
		assert.True(t, domain.IsNotFound(err))
		assert.Equal(t, b.ID, f.holder(t, domain.RolePublic).ID)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			prev, err := f.reg.ClearRole(f.ctx, tx, f.clock.Now(), domain.RolePublic)
			require.NotNil(t, prev)
			assert.Equal(t, b.ID, prev.ID)
			return err
		}))
		assert.Nil(t, f.holder(t, domain.RolePublic))

		require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			_, err := f.reg.Holder(f.ctx, tx, domain.RolePublic)
			assert.True(t, domain.IsNotFound(err))
			return nil
		}))
	})
}

func TestDeleteRoleHolder(t *testing.T) {
	f := setup(t)
	current := f.create(t, "Current", domain.PlaylistFlags{Current: true})
	plain := f.create(t, "Plain", domain.PlaylistFlags{})

	err := f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		_, err := f.reg.Delete(f.ctx, tx, current.ID)
		return err
	})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.RoleCurrent, conflict.Role)
	assert.Equal(t, current.ID, conflict.HolderID)

	require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		_, err := f.reg.Delete(f.ctx, tx, plain.ID)
		return err
	}))
	_, err = f.store.GetPlaylist(f.ctx, plain.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestEditAndVisibility(t *testing.T) {
	f := setup(t)
	p := f.create(t, "Before", domain.PlaylistFlags{Visible: true})
	f.clock.Advance(time.Minute)

	name := "After"
	require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		if _, err := f.reg.Edit(f.ctx, tx, f.clock.Now(), p.ID, domain.PlaylistPatch{Name: &name}); err != nil {
			return err
		}
		_, err := f.reg.SetVisible(f.ctx, tx, f.clock.Now(), p.ID, false)
		return err
	}))

	got, err := f.store.GetPlaylist(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Name)
	assert.False(t, got.Flags.Visible)
	assert.True(t, got.ModifiedAt.After(got.CreatedAt))

	visible, err := f.store.ListPlaylists(f.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, visible)

	empty := " "
	err = f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		_, err := f.reg.Edit(f.ctx, tx, f.clock.Now(), p.ID, domain.PlaylistPatch{Name: &empty})
		return err
	})
	assert.True(t, domain.IsValidation(err))
}

func TestRefreshAndCursor(t *testing.T) {
	f := setup(t)
	p := f.create(t, "Queue", domain.PlaylistFlags{Current: true})
	entries := f.fill(t, p.ID, 100, 50, 25)

	got, err := f.store.GetPlaylist(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.KaraCount)
	assert.Equal(t, 175, got.Duration)
	assert.Equal(t, 175, got.TimeLeft)

	play := func(fn func(tx domain.Tx) (*domain.PlaylistEntry, error)) (*domain.PlaylistEntry, error) {
		var e *domain.PlaylistEntry
		err := f.store.WithTx(f.ctx, func(tx domain.Tx) error {
			var err error
			e, err = fn(tx)
			return err
		})
		return e, err
	}
	next := func(tx domain.Tx) (*domain.PlaylistEntry, error) { return f.reg.Next(f.ctx, tx, f.clock.Now(), p.ID) }
	prev := func(tx domain.Tx) (*domain.PlaylistEntry, error) { return f.reg.Previous(f.ctx, tx, f.clock.Now(), p.ID) }

	_, err = play(prev)
	assert.True(t, domain.IsValidation(err), "nothing playing yet")

	e, err := play(next)
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, e.ID)

	e, err = play(next)
	require.NoError(t, err)
	assert.Equal(t, entries[1].ID, e.ID)

	got, err = f.store.GetPlaylist(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, got.TimeLeft)

	stored, err := f.store.ListEntries(f.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored[0].Flags.Free)
	assert.False(t, stored[0].Flags.Playing)
	assert.True(t, stored[1].Flags.Free)
	assert.True(t, stored[1].Flags.Playing)
	assert.False(t, stored[2].Flags.Free)

	e, err = play(prev)
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, e.ID)

	_, err = play(prev)
	assert.True(t, domain.IsValidation(err), "already first")

	_, err = play(func(tx domain.Tx) (*domain.PlaylistEntry, error) { return f.reg.Play(f.ctx, tx, f.clock.Now(), entries[2].ID) })
	require.NoError(t, err)
	_, err = play(next)
	assert.True(t, domain.IsValidation(err), "already last")

	played, err := f.store.LastPlayed(f.ctx, []string{"a", "b", "c"}, f.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, played, 3)

	require.NoError(t, f.store.WithTx(f.ctx, func(tx domain.Tx) error {
		return f.reg.StopPlaying(f.ctx, tx, f.clock.Now(), p.ID)
	}))
	got, err = f.store.GetPlaylist(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 175, got.TimeLeft)
}
