package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/infrastructure/db"
	"github.com/karaqueue/karaqueue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

func newPlaylist(t *testing.T, store *db.Store, name string, flags domain.PlaylistFlags) *domain.Playlist {
	t.Helper()
	p, err := domain.NewPlaylist(name, "admin", flags, epoch)
	require.NoError(t, err)
	require.NoError(t, store.CreatePlaylist(context.Background(), p))
	return p
}

func addEntries(t *testing.T, store *db.Store, playlistID string, songs ...*domain.Song) []*domain.PlaylistEntry {
	t.Helper()
	by := domain.Requester{Username: "alice"}
	entries := make([]*domain.PlaylistEntry, len(songs))
	for i, s := range songs {
		e := domain.NewPlaylistEntry(playlistID, s, by, epoch)
		e.Position = float64(i + 1)
		entries[i] = e
	}
	require.NoError(t, store.InsertEntries(context.Background(), entries))
	return entries
}

func TestRoleIndexes(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	newPlaylist(t, store, "Current", domain.PlaylistFlags{Current: true, Visible: true})
	newPlaylist(t, store, "Public", domain.PlaylistFlags{Public: true, Visible: true})

	second, err := domain.NewPlaylist("Another current", "admin", domain.PlaylistFlags{Current: true}, epoch)
	require.NoError(t, err)
	err = store.CreatePlaylist(ctx, second)
	assert.True(t, domain.IsConcurrentWrite(err), "got %v", err)

	holder, err := store.RoleHolder(ctx, domain.RoleCurrent)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "Current", holder.Name)

	_, err = store.RoleHolder(ctx, domain.Role("favorite"))
	assert.True(t, domain.IsValidation(err))
}

func TestRoleHolderNone(t *testing.T) {
	_, store := testutil.SetupTestStore(t)

	holder, err := store.RoleHolder(context.Background(), domain.RolePublic)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestUpdatePlaylistVersion(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	p := newPlaylist(t, store, "Party", domain.PlaylistFlags{Visible: true})

	stale, err := store.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)

	p.Name = "Renamed"
	require.NoError(t, store.UpdatePlaylist(ctx, p))
	assert.Equal(t, 2, p.Version)

	stale.Owner = "bob"
	err = store.UpdatePlaylist(ctx, stale)
	assert.True(t, domain.IsConcurrentWrite(err), "got %v", err)

	got, err := store.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "admin", got.Owner)

	require.NoError(t, store.DeletePlaylist(ctx, p.ID))
	err = store.UpdatePlaylist(ctx, got)
	assert.True(t, domain.IsNotFound(err), "got %v", err)

	_, err = store.GetPlaylist(ctx, p.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestListPlaylistsVisibleOnly(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	newPlaylist(t, store, "Shown", domain.PlaylistFlags{Visible: true})
	newPlaylist(t, store, "Hidden", domain.PlaylistFlags{})

	all, err := store.ListPlaylists(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	visible, err := store.ListPlaylists(ctx, true)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "Shown", visible[0].Name)
}

func TestWithTxRollsBack(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var id string
	err := store.WithTx(ctx, func(tx domain.Tx) error {
		p, err := domain.NewPlaylist("Doomed", "admin", domain.PlaylistFlags{}, epoch)
		if err != nil {
			return err
		}
		id = p.ID
		if err := tx.CreatePlaylist(ctx, p); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetPlaylist(ctx, id)
	assert.True(t, domain.IsNotFound(err))
}

func TestWithTxSerializesWriters(t *testing.T) {
	database, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	opened := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(ctx, func(tx domain.Tx) error {
			close(opened)
			<-finish
			return nil
		})
	}()
	<-opened

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := db.NewStore(database).WithTx(waitCtx, func(tx domain.Tx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = db.NewSongRepository(database).Delete(waitCtx, "kid-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// readers are not held back by an open writer
	_, err = store.ListPlaylists(ctx, false)
	require.NoError(t, err)

	close(finish)
	require.NoError(t, <-done)
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error { return nil }))
}

func TestEntryPositions(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	p := newPlaylist(t, store, "Party", domain.PlaylistFlags{Visible: true})
	entries := addEntries(t, store, p.ID, testutil.Song("a", 60), testutil.Song("b", 60), testutil.Song("c", 60))

	t.Run("duplicate position", func(t *testing.T) {
		e := domain.NewPlaylistEntry(p.ID, testutil.Song("d", 60), domain.Requester{Username: "bob"}, epoch)
		e.Position = 2
		err := store.InsertEntries(ctx, []*domain.PlaylistEntry{e})
		assert.True(t, domain.IsConcurrentWrite(err), "got %v", err)
	})

	t.Run("swap", func(t *testing.T) {
		require.NoError(t, store.SetPositions(ctx, p.ID, map[string]float64{
			entries[0].ID: 3,
			entries[2].ID: 1,
		}))

		got, err := store.ListEntries(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].SongID, got[1].SongID, got[2].SongID})
	})

	t.Run("unknown entry", func(t *testing.T) {
		err := store.SetPositions(ctx, p.ID, map[string]float64{"nope": 9})
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestGetEntries(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	p := newPlaylist(t, store, "Party", domain.PlaylistFlags{Visible: true})
	entries := addEntries(t, store, p.ID, testutil.Song("a", 60), testutil.Song("b", 60))

	got, err := store.GetEntries(ctx, []string{entries[1].ID, entries[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SongID)
	assert.Equal(t, "a", got[1].SongID)

	_, err = store.GetEntries(ctx, []string{entries[0].ID, "missing"})
	assert.True(t, domain.IsNotFound(err))

	mine, err := store.ListEntriesByUser(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := store.ListEntriesByUser(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestSetPlaying(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	p := newPlaylist(t, store, "Party", domain.PlaylistFlags{Visible: true})
	entries := addEntries(t, store, p.ID, testutil.Song("a", 60), testutil.Song("b", 60))

	require.NoError(t, store.SetPlaying(ctx, p.ID, entries[0].ID))
	require.NoError(t, store.SetPlaying(ctx, p.ID, entries[1].ID))

	got, err := store.ListEntries(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got[0].Flags.Playing)
	assert.True(t, got[1].Flags.Playing)

	err = store.SetPlaying(ctx, p.ID, "missing")
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, store.SetPlaying(ctx, p.ID, ""))
	got, err = store.ListEntries(ctx, p.ID)
	require.NoError(t, err)
	for _, e := range got {
		assert.False(t, e.Flags.Playing)
	}
}

func TestMarkFreeAndDelete(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	p := newPlaylist(t, store, "Party", domain.PlaylistFlags{Visible: true})
	entries := addEntries(t, store, p.ID, testutil.Song("a", 60), testutil.Song("b", 60))

	require.NoError(t, store.MarkFree(ctx, []string{entries[0].ID}))
	require.NoError(t, store.MarkFree(ctx, []string{entries[0].ID}))

	e, err := store.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.True(t, e.Flags.Free)

	require.NoError(t, store.AddUpvote(ctx, &domain.Upvote{EntryID: entries[0].ID, Username: "bob", CreatedAt: epoch}))
	require.NoError(t, store.DeleteEntries(ctx, []string{entries[0].ID}))

	upvotes, err := store.ListUpvotes(ctx, []string{entries[0].ID})
	require.NoError(t, err)
	assert.Empty(t, upvotes)

	err = store.DeleteEntries(ctx, []string{entries[0].ID, entries[1].ID})
	assert.True(t, domain.IsConcurrentWrite(err), "got %v", err)

	require.NoError(t, store.DeletePlaylistEntries(ctx, p.ID))
	left, err := store.ListEntries(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestUpvotes(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	p := newPlaylist(t, store, "Party", domain.PlaylistFlags{Visible: true})
	entries := addEntries(t, store, p.ID, testutil.Song("a", 60))
	id := entries[0].ID

	require.NoError(t, store.AddUpvote(ctx, &domain.Upvote{EntryID: id, Username: "bob", CreatedAt: epoch}))
	err := store.AddUpvote(ctx, &domain.Upvote{EntryID: id, Username: "bob", CreatedAt: epoch})
	assert.True(t, domain.IsAlreadyExists(err))
	require.NoError(t, store.AddUpvote(ctx, &domain.Upvote{EntryID: id, Username: "carol", CreatedAt: epoch.Add(time.Second)}))

	upvotes, err := store.ListUpvotes(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, upvotes, 2)
	assert.Equal(t, "bob", upvotes[0].Username)

	require.NoError(t, store.RemoveUpvote(ctx, id, "bob"))
	err = store.RemoveUpvote(ctx, id, "bob")
	assert.True(t, domain.IsNotFound(err))
}

func TestWhitelistUpsert(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddWhitelist(ctx, []domain.WhitelistEntry{{SongID: "a", Reason: "first", CreatedAt: epoch}}))
	require.NoError(t, store.AddWhitelist(ctx, []domain.WhitelistEntry{{SongID: "a", Reason: "second", CreatedAt: epoch}}))

	list, err := store.ListWhitelist(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Reason)

	require.NoError(t, store.RemoveWhitelist(ctx, []string{"a"}))
	list, err = store.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReplaceBlacklist(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceBlacklist(ctx, []domain.BlacklistEntry{
		{SongID: "a", CriterionID: "c1", Reason: "r", CreatedAt: epoch},
		{SongID: "b", CriterionID: "c1", Reason: "r", CreatedAt: epoch},
	}))
	require.NoError(t, store.ReplaceBlacklist(ctx, []domain.BlacklistEntry{
		{SongID: "c", CriterionID: "c2", Reason: "r", CreatedAt: epoch},
	}))

	list, err := store.ListBlacklist(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].SongID)
}

func TestLastPlayed(t *testing.T) {
	_, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordPlayed(ctx, "a", epoch))
	require.NoError(t, store.RecordPlayed(ctx, "a", epoch.Add(10*time.Minute)))
	require.NoError(t, store.RecordPlayed(ctx, "b", epoch.Add(-2*time.Hour)))

	got, err := store.LastPlayed(ctx, []string{"a", "b", "c"}, epoch.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.WithinDuration(t, epoch.Add(10*time.Minute), got["a"], time.Second)
}

func TestSongRepository(t *testing.T) {
	database := testutil.SetupTestDatabase(t)
	repo := db.NewSongRepository(database)
	ctx := context.Background()

	song := &domain.Song{
		ID:       "kid-1",
		Title:    "Zankoku na Tenshi no These",
		Titles:   map[string]string{"eng": "A Cruel Angel's Thesis"},
		Series:   "Evangelion",
		Duration: 90,
		Tags: []domain.Tag{
			{ID: "t-jpn", Name: "jpn", Type: domain.TagTypeLanguage},
			{ID: "t-op", Name: "OP", Type: domain.TagTypeSongType},
		},
	}
	require.NoError(t, repo.Upsert(ctx, []*domain.Song{song}))

	got, err := repo.FindByID(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, "Evangelion", got.Series)
	assert.Equal(t, "A Cruel Angel's Thesis", got.Titles["eng"])
	assert.Len(t, got.Tags, 2)

	song.Tags = song.Tags[:1]
	require.NoError(t, repo.Upsert(ctx, []*domain.Song{song}))
	got, err = repo.FindByID(ctx, "kid-1")
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "jpn", got.Tags[0].Name)

	found, err := repo.Search(ctx, "evangelion", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = repo.Search(ctx, "; drop table songs --", 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, repo.Upsert(ctx, []*domain.Song{{ID: "kid-0", Title: "Sobakasu", Duration: 60}}))
	batch, err := repo.FindByIDs(ctx, []string{"kid-1", "ghost", "kid-0"})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "kid-0", batch[0].ID)
	assert.Len(t, batch[1].Tags, 1)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	err = repo.Upsert(ctx, []*domain.Song{{Title: "no id"}})
	assert.Error(t, err)

	require.NoError(t, repo.Delete(ctx, "kid-1"))
	_, err = repo.FindByID(ctx, "kid-1")
	assert.True(t, domain.IsNotFound(err))
}

func TestBackupRestore(t *testing.T) {
	database, store := testutil.SetupTestStore(t)
	ctx := context.Background()

	kept := newPlaylist(t, store, "Kept", domain.PlaylistFlags{Visible: true})

	backup := filepath.Join(t.TempDir(), "backups", "karaqueue.db")
	require.NoError(t, database.Backup(backup))
	assert.FileExists(t, backup)

	newPlaylist(t, store, "Lost", domain.PlaylistFlags{Visible: true})

	require.NoError(t, database.Restore(backup))
	store = db.NewStore(database)

	all, err := store.ListPlaylists(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kept.ID, all[0].ID)

	require.NoError(t, database.Vacuum())

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["playlists_count"])
}
