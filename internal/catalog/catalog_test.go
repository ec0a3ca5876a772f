package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCatalog struct {
	mu      sync.Mutex
	songs   map[string]*domain.Song
	gets    map[string]int
	lists   int
	failOn  string
	version int
}

func newCountingCatalog(ids ...string) *countingCatalog {
	c := &countingCatalog{songs: make(map[string]*domain.Song), gets: make(map[string]int)}
	for _, id := range ids {
		c.songs[id] = &domain.Song{ID: id, Title: id, Duration: 90}
	}
	return c
}

func (c *countingCatalog) GetSong(ctx context.Context, id string) (*domain.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets[id]++
	if id == c.failOn {
		return nil, errors.New("catalog unavailable")
	}
	s, ok := c.songs[id]
	if !ok {
		return nil, domain.NewNotFoundError("song", id)
	}
	// every read sees a new version of the song
	c.version++
	cp := *s
	cp.Duration += c.version
	return &cp, nil
}

func (c *countingCatalog) ListSongs(ctx context.Context) ([]*domain.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	var out []*domain.Song
	for _, s := range c.songs {
		out = append(out, s)
	}
	return out, nil
}

func TestSnapshotMemoizesSongs(t *testing.T) {
	ctx := context.Background()
	src := newCountingCatalog("a")
	snap := NewSnapshot(src)

	first, err := snap.GetSong(ctx, "a")
	require.NoError(t, err)
	second, err := snap.GetSong(ctx, "a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, src.gets["a"])
}

func TestSnapshotMemoizesMisses(t *testing.T) {
	ctx := context.Background()
	src := newCountingCatalog()
	snap := NewSnapshot(src)

	_, err := snap.GetSong(ctx, "ghost")
	assert.True(t, domain.IsNotFound(err))
	_, err = snap.GetSong(ctx, "ghost")
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, 1, src.gets["ghost"])
}

func TestSnapshotListSongsKeepsEarlierVersions(t *testing.T) {
	ctx := context.Background()
	src := newCountingCatalog("a", "b")
	snap := NewSnapshot(src)

	a, err := snap.GetSong(ctx, "a")
	require.NoError(t, err)

	all, err := snap.ListSongs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		if s.ID == "a" {
			assert.Same(t, a, s)
		}
	}

	_, err = snap.ListSongs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.lists)
}

func TestSnapshotResolve(t *testing.T) {
	ctx := context.Background()
	src := newCountingCatalog("a", "b", "c")
	snap := NewSnapshot(src)

	found, unknown, err := snap.Resolve(ctx, []string{"c", "x", "a", "b", "a", "w"}, 2)
	require.NoError(t, err)
	assert.Len(t, found, 3)
	assert.Equal(t, []string{"w", "x"}, unknown)
	assert.Equal(t, 1, src.gets["a"])
}

func TestSnapshotResolveFailure(t *testing.T) {
	src := newCountingCatalog("a", "b")
	src.failOn = "b"

	_, _, err := NewSnapshot(src).Resolve(context.Background(), []string{"a", "b"}, 4)
	assert.EqualError(t, err, "catalog unavailable")
}

type batchCatalog struct {
	*countingCatalog
	batches [][]string
}

func (c *batchCatalog) GetSongs(ctx context.Context, ids []string) ([]*domain.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]string(nil), ids...))
	var out []*domain.Song
	for _, id := range ids {
		if s, ok := c.songs[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestSnapshotResolveBatch(t *testing.T) {
	ctx := context.Background()
	src := &batchCatalog{countingCatalog: newCountingCatalog("a", "b", "c")}
	snap := NewSnapshot(src)

	a, err := snap.GetSong(ctx, "a")
	require.NoError(t, err)

	found, unknown, err := snap.Resolve(ctx, []string{"c", "x", "a", "b", "a"}, 2)
	require.NoError(t, err)
	assert.Len(t, found, 3)
	assert.Same(t, a, found["a"])
	assert.Equal(t, []string{"x"}, unknown)
	assert.Equal(t, [][]string{{"c", "x", "b"}}, src.batches)

	// everything is known now, including the miss
	_, unknown, err = snap.Resolve(ctx, []string{"b", "x"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, unknown)
	assert.Len(t, src.batches, 1)
	assert.Empty(t, src.gets["b"])
}

func TestGatewayBatchLookup(t *testing.T) {
	var src SongSource = &memorySource{songs: map[string]*domain.Song{"a": {ID: "a", Title: "A"}}}
	g := NewGateway(src)

	found, unknown, err := NewSnapshot(g).Resolve(context.Background(), []string{"a", "b"}, 1)
	require.NoError(t, err)
	assert.Contains(t, found, "a")
	assert.Equal(t, []string{"b"}, unknown)
}

type memorySource struct {
	songs map[string]*domain.Song
}

func (m *memorySource) FindByID(ctx context.Context, id string) (*domain.Song, error) {
	if s, ok := m.songs[id]; ok {
		return s, nil
	}
	return nil, domain.NewNotFoundError("song", id)
}

func (m *memorySource) FindByIDs(ctx context.Context, ids []string) ([]*domain.Song, error) {
	var out []*domain.Song
	for _, id := range ids {
		if s, ok := m.songs[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memorySource) FindAll(ctx context.Context) ([]*domain.Song, error) {
	var out []*domain.Song
	for _, s := range m.songs {
		out = append(out, s)
	}
	return out, nil
}
