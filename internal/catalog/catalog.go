// Package catalog is the read side of song metadata. The engine sees songs
// only through domain.Catalog, and wraps it in a Snapshot for the span of one
// operation so that every lookup inside the operation sees the same song.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/karaqueue/karaqueue/internal/domain"
	"golang.org/x/sync/errgroup"
)

// SongSource is the storage behind a Gateway.
type SongSource interface {
	FindByID(ctx context.Context, id string) (*domain.Song, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.Song, error)
	FindAll(ctx context.Context) ([]*domain.Song, error)
}

// BatchCatalog is a catalog that can look up many songs in one read. Ids it
// does not know are left out of the result.
type BatchCatalog interface {
	domain.Catalog
	GetSongs(ctx context.Context, ids []string) ([]*domain.Song, error)
}

type Gateway struct {
	songs SongSource
}

var _ BatchCatalog = (*Gateway)(nil)

func NewGateway(songs SongSource) *Gateway {
	return &Gateway{songs: songs}
}

func (g *Gateway) GetSong(ctx context.Context, id string) (*domain.Song, error) {
	return g.songs.FindByID(ctx, id)
}

func (g *Gateway) GetSongs(ctx context.Context, ids []string) ([]*domain.Song, error) {
	return g.songs.FindByIDs(ctx, ids)
}

func (g *Gateway) ListSongs(ctx context.Context) ([]*domain.Song, error) {
	return g.songs.FindAll(ctx)
}

// Snapshot memoizes catalog reads, including misses. It is safe for
// concurrent use.
type Snapshot struct {
	src domain.Catalog

	mu      sync.Mutex
	songs   map[string]*domain.Song
	missing map[string]struct{}
	all     []*domain.Song
}

var _ domain.Catalog = (*Snapshot)(nil)

func NewSnapshot(src domain.Catalog) *Snapshot {
	return &Snapshot{
		src:     src,
		songs:   make(map[string]*domain.Song),
		missing: make(map[string]struct{}),
	}
}

func (s *Snapshot) GetSong(ctx context.Context, id string) (*domain.Song, error) {
	s.mu.Lock()
	if song, ok := s.songs[id]; ok {
		s.mu.Unlock()
		return song, nil
	}
	if _, ok := s.missing[id]; ok {
		s.mu.Unlock()
		return nil, domain.NewNotFoundError("song", id)
	}
	s.mu.Unlock()

	song, err := s.src.GetSong(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case domain.IsNotFound(err):
		s.missing[id] = struct{}{}
		return nil, err
	case err != nil:
		return nil, err
	}
	// another goroutine may have won the race; keep the first version
	if first, ok := s.songs[id]; ok {
		return first, nil
	}
	s.songs[id] = song
	return song, nil
}

func (s *Snapshot) ListSongs(ctx context.Context) ([]*domain.Song, error) {
	s.mu.Lock()
	if s.all != nil {
		all := s.all
		s.mu.Unlock()
		return all, nil
	}
	s.mu.Unlock()

	songs, err := s.src.ListSongs(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all != nil {
		return s.all, nil
	}
	all := make([]*domain.Song, 0, len(songs))
	for _, song := range songs {
		if first, ok := s.songs[song.ID]; ok {
			all = append(all, first)
			continue
		}
		s.songs[song.ID] = song
		all = append(all, song)
	}
	s.all = all
	return all, nil
}

// Resolve looks up ids and returns the songs found and, sorted, the ids the
// catalog does not know. A BatchCatalog source is asked once for every id not
// seen yet; any other source gets at most workers concurrent reads. Any other
// catalog failure aborts the whole call.
func (s *Snapshot) Resolve(ctx context.Context, ids []string, workers int) (map[string]*domain.Song, []string, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	if batch, ok := s.src.(BatchCatalog); ok {
		return s.resolveBatch(ctx, batch, unique)
	}
	if workers < 1 {
		workers = 1
	}

	var (
		mu      sync.Mutex
		found   = make(map[string]*domain.Song, len(unique))
		unknown []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range unique {
		id := id
		g.Go(func() error {
			song, err := s.GetSong(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case domain.IsNotFound(err):
				unknown = append(unknown, id)
				return nil
			case err != nil:
				return err
			}
			found[id] = song
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Strings(unknown)
	return found, unknown, nil
}

func (s *Snapshot) resolveBatch(ctx context.Context, src BatchCatalog, ids []string) (map[string]*domain.Song, []string, error) {
	found := make(map[string]*domain.Song, len(ids))
	var unknown, pending []string

	s.mu.Lock()
	for _, id := range ids {
		if song, ok := s.songs[id]; ok {
			found[id] = song
			continue
		}
		if _, ok := s.missing[id]; ok {
			unknown = append(unknown, id)
			continue
		}
		pending = append(pending, id)
	}
	s.mu.Unlock()

	if len(pending) > 0 {
		songs, err := src.GetSongs(ctx, pending)
		if err != nil {
			return nil, nil, err
		}

		s.mu.Lock()
		for _, song := range songs {
			if first, ok := s.songs[song.ID]; ok {
				song = first
			} else {
				s.songs[song.ID] = song
			}
			found[song.ID] = song
		}
		for _, id := range pending {
			if _, ok := found[id]; !ok {
				s.missing[id] = struct{}{}
				unknown = append(unknown, id)
			}
		}
		s.mu.Unlock()
	}

	sort.Strings(unknown)
	return found, unknown, nil
}
