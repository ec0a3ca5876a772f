package engine

import (
	"context"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/playlist"
)

// CreatePlaylist creates a playlist owned by by. Requesting a role moves it
// from its previous holder.
func (e *Engine) CreatePlaylist(ctx context.Context, name string, flags domain.PlaylistFlags, by domain.Requester) (*domain.Playlist, error) {
	var created *domain.Playlist
	err := e.mutate(ctx, "create_playlist", func(u *unit) error {
		previous, err := e.roleHolders(u, flags)
		if err != nil {
			return err
		}
		created, err = e.registry.Create(u.ctx, u.tx, u.now, name, by.Username, flags)
		if err != nil {
			return err
		}
		for _, id := range previous {
			u.emit(domain.EventPlaylistInfoUpdated, id)
		}
		u.emit(domain.EventPlaylistsUpdated, "")
		return nil
	})
	return created, err
}

func (e *Engine) roleHolders(u *unit, flags domain.PlaylistFlags) ([]string, error) {
	var ids []string
	for _, role := range []domain.Role{domain.RoleCurrent, domain.RolePublic} {
		if !flags.Has(role) {
			continue
		}
		holder, err := u.tx.RoleHolder(u.ctx, role)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			ids = append(ids, holder.ID)
		}
	}
	return ids, nil
}

func (e *Engine) EditPlaylist(ctx context.Context, id string, patch domain.PlaylistPatch) (*domain.Playlist, error) {
	var edited *domain.Playlist
	err := e.mutate(ctx, "edit_playlist", func(u *unit) error {
		var err error
		edited, err = e.registry.Edit(u.ctx, u.tx, u.now, id, patch)
		if err != nil {
			return err
		}
		u.emit(domain.EventPlaylistInfoUpdated, id)
		u.emit(domain.EventPlaylistsUpdated, "")
		return nil
	})
	return edited, err
}

func (e *Engine) SetVisible(ctx context.Context, id string, visible bool) (*domain.Playlist, error) {
	return e.EditPlaylist(ctx, id, domain.PlaylistPatch{Visible: &visible})
}

// DeletePlaylist removes a playlist and its entries. The current and the
// public playlist cannot be deleted.
func (e *Engine) DeletePlaylist(ctx context.Context, id string) error {
	return e.mutate(ctx, "delete_playlist", func(u *unit) error {
		if _, err := e.registry.Delete(u.ctx, u.tx, id); err != nil {
			return err
		}
		u.emit(domain.EventPlaylistsUpdated, "")
		return nil
	})
}

// SetCurrent makes id the current playlist.
func (e *Engine) SetCurrent(ctx context.Context, id string) (*domain.Playlist, error) {
	return e.setRole(ctx, id, domain.RoleCurrent)
}

// SetPublic makes id the public playlist. Quota is computed against the
// public playlist, so every requester's remaining quota may change.
func (e *Engine) SetPublic(ctx context.Context, id string) (*domain.Playlist, error) {
	return e.setRole(ctx, id, domain.RolePublic)
}

func (e *Engine) setRole(ctx context.Context, id string, role domain.Role) (*domain.Playlist, error) {
	var change *playlist.RoleChange
	err := e.mutate(ctx, "set_"+string(role), func(u *unit) error {
		var err error
		change, err = e.registry.SetRole(u.ctx, u.tx, u.now, id, role)
		if err != nil || !change.Changed {
			return err
		}
		u.emit(domain.EventPlaylistInfoUpdated, id)
		if change.Previous != nil {
			u.emit(domain.EventPlaylistInfoUpdated, change.Previous.ID)
		}
		u.emit(domain.EventPlaylistsUpdated, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change.Playlist, nil
}

// ClearRole leaves no playlist holding role.
func (e *Engine) ClearRole(ctx context.Context, role domain.Role) error {
	if !role.Valid() {
		return domain.NewValidationError("role", "unknown role "+string(role))
	}
	return e.mutate(ctx, "clear_"+string(role), func(u *unit) error {
		previous, err := e.registry.ClearRole(u.ctx, u.tx, u.now, role)
		if err != nil || previous == nil {
			return err
		}
		u.emit(domain.EventPlaylistInfoUpdated, previous.ID)
		u.emit(domain.EventPlaylistsUpdated, "")
		return nil
	})
}

func (e *Engine) GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	return e.registry.Get(ctx, e.store, id)
}

func (e *Engine) ListPlaylists(ctx context.Context, visibleOnly bool) ([]*domain.Playlist, error) {
	return e.registry.List(ctx, e.store, visibleOnly)
}

// CurrentPlaylist returns the current playlist or a NotFoundError.
func (e *Engine) CurrentPlaylist(ctx context.Context) (*domain.Playlist, error) {
	return e.registry.Holder(ctx, e.store, domain.RoleCurrent)
}

// PublicPlaylist returns the public playlist or a NotFoundError.
func (e *Engine) PublicPlaylist(ctx context.Context) (*domain.Playlist, error) {
	return e.registry.Holder(ctx, e.store, domain.RolePublic)
}

// EmptyPlaylist deletes every entry of a playlist. It is the only way free
// flags disappear.
func (e *Engine) EmptyPlaylist(ctx context.Context, id string) error {
	return e.mutate(ctx, "empty_playlist", func(u *unit) error {
		if _, err := u.tx.GetPlaylist(u.ctx, id); err != nil {
			return err
		}
		entries, err := u.tx.ListEntries(u.ctx, id)
		if err != nil {
			return err
		}
		if err := u.tx.DeletePlaylistEntries(u.ctx, id); err != nil {
			return err
		}
		if err := e.contentsChanged(u, id); err != nil {
			return err
		}
		return e.quotaChanged(u, entries)
	})
}

// ShufflePlaylist randomizes the entries after the playing one.
func (e *Engine) ShufflePlaylist(ctx context.Context, id string) error {
	return e.mutate(ctx, "shuffle_playlist", func(u *unit) error {
		if _, err := u.tx.GetPlaylist(u.ctx, id); err != nil {
			return err
		}
		if err := e.ordering.ShuffleAfterCursor(u.ctx, u.tx, id); err != nil {
			return err
		}
		return e.contentsChanged(u, id)
	})
}

// ReorderPlaylist applies a complete ordering of the playlist's entries.
// The whole call fails if ordered does not list each entry exactly once.
func (e *Engine) ReorderPlaylist(ctx context.Context, id string, ordered []string) error {
	return e.mutate(ctx, "reorder_playlist", func(u *unit) error {
		if _, err := u.tx.GetPlaylist(u.ctx, id); err != nil {
			return err
		}
		if err := e.ordering.Reorder(u.ctx, u.tx, id, ordered); err != nil {
			return err
		}
		return e.contentsChanged(u, id)
	})
}

// TrimPlaylist removes every entry after the 1-based index pos and returns
// how many were removed.
func (e *Engine) TrimPlaylist(ctx context.Context, id string, pos int) (int, error) {
	var removed int
	err := e.mutate(ctx, "trim_playlist", func(u *unit) error {
		if _, err := u.tx.GetPlaylist(u.ctx, id); err != nil {
			return err
		}
		trimmed, err := e.ordering.TrimAfter(u.ctx, u.tx, id, pos)
		if err != nil {
			return err
		}
		removed = len(trimmed)
		if removed == 0 {
			return nil
		}
		if err := e.contentsChanged(u, id); err != nil {
			return err
		}
		return e.quotaChanged(u, trimmed)
	})
	return removed, err
}
