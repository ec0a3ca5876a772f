package playlist

import (
	"context"
	"time"

	"github.com/karaqueue/karaqueue/internal/derived"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
)

// Registry enforces the playlist role invariants and keeps the aggregate
// columns of a playlist in sync with its entries. Every method runs on the
// given Tx; writes take now as the time of the change.
type Registry struct {
	log *logger.Logger
}

// NewRegistry creates a new playlist registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{log: log}
}

// Create creates a playlist, taking over the roles requested in flags.
func (r *Registry) Create(ctx context.Context, tx domain.Tx, now time.Time, name, owner string, flags domain.PlaylistFlags) (*domain.Playlist, error) {
	p, err := domain.NewPlaylist(name, owner, flags, now)
	if err != nil {
		return nil, err
	}

	for _, role := range []domain.Role{domain.RoleCurrent, domain.RolePublic} {
		if flags.Has(role) {
			if _, err := r.ClearRole(ctx, tx, now, role); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.CreatePlaylist(ctx, p); err != nil {
		return nil, err
	}
	r.log.Debug("Playlist created", logger.String("plaid", p.ID), logger.String("name", p.Name))
	return p, nil
}

// Get returns a playlist by ID
func (r *Registry) Get(ctx context.Context, tx domain.Tx, id string) (*domain.Playlist, error) {
	return tx.GetPlaylist(ctx, id)
}

func (r *Registry) List(ctx context.Context, tx domain.Tx, visibleOnly bool) ([]*domain.Playlist, error) {
	return tx.ListPlaylists(ctx, visibleOnly)
}

// Edit applies patch to the playlist.
func (r *Registry) Edit(ctx context.Context, tx domain.Tx, now time.Time, id string, patch domain.PlaylistPatch) (*domain.Playlist, error) {
	p, err := tx.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Apply(patch, now); err != nil {
		return nil, err
	}
	if err := tx.UpdatePlaylist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registry) SetVisible(ctx context.Context, tx domain.Tx, now time.Time, id string, visible bool) (*domain.Playlist, error) {
	return r.Edit(ctx, tx, now, id, domain.PlaylistPatch{Visible: &visible})
}

// Delete removes a playlist and its entries. A playlist holding a role must
// give it up first.
func (r *Registry) Delete(ctx context.Context, tx domain.Tx, id string) (*domain.Playlist, error) {
	p, err := tx.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	if role, ok := p.HoldsRole(); ok {
		return nil, &domain.ConflictError{
			Message:  "cannot delete a playlist that holds a role, clear the role first",
			Role:     role,
			HolderID: p.ID,
		}
	}
	if err := tx.DeletePlaylist(ctx, id); err != nil {
		return nil, err
	}
	r.log.Debug("Playlist deleted", logger.String("plaid", id))
	return p, nil
}

// SetCurrent makes id the current playlist.
func (r *Registry) SetCurrent(ctx context.Context, tx domain.Tx, now time.Time, id string) (*RoleChange, error) {
	return r.SetRole(ctx, tx, now, id, domain.RoleCurrent)
}

// SetPublic makes id the public playlist.
func (r *Registry) SetPublic(ctx context.Context, tx domain.Tx, now time.Time, id string) (*RoleChange, error) {
	return r.SetRole(ctx, tx, now, id, domain.RolePublic)
}

// RoleChange describes the effect of SetRole. Previous is nil when nobody
// held the role, Changed is false when the target already held it.
type RoleChange struct {
	Playlist *domain.Playlist
	Previous *domain.Playlist
	Changed  bool
}

// SetRole moves role to playlist id. The previous holder loses the role in
// the same transaction, so no committed state ever shows two holders.
func (r *Registry) SetRole(ctx context.Context, tx domain.Tx, now time.Time, id string, role domain.Role) (*RoleChange, error) {
	if !role.Valid() {
		return nil, domain.NewValidationError("role", "unknown role "+string(role))
	}

	target, err := tx.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.Flags.Has(role) {
		return &RoleChange{Playlist: target}, nil
	}
	if other := otherRole(role); target.Flags.Has(other) {
		return nil, &domain.ConflictError{
			Message:  "a playlist cannot be both current and public",
			Role:     other,
			HolderID: target.ID,
		}
	}

	previous, err := r.ClearRole(ctx, tx, now, role)
	if err != nil {
		return nil, err
	}

	target.Flags.Set(role, true)
	target.ModifiedAt = now
	if err := tx.UpdatePlaylist(ctx, target); err != nil {
		return nil, err
	}

	fields := []logger.Field{logger.String("plaid", target.ID), logger.String("role", string(role))}
	if previous != nil {
		fields = append(fields, logger.String("previous", previous.ID))
	}
	r.log.Debug("Playlist role moved", fields...)
	return &RoleChange{Playlist: target, Previous: previous, Changed: true}, nil
}

// ClearRole removes role from whichever playlist holds it and returns that
// playlist, or nil.
func (r *Registry) ClearRole(ctx context.Context, tx domain.Tx, now time.Time, role domain.Role) (*domain.Playlist, error) {
	holder, err := tx.RoleHolder(ctx, role)
	if err != nil || holder == nil {
		return nil, err
	}
	holder.Flags.Set(role, false)
	holder.ModifiedAt = now
	if err := tx.UpdatePlaylist(ctx, holder); err != nil {
		return nil, err
	}
	return holder, nil
}

// Holder returns the playlist holding role or a NotFoundError.
func (r *Registry) Holder(ctx context.Context, tx domain.Tx, role domain.Role) (*domain.Playlist, error) {
	p, err := tx.RoleHolder(ctx, role)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.NewNotFoundError(string(role)+" playlist", "")
	}
	return p, nil
}

// Refresh recomputes karacount, duration and time_left from the stored
// entries.
func (r *Registry) Refresh(ctx context.Context, tx domain.Tx, now time.Time, id string) (*domain.Playlist, error) {
	p, err := tx.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := tx.ListEntries(ctx, id)
	if err != nil {
		return nil, err
	}

	totals := derived.Totals(entries)
	p.KaraCount = totals.Count
	p.Duration = totals.Duration
	p.TimeLeft = totals.TimeLeft
	p.ModifiedAt = now
	if err := tx.UpdatePlaylist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func otherRole(role domain.Role) domain.Role {
	if role == domain.RoleCurrent {
		return domain.RolePublic
	}
	return domain.RoleCurrent
}
