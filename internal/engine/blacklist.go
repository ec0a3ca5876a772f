package engine

import (
	"context"
	"strings"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
)

// CriterionSpec describes a criterion to add.
type CriterionSpec struct {
	Type    domain.CriterionType `json:"type"`
	Value   string               `json:"value"`
	TagType domain.TagType       `json:"tag_type,omitempty"`
}

// AddCriteria stores new blacklist criteria and regenerates the blacklist.
// One invalid criterion rejects the whole call.
func (e *Engine) AddCriteria(ctx context.Context, specs []CriterionSpec) ([]*domain.BlacklistCriterion, error) {
	if len(specs) == 0 {
		return nil, domain.NewValidationError("criteria", "at least one criterion is required")
	}

	var created []*domain.BlacklistCriterion
	err := e.mutate(ctx, "add_criteria", func(u *unit) error {
		created = make([]*domain.BlacklistCriterion, 0, len(specs))
		for _, s := range specs {
			c, err := domain.NewBlacklistCriterion(s.Type, s.Value, s.TagType, u.now)
			if err != nil {
				return err
			}
			created = append(created, c)
		}
		if err := u.tx.CreateCriteria(u.ctx, created); err != nil {
			return err
		}
		return e.regenerate(u)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *Engine) DeleteCriterion(ctx context.Context, id string) error {
	return e.mutate(ctx, "delete_criterion", func(u *unit) error {
		if err := u.tx.DeleteCriterion(u.ctx, id); err != nil {
			return err
		}
		return e.regenerate(u)
	})
}

// EmptyCriteria removes every criterion, which empties the blacklist.
func (e *Engine) EmptyCriteria(ctx context.Context) error {
	return e.mutate(ctx, "empty_criteria", func(u *unit) error {
		if err := u.tx.DeleteAllCriteria(u.ctx); err != nil {
			return err
		}
		return e.regenerate(u)
	})
}

func (e *Engine) ListCriteria(ctx context.Context) ([]*domain.BlacklistCriterion, error) {
	return e.store.ListCriteria(ctx)
}

func (e *Engine) GetBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	return e.store.ListBlacklist(ctx)
}

func (e *Engine) GetWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	return e.store.ListWhitelist(ctx)
}

// AddToWhitelist whitelists the given songs. Unknown songs are reported and
// skipped; the others are added and the blacklist regenerated.
func (e *Engine) AddToWhitelist(ctx context.Context, kids []string, reason string) (*domain.BulkReport, error) {
	kids = dedupe(kids)
	if len(kids) == 0 {
		return nil, domain.NewValidationError("kid", "at least one song is required")
	}
	reason = strings.TrimSpace(reason)

	var report *domain.BulkReport
	err := e.mutate(ctx, "add_whitelist", func(u *unit) error {
		report = &domain.BulkReport{}
		found, unknown, err := u.songs.Resolve(u.ctx, kids, e.opts.Workers)
		if err != nil {
			return err
		}
		missing := make(map[string]struct{}, len(unknown))
		for _, kid := range unknown {
			missing[kid] = struct{}{}
		}

		var entries []domain.WhitelistEntry
		for _, kid := range kids {
			if _, ok := missing[kid]; ok {
				report.Add(domain.Failed(kid, domain.NewNotFoundError("song", kid)))
				continue
			}
			entries = append(entries, domain.WhitelistEntry{SongID: found[kid].ID, Reason: reason, CreatedAt: u.now})
			report.Add(domain.Succeeded(kid, ""))
		}
		if len(entries) == 0 {
			return nil
		}
		if err := u.tx.AddWhitelist(u.ctx, entries); err != nil {
			return err
		}
		u.emit(domain.EventWhitelistUpdated, "")
		return e.regenerate(u)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) RemoveFromWhitelist(ctx context.Context, kids []string) error {
	kids = dedupe(kids)
	if len(kids) == 0 {
		return domain.NewValidationError("kid", "at least one song is required")
	}
	return e.mutate(ctx, "remove_whitelist", func(u *unit) error {
		if err := u.tx.RemoveWhitelist(u.ctx, kids); err != nil {
			return err
		}
		u.emit(domain.EventWhitelistUpdated, "")
		return e.regenerate(u)
	})
}

// GenerateBlacklist rebuilds the blacklist from the current criteria and
// whitelist and returns how many songs it holds.
func (e *Engine) GenerateBlacklist(ctx context.Context) (int, error) {
	var songs int
	err := e.mutate(ctx, "generate_blacklist", func(u *unit) error {
		if err := e.regenerate(u); err != nil {
			return err
		}
		entries, err := u.tx.ListBlacklist(u.ctx)
		if err != nil {
			return err
		}
		songs = countSongs(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("Blacklist generated", logger.Int("songs", songs))
	return songs, nil
}

// regenerate recomputes the whole blacklist inside u's transaction.
func (e *Engine) regenerate(u *unit) error {
	rules, err := e.evaluator(u.ctx, u.tx)
	if err != nil {
		return err
	}
	songs, err := u.songs.ListSongs(u.ctx)
	if err != nil {
		return err
	}
	if err := u.tx.ReplaceBlacklist(u.ctx, rules.Generate(songs, u.now)); err != nil {
		return err
	}
	u.emit(domain.EventBlacklistUpdated, "")
	return nil
}

func countSongs(entries []domain.BlacklistEntry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, b := range entries {
		seen[b.SongID] = struct{}{}
	}
	return len(seen)
}
