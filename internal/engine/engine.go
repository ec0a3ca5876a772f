// Package engine is the entry point of the playlist and admission-control
// engine. An Engine composes the playlist registry, the ordering service,
// the admission evaluator and the quota manager over an injected store,
// catalog, notifier and clock.
//
// Every mutating call runs as one store transaction wrapped in the retry
// policy, and emits its events only after that transaction committed.
package engine

import (
	"context"
	"time"

	"github.com/karaqueue/karaqueue/internal/catalog"
	"github.com/karaqueue/karaqueue/internal/config"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/karaqueue/karaqueue/internal/ordering"
	"github.com/karaqueue/karaqueue/internal/playlist"
	"github.com/karaqueue/karaqueue/internal/quota"
	"github.com/karaqueue/karaqueue/internal/retry"
)

type Options struct {
	Quota quota.Settings

	// FreeUpvotes frees an entry once it collects FreeUpvotesRequiredMin
	// upvotes.
	FreeUpvotes            bool
	FreeUpvotesRequiredMin int
	// FreeAcceptedSongs frees public playlist entries when an admin copies
	// them to another playlist.
	FreeAcceptedSongs bool

	DejaVuWindow time.Duration
	Retry        retry.Policy
	Workers      int
	ShuffleSeed  int64
}

func DefaultOptions() Options {
	return Options{
		Quota:                  quota.Settings{Type: domain.QuotaCount, Songs: 2, Time: 300},
		FreeUpvotesRequiredMin: 1,
		FreeAcceptedSongs:      true,
		DejaVuWindow:           time.Hour,
		Retry:                  retry.DefaultPolicy(),
		Workers:                4,
		ShuffleSeed:            time.Now().UnixNano(),
	}
}

// OptionsFromConfig maps the configuration file onto engine options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	qt, err := domain.ParseQuotaType(cfg.Quota.Type)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Quota = quota.Settings{Type: qt, Songs: cfg.Quota.Songs, Time: cfg.Quota.Time}
	opts.FreeUpvotes = cfg.Quota.FreeUpvotes
	opts.FreeUpvotesRequiredMin = cfg.Quota.FreeUpvotesRequiredMin
	opts.FreeAcceptedSongs = cfg.Quota.FreeAcceptedSongs
	opts.DejaVuWindow = cfg.Playlist.DejaVuWindow()
	opts.Retry = retry.Policy{Attempts: cfg.Engine.RetryAttempts, Min: cfg.Engine.RetryMin, Max: cfg.Engine.RetryMax}
	opts.Workers = cfg.Engine.Workers
	return opts, nil
}

type Engine struct {
	store    domain.Store
	catalog  domain.Catalog
	notifier domain.Notifier
	clock    domain.Clock
	log      *logger.Logger
	opts     Options

	quota    *quota.Manager
	registry *playlist.Registry
	ordering *ordering.Service
}

func New(store domain.Store, songs domain.Catalog, notifier domain.Notifier, clock domain.Clock, log *logger.Logger, opts Options) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{
		store:    store,
		catalog:  songs,
		notifier: notifier,
		clock:    clock,
		log:      log,
		opts:     opts,
		quota:    quota.New(opts.Quota),
		registry: playlist.NewRegistry(log),
		ordering: ordering.NewService(opts.ShuffleSeed),
	}
}

func (e *Engine) Options() Options {
	return e.opts
}

// unit is the state of one mutating call while its transaction is open.
type unit struct {
	ctx    context.Context
	tx     domain.Tx
	songs  *catalog.Snapshot
	events *domain.EventSet
	now    time.Time
}

func (u *unit) emit(name domain.EventName, payload string) {
	u.events.Add(name, payload)
}

// mutate runs fn in a transaction under the retry policy. fn may run more
// than once and must assign its results on every run.
func (e *Engine) mutate(ctx context.Context, op string, fn func(u *unit) error) error {
	return e.mutateWith(ctx, op, catalog.NewSnapshot(e.catalog), fn)
}

// mutateWith is mutate over a snapshot the caller may have filled before the
// transaction opens.
func (e *Engine) mutateWith(ctx context.Context, op string, songs *catalog.Snapshot, fn func(u *unit) error) error {
	var events domain.EventSet

	started := time.Now()
	err := retry.Do(ctx, e.opts.Retry, e.log, func(ctx context.Context) error {
		events.Reset()
		return e.store.WithTx(ctx, func(tx domain.Tx) error {
			return fn(&unit{ctx: ctx, tx: tx, songs: songs, events: &events, now: e.clock.Now()})
		})
	})
	if err != nil {
		if domain.IsTransient(err) {
			e.log.Warn("Operation gave up after retries", logger.String("op", op), logger.Err(err))
		}
		return err
	}

	e.log.Debug("Committed", logger.String("op", op), logger.Duration("took", time.Since(started)))
	e.publish(ctx, events.Events())
	return nil
}

// publish hands committed events to the notifier. Delivery failures are
// logged and otherwise ignored.
func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := e.notifier.Emit(ctx, ev); err != nil {
			e.log.Warn("Failed to deliver event",
				logger.String("event", string(ev.Name)),
				logger.String("payload", ev.Payload),
				logger.Err(err))
		}
	}
}

// publicID returns the id of the public playlist, or "" when none is set.
func publicID(u *unit) (string, error) {
	p, err := u.tx.RoleHolder(u.ctx, domain.RolePublic)
	if err != nil || p == nil {
		return "", err
	}
	return p.ID, nil
}

// contentsChanged refreshes the aggregates of a playlist and queues the
// matching events.
func (e *Engine) contentsChanged(u *unit, playlistID string) error {
	if _, err := e.registry.Refresh(u.ctx, u.tx, u.now, playlistID); err != nil {
		return err
	}
	u.emit(domain.EventPlaylistContentsUpdated, playlistID)
	u.emit(domain.EventPlaylistInfoUpdated, playlistID)
	return nil
}

// quotaChanged queues a quota event for every requester of entries that
// sit in the public playlist.
func (e *Engine) quotaChanged(u *unit, entries []*domain.PlaylistEntry) error {
	if !e.quota.Enabled() || len(entries) == 0 {
		return nil
	}
	public, err := publicID(u)
	if err != nil || public == "" {
		return err
	}
	for _, entry := range entries {
		if entry.PlaylistID == public && entry.Username != "" {
			u.emit(domain.EventQuotaAvailableUpdated, entry.Username)
		}
	}
	return nil
}

func entryIDs(entries []*domain.PlaylistEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func songIDs(entries []*domain.PlaylistEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.SongID
	}
	return ids
}

func playlistIDs(entries []*domain.PlaylistEntry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.PlaylistID]; ok {
			continue
		}
		seen[e.PlaylistID] = struct{}{}
		out = append(out, e.PlaylistID)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
