// Package derived computes the read-only projections of a playlist: how
// long until an entry plays, whether its song played recently, upvote
// counts and the aggregate durations stored on the playlist row.
//
// Every function takes the entries of one playlist sorted by position.
package derived

import (
	"strings"
	"time"

	"github.com/karaqueue/karaqueue/internal/admission"
	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/ordering"
)

// Aggregates are the stored summary columns of a playlist.
type Aggregates struct {
	Count    int
	Duration int
	TimeLeft int
}

// Totals sums entry durations. TimeLeft only counts entries at or after the
// playing one, or all of them when nothing plays.
func Totals(entries []*domain.PlaylistEntry) Aggregates {
	cursor := ordering.Cursor(entries)
	if cursor < 0 {
		cursor = 0
	}
	var a Aggregates
	for i, e := range entries {
		a.Count++
		a.Duration += e.Duration
		if i >= cursor {
			a.TimeLeft += e.Duration
		}
	}
	return a
}

// TimeBeforePlay returns the seconds queued ahead of entries[idx]: the
// playing entry and everything between it and the target. The playing
// entry itself and anything before it get 0. With nothing playing the sum
// starts at the top of the playlist.
func TimeBeforePlay(entries []*domain.PlaylistEntry, idx int) int {
	if idx < 0 || idx >= len(entries) {
		return 0
	}
	start := ordering.Cursor(entries)
	if start < 0 {
		start = 0
	}
	if idx <= start {
		return 0
	}
	total := 0
	for _, e := range entries[start:idx] {
		total += e.Duration
	}
	return total
}

// Dejavu reports whether a song last played at lastPlayed falls inside
// window before now.
func Dejavu(lastPlayed time.Time, now time.Time, window time.Duration) bool {
	if lastPlayed.IsZero() || window <= 0 {
		return false
	}
	return !lastPlayed.Before(now.Add(-window))
}

// UpvoteCounts tallies upvotes per entry and notes the entries viewer
// upvoted.
func UpvoteCounts(upvotes []domain.Upvote, viewer string) (map[string]int, map[string]bool) {
	counts := make(map[string]int)
	mine := make(map[string]bool)
	for _, u := range upvotes {
		counts[u.EntryID]++
		if viewer != "" && u.Username == viewer {
			mine[u.EntryID] = true
		}
	}
	return counts, mine
}

// Inputs gathers what Project needs besides the entries themselves.
type Inputs struct {
	Songs       map[string]*domain.Song
	Upvotes     []domain.Upvote
	LastPlayed  map[string]time.Time
	Blacklisted map[string]struct{}
	Whitelisted map[string]struct{}
	Now         time.Time
	Window      time.Duration
}

// Project builds the entry page for q. Index and TimeBeforePlay always
// refer to the whole playlist, so they stay stable when a filter or a page
// hides other entries. Entries whose song the catalog no longer has are
// still listed with an empty title.
func Project(entries []*domain.PlaylistEntry, in Inputs, q domain.EntryQuery) *domain.EntryPage {
	counts, mine := UpvoteCounts(in.Upvotes, q.Viewer)
	needle := admission.Fold(strings.TrimSpace(q.Filter))

	views := make([]*domain.EntryView, 0, len(entries))
	for i, e := range entries {
		song := in.Songs[e.SongID]
		if needle != "" && !matches(e, song, needle) {
			continue
		}

		v := &domain.EntryView{
			PlaylistEntry:  e,
			Index:          i + 1,
			TimeBeforePlay: TimeBeforePlay(entries, i),
			Upvotes:        counts[e.ID],
			FlagUpvoted:    mine[e.ID],
		}
		if song != nil {
			v.Title = song.DisplayTitle(q.Lang)
			v.Series = song.Series
			v.Tags = song.Tags
		}
		if at, ok := in.LastPlayed[e.SongID]; ok {
			at := at
			v.LastPlayedAt = &at
			v.FlagDejavu = Dejavu(at, in.Now, in.Window)
		}
		_, v.FlagWhitelisted = in.Whitelisted[e.SongID]
		_, v.FlagBlacklisted = in.Blacklisted[e.SongID]
		views = append(views, v)
	}

	return paginate(views, q.From, q.Size)
}

func paginate(views []*domain.EntryView, from, size int) *domain.EntryPage {
	total := len(views)
	if from < 0 {
		from = 0
	}
	if from > total {
		from = total
	}
	to := total
	if size > 0 && from+size < total {
		to = from + size
	}
	return &domain.EntryPage{
		Entries: views[from:to],
		Total:   total,
		From:    from,
		To:      to,
	}
}

func matches(e *domain.PlaylistEntry, song *domain.Song, needle string) bool {
	fields := []string{e.Nickname, e.Username, e.SongID}
	if song != nil {
		fields = append(fields, song.AllTitles()...)
		fields = append(fields, song.SeriesNames()...)
		for _, tag := range song.Tags {
			fields = append(fields, tag.Name)
			fields = append(fields, tag.Aliases...)
		}
	}
	for _, f := range fields {
		if strings.Contains(admission.Fold(f), needle) {
			return true
		}
	}
	return false
}
