// Package admission decides whether a song may enter a requested playlist.
//
// A song is blacklisted when it matches any criterion; whitelisted songs are
// always admitted. Every criterion type is one case of the rule switch in
// compile, so adding a type means adding a case there.
package admission

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/karaqueue/karaqueue/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match is one criterion that matched a song.
type Match struct {
	Criterion *domain.BlacklistCriterion
	Reason    string
}

type matcher func(song *domain.Song) (string, bool)

type rule struct {
	criterion *domain.BlacklistCriterion
	match     matcher
}

// Evaluator holds a compiled criteria set and the whitelist. It is
// immutable once built and safe for concurrent use.
type Evaluator struct {
	rules     []rule
	whitelist map[string]string
}

func NewEvaluator(criteria []*domain.BlacklistCriterion, whitelist []domain.WhitelistEntry) (*Evaluator, error) {
	e := &Evaluator{
		rules:     make([]rule, 0, len(criteria)),
		whitelist: make(map[string]string, len(whitelist)),
	}
	for _, c := range criteria {
		m, err := compile(c)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, rule{criterion: c, match: m})
	}
	for _, w := range whitelist {
		e.whitelist[w.SongID] = w.Reason
	}
	return e, nil
}

func compile(c *domain.BlacklistCriterion) (matcher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Type {
	case domain.CriterionTagID:
		return func(song *domain.Song) (string, bool) {
			for _, tag := range song.Tags {
				if tag.ID == c.Value && (c.TagType == "" || tag.Type == c.TagType) {
					return fmt.Sprintf("Tagged %s (%s)", tag.Name, tag.Type), true
				}
			}
			return "", false
		}, nil

	case domain.CriterionTagName:
		needle := Fold(c.Value)
		return func(song *domain.Song) (string, bool) {
			for _, tag := range song.Tags {
				if c.TagType != "" && tag.Type != c.TagType {
					continue
				}
				if containsAny(needle, tag.Name, tag.Aliases...) {
					return fmt.Sprintf("Tag name matches %q (%s)", c.Value, tag.Type), true
				}
			}
			return "", false
		}, nil

	case domain.CriterionSeriesName:
		needle := Fold(c.Value)
		return func(song *domain.Song) (string, bool) {
			names := song.SeriesNames()
			if len(names) > 0 && containsAny(needle, names[0], names[1:]...) {
				return fmt.Sprintf("Series name matches %q", c.Value), true
			}
			return "", false
		}, nil

	case domain.CriterionSongID:
		return func(song *domain.Song) (string, bool) {
			if song.ID == c.Value {
				return "Song is blacklisted", true
			}
			return "", false
		}, nil

	case domain.CriterionDurationMin:
		limit, _ := c.Seconds()
		return func(song *domain.Song) (string, bool) {
			if song.Duration >= limit {
				return fmt.Sprintf("Longer than %d seconds", limit), true
			}
			return "", false
		}, nil

	case domain.CriterionDurationMax:
		limit, _ := c.Seconds()
		return func(song *domain.Song) (string, bool) {
			if song.Duration <= limit {
				return fmt.Sprintf("Shorter than %d seconds", limit), true
			}
			return "", false
		}, nil

	case domain.CriterionTitleName:
		needle := Fold(c.Value)
		return func(song *domain.Song) (string, bool) {
			titles := song.AllTitles()
			if containsAny(needle, titles[0], titles[1:]...) {
				return fmt.Sprintf("Title matches %q", c.Value), true
			}
			return "", false
		}, nil
	}

	return nil, domain.NewValidationError("type", "unknown criterion type "+string(c.Type))
}

// Matches returns every criterion the song matches, ignoring the whitelist.
func (e *Evaluator) Matches(song *domain.Song) []Match {
	var out []Match
	for _, r := range e.rules {
		if reason, ok := r.match(song); ok {
			out = append(out, Match{Criterion: r.criterion, Reason: reason})
		}
	}
	return out
}

func (e *Evaluator) Whitelisted(songID string) bool {
	_, ok := e.whitelist[songID]
	return ok
}

// Evaluate decides admission for song. The whitelist wins over any match.
func (e *Evaluator) Evaluate(song *domain.Song) domain.Admission {
	if e.Whitelisted(song.ID) {
		return domain.Admission{Admitted: true, Whitelisted: true}
	}
	matches := e.Matches(song)
	if len(matches) == 0 {
		return domain.Admission{Admitted: true}
	}
	reasons := make([]string, 0, len(matches))
	for _, m := range matches {
		reasons = append(reasons, m.Reason)
	}
	return domain.Admission{Admitted: false, Reasons: reasons}
}

// Generate computes the full blacklist for songs from scratch: one entry per
// (song, criterion) match, whitelisted songs excluded, sorted by song then
// criterion.
func (e *Evaluator) Generate(songs []*domain.Song, now time.Time) []domain.BlacklistEntry {
	var out []domain.BlacklistEntry
	for _, song := range songs {
		if e.Whitelisted(song.ID) {
			continue
		}
		for _, m := range e.Matches(song) {
			out = append(out, domain.BlacklistEntry{
				SongID:      song.ID,
				CriterionID: m.Criterion.ID,
				Reason:      m.Reason,
				CreatedAt:   now,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SongID != out[j].SongID {
			return out[i].SongID < out[j].SongID
		}
		return out[i].CriterionID < out[j].CriterionID
	})
	return out
}

// Fold lowercases s and strips combining marks so that "Pokémon" and
// "POKEMON" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Contains reports whether needle occurs in haystack after folding both.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

func containsAny(foldedNeedle, first string, rest ...string) bool {
	if strings.Contains(Fold(first), foldedNeedle) {
		return true
	}
	for _, s := range rest {
		if strings.Contains(Fold(s), foldedNeedle) {
			return true
		}
	}
	return false
}
