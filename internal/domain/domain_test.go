package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlaylist(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		plName  string
		flags   PlaylistFlags
		wantErr error
	}{
		{name: "Valid playlist", plName: "Friday night", flags: PlaylistFlags{Visible: true}},
		{name: "Trimmed name", plName: "  Friday  ", flags: PlaylistFlags{}},
		{name: "Empty name", plName: "   ", wantErr: ErrValidation},
		{name: "Current and public", plName: "Both", flags: PlaylistFlags{Current: true, Public: true}, wantErr: ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlaylist(tt.plName, "admin", tt.flags, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, p.ID)
			assert.Equal(t, 1, p.Version)
			assert.Equal(t, now, p.CreatedAt)
			assert.Equal(t, strings.TrimSpace(tt.plName), p.Name)
		})
	}
}

func TestPlaylistApply(t *testing.T) {
	p, err := NewPlaylist("Before", "admin", PlaylistFlags{Visible: true}, time.Now())
	require.NoError(t, err)

	name := "After"
	hidden := false
	later := p.CreatedAt.Add(time.Minute)
	require.NoError(t, p.Apply(PlaylistPatch{Name: &name, Visible: &hidden}, later))
	assert.Equal(t, "After", p.Name)
	assert.False(t, p.Flags.Visible)
	assert.Equal(t, later, p.ModifiedAt)

	empty := ""
	assert.ErrorIs(t, p.Apply(PlaylistPatch{Name: &empty}, later), ErrValidation)
}

func TestBlacklistCriterionValidate(t *testing.T) {
	tests := []struct {
		name    string
		typ     CriterionType
		value   string
		tagType TagType
		wantErr bool
	}{
		{name: "Tag by id", typ: CriterionTagID, value: "tid-1", tagType: TagTypeSinger},
		{name: "Tag by name without type", typ: CriterionTagName, value: "mami"},
		{name: "Duration max", typ: CriterionDurationMax, value: "60"},
		{name: "Duration not a number", typ: CriterionDurationMin, value: "long", wantErr: true},
		{name: "Negative duration", typ: CriterionDurationMin, value: "-5", wantErr: true},
		{name: "Unknown type", typ: CriterionType("year"), value: "1999", wantErr: true},
		{name: "Empty value", typ: CriterionSongID, value: " ", wantErr: true},
		{name: "Tag type on series", typ: CriterionSeriesName, value: "Gundam", tagType: TagTypeSeries, wantErr: true},
		{name: "Unknown tag type", typ: CriterionTagName, value: "x", tagType: TagType("colors"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewBlacklistCriterion(tt.typ, tt.value, tt.tagType, time.Now())
			if tt.wantErr {
				assert.True(t, IsValidation(err), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, c.ID)
		})
	}
}

func TestSongDisplayTitle(t *testing.T) {
	s := &Song{
		ID:    "kid-1",
		Title: "Default",
		Titles: map[string]string{
			"eng": "English",
			"fre": "Français",
		},
	}
	assert.Equal(t, "Français", s.DisplayTitle("fre"))
	assert.Equal(t, "English", s.DisplayTitle("jpn"))
	assert.Equal(t, "English", s.DisplayTitle(""))

	s.Titles = nil
	assert.Equal(t, "Default", s.DisplayTitle("fre"))
}

func TestSongSeriesNames(t *testing.T) {
	s := &Song{
		Series:        "Macross",
		SeriesAliases: []string{"Super Dimension Fortress"},
		Tags: []Tag{
			{ID: "t1", Name: "Macross Frontier", Type: TagTypeSeries, Aliases: []string{"MF"}},
			{ID: "t2", Name: "May'n", Type: TagTypeSinger},
		},
	}
	assert.Equal(t, []string{"Macross", "Super Dimension Fortress", "Macross Frontier", "MF"}, s.SeriesNames())
	assert.Len(t, s.TagsOfType(TagTypeSinger), 1)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"Validation", NewValidationError("pos", "bad"), ErrCodeValidation},
		{"Not found", NewNotFoundError("playlist", "p1"), ErrCodeNotFound},
		{"Conflict", &ConflictError{Message: "taken", Role: RoleCurrent, HolderID: "p2"}, ErrCodeConflict},
		{"Quota", &QuotaExceededError{Username: "bob", Type: QuotaCount}, ErrCodeQuotaExceeded},
		{"Transient", &TransientError{Attempts: 5, Err: ErrConcurrentWrite}, ErrCodeTransient},
		{"Wrapped not found", fmt.Errorf("failed to get playlist: %w", NewNotFoundError("playlist", "p1")), ErrCodeNotFound},
		{"Unknown", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Code(tt.err))
			de := NewDomainError(tt.err)
			assert.ErrorIs(t, de, tt.err)
		})
	}

	transient := &TransientError{Attempts: 5, Err: ErrConcurrentWrite}
	assert.True(t, IsTransient(transient))
	assert.True(t, IsConcurrentWrite(transient))

	de := NewDomainError(&ConflictError{Message: "taken", Role: RolePublic, HolderID: "p9"})
	assert.Equal(t, "public=p9", de.Details)
}

func TestEventSetDeduplicates(t *testing.T) {
	var set EventSet
	set.Add(EventPlaylistContentsUpdated, "p1")
	set.Add(EventPlaylistInfoUpdated, "p1")
	set.Add(EventPlaylistContentsUpdated, "p1")
	set.Add(EventQuotaAvailableUpdated, "bob")

	require.Len(t, set.Events(), 3)
	assert.Equal(t, EventPlaylistContentsUpdated, set.Events()[0].Name)

	set.Reset()
	assert.Empty(t, set.Events())
}

func TestPlaylistExportValidate(t *testing.T) {
	valid := PlaylistExport{
		Header:              ExportHeader{Description: ExportDescription, Version: ExportVersion},
		PlaylistContents:    []ExportedEntry{{SongID: "a"}, {SongID: "b", FlagPlaying: true}},
		PlaylistInformation: ExportedPlaylist{Name: "Imported"},
	}
	require.NoError(t, valid.Validate())

	data, err := json.Marshal(valid)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"PlaylistContents"`)
	assert.Contains(t, string(data), `"flag_playing":true`)

	future := valid
	future.Header.Version = ExportVersion + 1
	assert.ErrorIs(t, future.Validate(), ErrValidation)

	twoPlaying := valid
	twoPlaying.PlaylistContents = []ExportedEntry{{SongID: "a", FlagPlaying: true}, {SongID: "b", FlagPlaying: true}}
	assert.ErrorIs(t, twoPlaying.Validate(), ErrValidation)
}

func TestBulkReport(t *testing.T) {
	var r BulkReport
	r.Add(Succeeded("a", "plc-a"))
	r.Add(Failed("b", &QuotaExceededError{Username: "bob", Type: QuotaCount, Remaining: 0}))

	assert.Len(t, r.Added(), 1)
	require.Len(t, r.Skipped(), 1)
	assert.Equal(t, ErrCodeQuotaExceeded, r.Skipped()[0].Code)
	assert.True(t, IsQuotaExceeded(r.FirstError()))
}
