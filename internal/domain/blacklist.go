package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CriterionType string

const (
	CriterionTagID       CriterionType = "tag_id"
	CriterionTagName     CriterionType = "tag_name"
	CriterionSeriesName  CriterionType = "series_name"
	CriterionSongID      CriterionType = "song_id"
	CriterionDurationMin CriterionType = "duration_min"
	CriterionDurationMax CriterionType = "duration_max"
	CriterionTitleName   CriterionType = "title_name"
)

var criterionTypes = []CriterionType{
	CriterionTagID,
	CriterionTagName,
	CriterionSeriesName,
	CriterionSongID,
	CriterionDurationMin,
	CriterionDurationMax,
	CriterionTitleName,
}

func CriterionTypes() []CriterionType {
	out := make([]CriterionType, len(criterionTypes))
	copy(out, criterionTypes)
	return out
}

func (t CriterionType) Valid() bool {
	for _, c := range criterionTypes {
		if c == t {
			return true
		}
	}
	return false
}

// BlacklistCriterion is one admin-defined exclusion rule. TagType narrows
// tag criteria; it is empty for every other type.
type BlacklistCriterion struct {
	ID        string        `json:"blcid" gorm:"primaryKey"`
	Type      CriterionType `json:"type" gorm:"not null;index"`
	Value     string        `json:"value" gorm:"not null"`
	TagType   TagType       `json:"tag_type,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewBlacklistCriterion(t CriterionType, value string, tagType TagType, now time.Time) (*BlacklistCriterion, error) {
	c := &BlacklistCriterion{
		ID:        uuid.NewString(),
		Type:      t,
		Value:     strings.TrimSpace(value),
		TagType:   tagType,
		CreatedAt: now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *BlacklistCriterion) Validate() error {
	if !c.Type.Valid() {
		return NewValidationError("type", "unknown criterion type "+strconv.Quote(string(c.Type)))
	}
	if c.Value == "" {
		return NewValidationError("value", "value is required")
	}
	switch c.Type {
	case CriterionDurationMin, CriterionDurationMax:
		if _, err := c.Seconds(); err != nil {
			return NewValidationError("value", "duration criteria take a whole number of seconds")
		}
	case CriterionTagID, CriterionTagName:
		if c.TagType != "" && !c.TagType.Valid() {
			return NewValidationError("tag_type", "unknown tag type "+strconv.Quote(string(c.TagType)))
		}
	default:
		if c.TagType != "" {
			return NewValidationError("tag_type", "tag type only applies to tag criteria")
		}
	}
	return nil
}

// Seconds parses Value for the duration criteria.
func (c *BlacklistCriterion) Seconds() (int, error) {
	n, err := strconv.Atoi(c.Value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// BlacklistEntry records that a song matched a criterion at the last
// regeneration.
type BlacklistEntry struct {
	SongID      string    `json:"kid" gorm:"primaryKey"`
	CriterionID string    `json:"blcid" gorm:"primaryKey"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type WhitelistEntry struct {
	SongID    string    `json:"kid" gorm:"primaryKey"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Admission is the blacklist decision for one song.
type Admission struct {
	Admitted    bool     `json:"admitted"`
	Whitelisted bool     `json:"whitelisted,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Reason joins the blacklist reasons into one line.
func (a Admission) Reason() string {
	return strings.Join(a.Reasons, "; ")
}

func (BlacklistCriterion) TableName() string { return "blacklist_criteria" }
func (BlacklistEntry) TableName() string     { return "blacklist" }
func (WhitelistEntry) TableName() string     { return "whitelist" }
