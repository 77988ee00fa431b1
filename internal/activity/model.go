package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type tags an activity with its category.
type Type string

const (
	// TypeFeeding covers bottle, breast and solid feeds.
	TypeFeeding Type = "feeding"
	// TypeSleep covers naps and night sleep.
	TypeSleep Type = "sleep"
	// TypeDiaper covers diaper changes.
	TypeDiaper Type = "diaper"
)

var (
	// ErrInvalidType indicates a category outside the closed set.
	ErrInvalidType = errors.New("activity: invalid type")
	// ErrInvalidID indicates an activity identifier that is empty or exceeds storage bounds.
	ErrInvalidID = errors.New("activity: invalid id")
	// ErrInvalidFamilyID indicates a family identifier that is empty or exceeds storage bounds.
	ErrInvalidFamilyID = errors.New("activity: invalid family id")
	// ErrNotFound indicates that no activity matches the supplied identifier.
	ErrNotFound = errors.New("activity: not found")
)

const maxIdentifierLength = 190

// ParseType validates raw input against the closed category set.
func ParseType(rawInput string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(rawInput))) {
	case TypeFeeding:
		return TypeFeeding, nil
	case TypeSleep:
		return TypeSleep, nil
	case TypeDiaper:
		return TypeDiaper, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, rawInput)
	}
}

// FeedingData is the category payload for feeding entries.
type FeedingData struct {
	FeedType string  `json:"feedType"`
	Amount   float64 `json:"amount,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Side     string  `json:"side,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

// SleepData is the category payload for sleep entries.
type SleepData struct {
	Location string `json:"location,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// DiaperData is the category payload for diaper entries.
type DiaperData struct {
	DiaperType string `json:"diaperType"`
	HasRash    bool   `json:"hasRash,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Activity models a persisted activity row. The category payload is stored as
// raw JSON text; the server never interprets it beyond validity.
type Activity struct {
	ID        string `gorm:"column:id;primaryKey;size:190;not null"`
	FamilyID  string `gorm:"column:family_id;size:190;not null;index:idx_activities_family"`
	Type      Type   `gorm:"column:type;size:32;not null;index:idx_activities_type"`
	DataJSON  string `gorm:"column:data;type:text;not null"`
	StartedAt int64  `gorm:"column:started_at;not null;index:idx_activities_started"`
	EndedAt   *int64 `gorm:"column:ended_at"`
	CreatedBy string `gorm:"column:created_by;size:190"`
	CreatedAt int64  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "activities"
}

// Record is the wire and cache form of an activity, with the category payload
// exposed as embedded JSON. All timestamps are unix milliseconds.
type Record struct {
	ID        string          `json:"id"`
	FamilyID  string          `json:"family_id"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	StartedAt int64           `json:"started_at"`
	EndedAt   *int64          `json:"ended_at"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Record converts the persisted row into its wire form.
func (a Activity) Record() Record {
	data := json.RawMessage(nil)
	if a.DataJSON != "" {
		data = json.RawMessage(a.DataJSON)
	}
	return Record{
		ID:        a.ID,
		FamilyID:  a.FamilyID,
		Type:      a.Type,
		Data:      data,
		StartedAt: a.StartedAt,
		EndedAt:   a.EndedAt,
		CreatedBy: a.CreatedBy,
		CreatedAt: a.CreatedAt,
	}
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}
