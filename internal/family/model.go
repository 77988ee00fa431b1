package family

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	joinCodeLength = 6
	// Ambiguous characters (0/O, 1/I/L) are excluded so codes survive being
	// read aloud or scribbled on a fridge note.
	joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	defaultBabyName = "Baby"

	maxNameLength = 190
)

var (
	// ErrInvalidJoinCode indicates a join code that is empty or malformed.
	ErrInvalidJoinCode = errors.New("family: invalid join code")
	// ErrInvalidBabyName indicates a baby name exceeding storage bounds.
	ErrInvalidBabyName = errors.New("family: invalid baby name")
	// ErrFamilyNotFound indicates that no family matches the supplied code.
	ErrFamilyNotFound = errors.New("family: not found")
)

// Family is the sharing unit: a group of devices tracking one subject.
type Family struct {
	ID        string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Code      string `gorm:"column:code;size:16;not null;uniqueIndex" json:"code"`
	BabyName  string `gorm:"column:baby_name;size:190;not null;default:Baby" json:"baby_name"`
	CreatedAt int64  `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Family) TableName() string {
	return "families"
}

// NewJoinCode returns a fresh share code. Uniqueness is enforced by the
// database; callers retry on collision.
func NewJoinCode() string {
	var builder strings.Builder
	builder.Grow(joinCodeLength)
	for i := 0; i < joinCodeLength; i++ {
		builder.WriteByte(joinCodeAlphabet[rand.IntN(len(joinCodeAlphabet))])
	}
	return builder.String()
}

// NormalizeJoinCode validates raw input and returns the canonical uppercase
// form used for storage and lookup.
func NormalizeJoinCode(rawInput string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidJoinCode)
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("%w: exceeds 16 characters", ErrInvalidJoinCode)
	}
	return trimmed, nil
}

// NormalizeBabyName trims raw input and applies the default display name.
func NormalizeBabyName(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return defaultBabyName, nil
	}
	if len(trimmed) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBabyName, maxNameLength)
	}
	return trimmed, nil
}
