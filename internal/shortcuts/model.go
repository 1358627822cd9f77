package shortcuts

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Column names usable with Sheet.ReadColumn and Match.
const (
	ColumnKey         = "shortcut_key"
	ColumnApplication = "application"
	ColumnLanguage    = "language"
	ColumnUserEmail   = "user_email"
)

const (
	maxKeyLength         = 190
	maxExpansionLength   = 20000
	maxApplicationLength = 190
	maxDescriptionLength = 1000
	maxLanguageLength    = 64
	maxTagsLength        = 500
	maxEmailLength       = 320
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("shortcuts: validation failed")
	// ErrNotFound indicates that no row matched a key whose presence was required.
	ErrNotFound = errors.New("shortcuts: not found")
)

// ValidationError names the offending field of a rejected payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Shortcut is one text-expansion row. The table may hold accidental duplicates per key.
type Shortcut struct {
	RowID            int64  `gorm:"column:row_id;primaryKey;autoIncrement" json:"-"`
	Key              string `gorm:"column:shortcut_key;size:190;not null;index:idx_shortcuts_key" json:"key"`
	Expansion        string `gorm:"column:expansion;type:text;not null" json:"expansion"`
	Application      string `gorm:"column:application;size:190;not null;default:''" json:"application"`
	Description      string `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Language         string `gorm:"column:language;size:64;not null;default:''" json:"language"`
	Tags             string `gorm:"column:tags;size:500;not null;default:''" json:"tags"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Shortcut) TableName() string {
	return "shortcuts"
}

// Detach returns a copy that carries no table position.
func (s Shortcut) Detach() Shortcut {
	s.RowID = 0
	return s
}

// Favorite relates a user to a shortcut key.
type Favorite struct {
	RowID            int64  `gorm:"column:row_id;primaryKey;autoIncrement" json:"-"`
	UserEmail        string `gorm:"column:user_email;size:320;not null;index:idx_favorites_user_key,priority:1" json:"userEmail"`
	Key              string `gorm:"column:shortcut_key;size:190;not null;index:idx_favorites_user_key,priority:2" json:"key"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Favorite) TableName() string {
	return "favorites"
}

// Detach returns a copy that carries no table position.
func (f Favorite) Detach() Favorite {
	f.RowID = 0
	return f
}

// ShortcutInput is the client payload for create and update.
type ShortcutInput struct {
	Key         string
	Expansion   string
	Application string
	Description string
	Language    string
	Tags        string
}

// Normalize trims the optional fields and the key and enforces required fields and length bounds.
// The expansion keeps its whitespace.
func (in ShortcutInput) Normalize() (ShortcutInput, error) {
	key, err := NormalizeKey(in.Key)
	if err != nil {
		return ShortcutInput{}, err
	}
	if strings.TrimSpace(in.Expansion) == "" {
		return ShortcutInput{}, &ValidationError{Field: "expansion", Reason: "is required"}
	}
	normalized := ShortcutInput{
		Key:         key,
		Expansion:   in.Expansion,
		Application: strings.TrimSpace(in.Application),
		Description: strings.TrimSpace(in.Description),
		Language:    strings.TrimSpace(in.Language),
		Tags:        strings.TrimSpace(in.Tags),
	}

	bounds := []struct {
		field string
		value string
		limit int
	}{
		{field: "expansion", value: normalized.Expansion, limit: maxExpansionLength},
		{field: "application", value: normalized.Application, limit: maxApplicationLength},
		{field: "description", value: normalized.Description, limit: maxDescriptionLength},
		{field: "language", value: normalized.Language, limit: maxLanguageLength},
		{field: "tags", value: normalized.Tags, limit: maxTagsLength},
	}
	for _, bound := range bounds {
		if utf8.RuneCountInString(bound.value) > bound.limit {
			return ShortcutInput{}, &ValidationError{Field: bound.field, Reason: fmt.Sprintf("exceeds %d characters", bound.limit)}
		}
	}
	return normalized, nil
}

func (in ShortcutInput) toShortcut(now time.Time) Shortcut {
	return Shortcut{
		Key:              in.Key,
		Expansion:        in.Expansion,
		Application:      in.Application,
		Description:      in.Description,
		Language:         in.Language,
		Tags:             in.Tags,
		UpdatedAtSeconds: now.UTC().Unix(),
	}
}

// NormalizeKey trims a raw key and checks its bounds.
func NormalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", &ValidationError{Field: "key", Reason: "is required"}
	}
	if utf8.RuneCountInString(key) > maxKeyLength {
		return "", &ValidationError{Field: "key", Reason: fmt.Sprintf("exceeds %d characters", maxKeyLength)}
	}
	return key, nil
}

// NormalizeEmail trims and lowercases a user email.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", &ValidationError{Field: "user_email", Reason: "is required"}
	}
	if len(email) > maxEmailLength {
		return "", &ValidationError{Field: "user_email", Reason: fmt.Sprintf("exceeds %d characters", maxEmailLength)}
	}
	return email, nil
}

// FavoriteMode selects how SetFavorite treats an existing favorite.
type FavoriteMode string

const (
	// FavoriteModeToggle flips presence.
	FavoriteModeToggle FavoriteMode = "toggle"
	// FavoriteModeForceAdd ensures presence and collapses duplicates.
	FavoriteModeForceAdd FavoriteMode = "force_add"
	// FavoriteModeForceRemove ensures absence.
	FavoriteModeForceRemove FavoriteMode = "force_remove"
)

// ParseFavoriteMode maps client input to a mode; empty input means toggle.
func ParseFavoriteMode(raw string) (FavoriteMode, error) {
	switch FavoriteMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FavoriteModeToggle:
		return FavoriteModeToggle, nil
	case FavoriteModeForceAdd:
		return FavoriteModeForceAdd, nil
	case FavoriteModeForceRemove:
		return FavoriteModeForceRemove, nil
	default:
		return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", raw)}
	}
}

// FavoriteStatus reports what SetFavorite did.
type FavoriteStatus string

const (
	FavoriteStatusAdded     FavoriteStatus = "added"
	FavoriteStatusRemoved   FavoriteStatus = "removed"
	FavoriteStatusUnchanged FavoriteStatus = "unchanged"
)

// UpsertAction reports whether an upsert created or replaced rows.
type UpsertAction string

const (
	UpsertActionCreated UpsertAction = "created"
	UpsertActionUpdated UpsertAction = "updated"
)
