package shortcuts

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const (
	columnRowID   = "row_id"
	orderRowIDAsc = columnRowID + " ASC"
)

var (
	// ErrRowIndexOutOfRange indicates a DeleteRowAt index past the end of the table.
	ErrRowIndexOutOfRange = errors.New("shortcuts: row index out of range")
	// ErrUnknownColumn indicates a column the sheet does not expose for scans.
	ErrUnknownColumn = errors.New("shortcuts: unknown column")
	errMissingDatabase = errors.New("database handle is required")
)

// Row is a table record that can be appended at the end of its table.
type Row[T any] interface {
	Detach() T
}

// Sheet is the tabular collaborator: rows have positions (0-based, in insertion order)
// and may be appended or deleted by position. Nothing enforces one row per key.
type Sheet[T Row[T]] interface {
	ColumnReader
	ReadAllRows(ctx context.Context) ([]T, error)
	AppendRow(ctx context.Context, row T) error
	DeleteRowAt(ctx context.Context, index int) error
	// Transaction runs fn against a sheet whose changes commit together or not at all.
	Transaction(ctx context.Context, fn func(tx Sheet[T]) error) error
}

// ColumnReader reads one column of every row in table order.
type ColumnReader interface {
	ReadColumn(ctx context.Context, column string) ([]string, error)
}

// GormSheet stores a Sheet in a GORM table ordered by its autoincrement row_id.
type GormSheet[T Row[T]] struct {
	db      *gorm.DB
	columns map[string]struct{}
}

// NewGormSheet constructs a sheet over the table of T exposing the named columns to scans.
func NewGormSheet[T Row[T]](db *gorm.DB, columns ...string) (*GormSheet[T], error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	allowed := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		allowed[column] = struct{}{}
	}
	return &GormSheet[T]{db: db, columns: allowed}, nil
}

// NewShortcutSheet returns the sheet holding shortcut rows.
func NewShortcutSheet(db *gorm.DB) (*GormSheet[Shortcut], error) {
	return NewGormSheet[Shortcut](db, ColumnKey, ColumnApplication, ColumnLanguage)
}

// NewFavoriteSheet returns the sheet holding favorite rows.
func NewFavoriteSheet(db *gorm.DB) (*GormSheet[Favorite], error) {
	return NewGormSheet[Favorite](db, ColumnUserEmail, ColumnKey)
}

func (s *GormSheet[T]) ReadAllRows(ctx context.Context) ([]T, error) {
	var rows []T
	if err := s.db.WithContext(ctx).Order(orderRowIDAsc).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormSheet[T]) ReadColumn(ctx context.Context, column string) ([]string, error) {
	if _, ok := s.columns[column]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	var values []string
	if err := s.db.WithContext(ctx).
		Model(new(T)).
		Order(orderRowIDAsc).
		Pluck(column, &values).Error; err != nil {
		return nil, err
	}
	return values, nil
}

func (s *GormSheet[T]) AppendRow(ctx context.Context, row T) error {
	detached := row.Detach()
	return s.db.WithContext(ctx).Create(&detached).Error
}

func (s *GormSheet[T]) DeleteRowAt(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrRowIndexOutOfRange, index)
	}
	var rowIDs []int64
	if err := s.db.WithContext(ctx).
		Model(new(T)).
		Order(orderRowIDAsc).
		Offset(index).
		Limit(1).
		Pluck(columnRowID, &rowIDs).Error; err != nil {
		return err
	}
	if len(rowIDs) == 0 {
		return fmt.Errorf("%w: %d", ErrRowIndexOutOfRange, index)
	}
	return s.db.WithContext(ctx).Where(columnRowID+" = ?", rowIDs[0]).Delete(new(T)).Error
}

func (s *GormSheet[T]) Transaction(ctx context.Context, fn func(tx Sheet[T]) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormSheet[T]{db: tx, columns: s.columns})
	})
}
