package shortcuts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	errNoMatchColumns = errors.New("shortcuts: at least one column match is required")
	// ErrColumnsDiverged indicates that two column scans saw tables of different length.
	ErrColumnsDiverged = errors.New("shortcuts: column scans returned different row counts")
)

// ColumnMatch selects rows whose trimmed column value equals the trimmed Value.
type ColumnMatch struct {
	Column string
	Value  string
}

// Match builds a ColumnMatch.
func Match(column, value string) ColumnMatch {
	return ColumnMatch{Column: column, Value: value}
}

// FindAll returns the ascending row indexes matching every column match.
// Callers that act on the result must hold the write lock.
func FindAll(ctx context.Context, reader ColumnReader, matches ...ColumnMatch) ([]int, error) {
	if len(matches) == 0 {
		return nil, errNoMatchColumns
	}

	indexes := []int{}
	rowCount := 0
	for position, match := range matches {
		values, err := reader.ReadColumn(ctx, match.Column)
		if err != nil {
			return nil, err
		}
		want := strings.TrimSpace(match.Value)

		if position == 0 {
			rowCount = len(values)
			for index, value := range values {
				if strings.TrimSpace(value) == want {
					indexes = append(indexes, index)
				}
			}
			continue
		}

		if len(values) != rowCount {
			return nil, fmt.Errorf("%w: %s has %d rows, expected %d", ErrColumnsDiverged, match.Column, len(values), rowCount)
		}
		kept := indexes[:0]
		for _, index := range indexes {
			if strings.TrimSpace(values[index]) == want {
				kept = append(kept, index)
			}
		}
		indexes = kept
	}
	return indexes, nil
}

// DeleteAt removes the rows at indexes, highest first so earlier positions stay valid.
// It returns how many rows were removed before any failure.
func DeleteAt[T Row[T]](ctx context.Context, sheet Sheet[T], indexes []int) (int, error) {
	descending := append([]int(nil), indexes...)
	sort.Sort(sort.Reverse(sort.IntSlice(descending)))

	removed := 0
	for _, index := range descending {
		if err := sheet.DeleteRowAt(ctx, index); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DeleteAll removes every row matching the column matches in one transaction.
func DeleteAll[T Row[T]](ctx context.Context, sheet Sheet[T], matches ...ColumnMatch) (int, error) {
	removed := 0
	err := sheet.Transaction(ctx, func(tx Sheet[T]) error {
		var err error
		removed, err = deleteMatching(ctx, tx, matches)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Replace removes every matching row, then appends row at the end of the table.
// Both steps commit together; on failure the table is unchanged and no rows count as removed.
func Replace[T Row[T]](ctx context.Context, sheet Sheet[T], row T, matches ...ColumnMatch) (int, error) {
	removed := 0
	err := sheet.Transaction(ctx, func(tx Sheet[T]) error {
		var err error
		if removed, err = deleteMatching(ctx, tx, matches); err != nil {
			return err
		}
		return tx.AppendRow(ctx, row)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func deleteMatching[T Row[T]](ctx context.Context, sheet Sheet[T], matches []ColumnMatch) (int, error) {
	indexes, err := FindAll(ctx, sheet, matches...)
	if err != nil {
		return 0, err
	}
	return DeleteAt(ctx, sheet, indexes)
}
