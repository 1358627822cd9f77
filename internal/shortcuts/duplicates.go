package shortcuts

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type DuplicateGroup struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// DuplicateKeys reports keys held by more than one row, in order of first appearance.
func (s *Service) DuplicateKeys(ctx context.Context) ([]DuplicateGroup, error) {
	keys, err := s.shortcuts.ReadColumn(ctx, ColumnKey)
	if err != nil {
		s.logError(opDuplicateKeys, reasonQueryFailed, err)
		return nil, newServiceError(opDuplicateKeys, reasonQueryFailed, err)
	}
	return countDuplicates(keys), nil
}

// RepairDuplicates collapses every duplicated key to its last row and returns the repaired keys.
func (s *Service) RepairDuplicates(ctx context.Context) ([]string, error) {
	repaired := []string{}
	_, err := s.serializer.run(ctx, opRepairDuplicate, func(ctx context.Context) (ChangeSet, error) {
		rows, err := s.shortcuts.ReadAllRows(ctx)
		if err != nil {
			return ChangeSet{}, err
		}
		keys := make([]string, len(rows))
		latest := make(map[string]Shortcut, len(rows))
		for index, row := range rows {
			key := strings.TrimSpace(row.Key)
			keys[index] = key
			latest[key] = row
		}

		changes := ChangeSet{}
		for _, group := range countDuplicates(keys) {
			keep := latest[group.Key]
			keep.Key = group.Key
			removed, err := Replace(ctx, s.shortcuts, keep, Match(ColumnKey, group.Key))
			if removed > 0 {
				changes.Changed = true
			}
			if err != nil {
				return changes, err
			}
			repaired = append(repaired, group.Key)
		}
		changes.Keys = repaired
		return changes, nil
	})
	if err != nil {
		return nil, s.mutationError(opRepairDuplicate, err, zap.Int("repaired", len(repaired)))
	}
	if len(repaired) > 0 {
		s.logger.Info("duplicate shortcuts repaired",
			zap.String("operation", opRepairDuplicate),
			zap.Strings("keys", repaired))
	}
	return repaired, nil
}

func countDuplicates(keys []string) []DuplicateGroup {
	counts := make(map[string]int, len(keys))
	order := make([]string, 0)
	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	groups := []DuplicateGroup{}
	for _, key := range order {
		if counts[key] > 1 {
			groups = append(groups, DuplicateGroup{Key: key, Count: counts[key]})
		}
	}
	return groups
}
