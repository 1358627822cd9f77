package shortcuts

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
)

// SetFavorite applies mode to the (user, key) favorite under the write lock.
// force_add collapses duplicate favorites to the first one.
func (s *Service) SetFavorite(ctx context.Context, rawEmail, rawKey string, mode FavoriteMode) (FavoriteStatus, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return "", newServiceError(opSetFavorite, reasonInvalidInput, err)
	}
	key, err := NormalizeKey(rawKey)
	if err != nil {
		return "", newServiceError(opSetFavorite, reasonInvalidInput, err)
	}
	if mode, err = ParseFavoriteMode(string(mode)); err != nil {
		return "", newServiceError(opSetFavorite, reasonInvalidInput, err)
	}

	status := FavoriteStatusUnchanged
	_, err = s.serializer.run(ctx, opSetFavorite, func(ctx context.Context) (ChangeSet, error) {
		changes := ChangeSet{Keys: []string{key}, UserEmail: email}
		collapsed := false
		err := s.favorites.Transaction(ctx, func(tx Sheet[Favorite]) error {
			indexes, err := FindAll(ctx, tx, Match(ColumnUserEmail, email), Match(ColumnKey, key))
			if err != nil {
				return err
			}

			present := len(indexes) > 0
			switch {
			case !present && mode != FavoriteModeForceRemove:
				status = FavoriteStatusAdded
				return tx.AppendRow(ctx, Favorite{UserEmail: email, Key: key, CreatedAtSeconds: s.clock().UTC().Unix()})
			case present && mode != FavoriteModeForceAdd:
				status = FavoriteStatusRemoved
				_, err = DeleteAt(ctx, tx, indexes)
				return err
			case present && len(indexes) > 1:
				collapsed = true
				_, err = DeleteAt(ctx, tx, indexes[1:])
				return err
			}
			return nil
		})
		if err != nil {
			status = FavoriteStatusUnchanged
			return changes, err
		}
		changes.Changed = status != FavoriteStatusUnchanged || collapsed
		return changes, nil
	})
	if err != nil {
		return "", s.mutationError(opSetFavorite, err, zap.String("key", key))
	}
	return status, nil
}

// ListFavorites returns the user's favorite keys in table order without duplicates.
// Duplicates found on the way are removed opportunistically; a busy lock skips the repair.
func (s *Service) ListFavorites(ctx context.Context, rawEmail string) ([]string, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, newServiceError(opListFavorites, reasonInvalidInput, err)
	}
	rows, err := s.favorites.ReadAllRows(ctx)
	if err != nil {
		s.logError(opListFavorites, reasonQueryFailed, err)
		return nil, newServiceError(opListFavorites, reasonQueryFailed, err)
	}

	keys := []string{}
	seen := make(map[string]struct{})
	var duplicated []string
	for _, row := range rows {
		if strings.TrimSpace(row.UserEmail) != email {
			continue
		}
		key := strings.TrimSpace(row.Key)
		if _, ok := seen[key]; ok {
			duplicated = append(duplicated, key)
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	if len(duplicated) > 0 {
		s.healFavorites(ctx, email, duplicated)
	}
	return keys, nil
}

func (s *Service) healFavorites(ctx context.Context, email string, keys []string) {
	_, err := s.serializer.runWithin(ctx, opHealFavorites, repairLockTimeout, func(ctx context.Context) (ChangeSet, error) {
		changes := ChangeSet{UserEmail: email}
		for _, key := range keys {
			indexes, err := FindAll(ctx, s.favorites, Match(ColumnUserEmail, email), Match(ColumnKey, key))
			if err != nil {
				return changes, err
			}
			if len(indexes) < 2 {
				continue
			}
			err = s.favorites.Transaction(ctx, func(tx Sheet[Favorite]) error {
				_, err := DeleteAt(ctx, tx, indexes[1:])
				return err
			})
			if err != nil {
				return changes, err
			}
			changes.Changed = true
			changes.Keys = append(changes.Keys, key)
		}
		return changes, nil
	})
	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		s.logger.Info("favorite repair skipped",
			zap.String("operation", opHealFavorites),
			zap.Int("duplicate_keys", len(keys)))
	case err != nil:
		s.logger.Warn("favorite repair failed",
			zap.String("operation", opHealFavorites),
			zap.Error(err))
	}
}
