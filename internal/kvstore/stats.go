package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autoliker/internal/domain"
)

// Stats counts keys per record family. Active configs are decoded to check
// their flag; undecodable ones count as inactive.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats

	err := s.scanKeys(ctx, "*", func(key string) error {
		stats.Total++

		switch {
		case isLikedKey(key):
			stats.LikedCasts++
		case strings.HasPrefix(key, configKeyPrefix):
			stats.AutoLikeConfigs++

			rec, err := s.loadConfigRecord(ctx, key)
			if err == nil && rec.IsActive {
				stats.ActiveConfigs++
			}
			if err != nil && !errors.Is(err, ErrNotFound) && !isDecodeError(err) {
				return err
			}
		case strings.HasPrefix(key, signerIndexPrefix):
			stats.Other++
		case strings.HasPrefix(key, signerKeyPrefix):
			stats.Signers++
		case strings.HasPrefix(key, backupKeyPrefix):
			stats.Backups++
		case strings.HasPrefix(key, unfollowKeyPrefix):
			stats.Unfollowed++
		case strings.HasPrefix(key, csvKeyPrefix):
			stats.CSVDownloads++
		default:
			stats.Other++
		}

		return nil
	})
	if err != nil {
		return domain.Stats{}, fmt.Errorf("collect stats: %w", err)
	}

	return stats, nil
}
