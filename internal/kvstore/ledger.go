package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoliker/internal/domain"

	"github.com/redis/go-redis/v9"
)

type likedRecord struct {
	SignerAddress string `json:"signerAddress"`
	CastHash      string `json:"castHash"`
	TargetFID     uint64 `json:"targetFid"`
	LikedAt       int64  `json:"likedAt"`
}

type Ledger struct {
	store     *Store
	retention time.Duration
}

// Ledger returns the liked-content ledger view of the store. Entries expire
// after retention; a non-positive retention keeps them until Cleanup.
func (s *Store) Ledger(retention time.Duration) *Ledger {
	return &Ledger{store: s, retention: retention}
}

func (l *Ledger) Retention() time.Duration {
	return l.retention
}

func (l *Ledger) HasBeenLiked(ctx context.Context, actorKey, contentID string) (bool, error) {
	n, err := l.store.rdb.Exists(ctx, likedKey(actorKey, contentID)).Result()
	if err != nil {
		return false, fmt.Errorf("check liked (actorKey = %s, contentId = %s): %w", actorKey, contentID, err)
	}

	return n > 0, nil
}

func (l *Ledger) RecordLiked(ctx context.Context, rec domain.LikedRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	data, err := json.Marshal(likedRecord{
		SignerAddress: rec.ActorKey,
		CastHash:      rec.ContentID,
		TargetFID:     rec.TargetFID,
		LikedAt:       rec.RecordedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode liked record: %w", err)
	}

	ttl := l.retention
	if ttl < 0 {
		ttl = 0
	}

	if err = l.store.rdb.Set(ctx, likedKey(rec.ActorKey, rec.ContentID), data, ttl).Err(); err != nil {
		return fmt.Errorf("record liked (actorKey = %s, contentId = %s): %w", rec.ActorKey, rec.ContentID, err)
	}

	return nil
}

// Cleanup deletes ledger entries recorded before now-olderThan and returns
// how many were removed. Entries that cannot be decoded are removed too.
func (l *Ledger) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	deleted := 0

	err := l.store.scanKeys(ctx, likedKeyPrefix+"*", func(key string) error {
		raw, err := l.store.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get liked record: %w", err)
		}

		var rec likedRecord
		if decodeErr := json.Unmarshal(raw, &rec); decodeErr == nil && rec.LikedAt >= cutoff {
			return nil
		}

		n, err := l.store.rdb.Del(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("delete liked record: %w", err)
		}
		deleted += int(n)

		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("cleanup liked records: %w", err)
	}

	l.store.log.InfoContext(ctx, "Liked records are cleaned up",
		"olderThan", olderThan.String(),
		"deleted", deleted)

	return deleted, nil
}

func isLikedKey(key string) bool {
	return strings.HasPrefix(key, likedKeyPrefix)
}
