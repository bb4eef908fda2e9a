package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"autoliker/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	configKeyPrefix   = "autolike_config_"
	signerKeyPrefix   = "signer_"
	signerIndexPrefix = "signer_fid_"
	likedKeyPrefix    = "liked_cast_"
	backupKeyPrefix   = "backup_"
	unfollowKeyPrefix = "unfollowed_"
	csvKeyPrefix      = "csv_download_"

	scanBatchSize = 100
	maxTxRetries  = 5
)

var ErrNotFound = domain.ErrNotFound

type Store struct {
	rdb redis.UniversalClient
	log *slog.Logger
}

func New(rdb redis.UniversalClient, log *slog.Logger) *Store {
	return &Store{rdb: rdb, log: log}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) scanKeys(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := s.rdb.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan keys (pattern = %s): %w", pattern, err)
	}

	return nil
}

func configKey(accountKey string) string {
	return configKeyPrefix + strings.TrimSpace(accountKey)
}

func signerKey(id string) string {
	return signerKeyPrefix + strings.TrimSpace(id)
}

func signerIndexKey(fid uint64) string {
	return fmt.Sprintf("%s%d", signerIndexPrefix, fid)
}

func likedKey(actorKey, contentID string) string {
	return likedKeyPrefix + strings.TrimSpace(actorKey) + "_" + strings.TrimSpace(contentID)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
