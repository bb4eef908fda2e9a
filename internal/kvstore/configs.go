package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"autoliker/internal/domain"

	"github.com/redis/go-redis/v9"
)

type configRecord struct {
	SourceFID  uint64   `json:"sourceFid"`
	TargetFIDs []uint64 `json:"targetFids,omitempty"`
	TargetFID  *uint64  `json:"targetFid,omitempty"`
	Frequency  int      `json:"frequency"`
	IsActive   bool     `json:"isActive"`
	LastCheck  *int64   `json:"lastCheck,omitempty"`
	UpdatedAt  int64    `json:"updatedAt,omitempty"`
}

// normalize folds the legacy single-target field into the target list and
// reports whether the record changed.
func (r *configRecord) normalize() bool {
	if r.TargetFID == nil {
		return false
	}

	if len(r.TargetFIDs) == 0 {
		r.TargetFIDs = []uint64{*r.TargetFID}
	}
	r.TargetFID = nil

	return true
}

func (r *configRecord) toDomain(accountKey string) domain.AccountConfig {
	cfg := domain.AccountConfig{
		AccountKey:       accountKey,
		SourceFID:        r.SourceFID,
		TargetFIDs:       slices.Clone(r.TargetFIDs),
		FrequencyMinutes: r.Frequency,
		IsActive:         r.IsActive,
	}

	if r.LastCheck != nil && *r.LastCheck > 0 {
		t := time.UnixMilli(*r.LastCheck).UTC()
		cfg.LastCheckedAt = &t
	}

	return cfg
}

func recordFromDomain(cfg domain.AccountConfig) configRecord {
	r := configRecord{
		SourceFID:  cfg.SourceFID,
		TargetFIDs: slices.Clone(cfg.TargetFIDs),
		Frequency:  cfg.FrequencyMinutes,
		IsActive:   cfg.IsActive,
	}

	if cfg.LastCheckedAt != nil {
		ms := cfg.LastCheckedAt.UnixMilli()
		r.LastCheck = &ms
	}

	return r
}

func (s *Store) GetConfig(ctx context.Context, accountKey string) (domain.AccountConfig, error) {
	accountKey = strings.TrimSpace(accountKey)

	rec, err := s.loadConfigRecord(ctx, configKey(accountKey))
	if err != nil {
		return domain.AccountConfig{}, err
	}

	if rec.normalize() {
		if err = s.saveConfigRecord(ctx, accountKey, rec); err != nil {
			return domain.AccountConfig{}, fmt.Errorf("save migrated config: %w", err)
		}

		s.log.InfoContext(ctx, "Config is migrated to target list",
			"accountKey", accountKey,
			"targetFids", rec.TargetFIDs)
	}

	return rec.toDomain(accountKey), nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg domain.AccountConfig) error {
	accountKey := strings.TrimSpace(cfg.AccountKey)
	if accountKey == "" {
		return errors.New("account key is empty")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	rec := recordFromDomain(cfg)

	return s.saveConfigRecord(ctx, accountKey, &rec)
}

// ListActiveConfigs returns every active config. Records that cannot be
// decoded are logged and skipped; transport errors are returned.
func (s *Store) ListActiveConfigs(ctx context.Context) ([]domain.AccountConfig, error) {
	var configs []domain.AccountConfig

	err := s.scanKeys(ctx, configKeyPrefix+"*", func(key string) error {
		accountKey := strings.TrimPrefix(key, configKeyPrefix)

		rec, err := s.loadConfigRecord(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		if isDecodeError(err) {
			s.log.WarnContext(ctx, "Skipping malformed config",
				"error", err,
				"accountKey", accountKey)

			return nil
		}
		if err != nil {
			return err
		}

		if !rec.IsActive {
			return nil
		}

		if rec.normalize() {
			if err = s.saveConfigRecord(ctx, accountKey, rec); err != nil {
				return fmt.Errorf("save migrated config: %w", err)
			}

			s.log.InfoContext(ctx, "Config is migrated to target list",
				"accountKey", accountKey,
				"targetFids", rec.TargetFIDs)
		}

		configs = append(configs, rec.toDomain(accountKey))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active configs: %w", err)
	}

	slices.SortFunc(configs, func(a, b domain.AccountConfig) int {
		return strings.Compare(a.AccountKey, b.AccountKey)
	})

	return configs, nil
}

func (s *Store) UpdateLastChecked(ctx context.Context, accountKey string, at time.Time) error {
	return s.updateConfig(ctx, accountKey, func(rec *configRecord) bool {
		ms := at.UnixMilli()
		rec.LastCheck = &ms

		return true
	})
}

// Deactivate flips an active config to inactive and reports whether it did.
func (s *Store) Deactivate(ctx context.Context, accountKey string) (bool, error) {
	flipped := false

	err := s.updateConfig(ctx, accountKey, func(rec *configRecord) bool {
		if !rec.IsActive {
			return false
		}

		rec.IsActive = false
		flipped = true

		return true
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return flipped, err
}

// updateConfig runs a read-modify-write under WATCH so that a concurrent
// writer of the same record forces a retry instead of a lost update.
func (s *Store) updateConfig(
	ctx context.Context,
	accountKey string,
	mutate func(rec *configRecord) bool,
) error {
	accountKey = strings.TrimSpace(accountKey)
	key := configKey(accountKey)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get config: %w", err)
		}

		var rec configRecord
		if err = json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}

		migrated := rec.normalize()
		if !mutate(&rec) && !migrated {
			return nil
		}
		rec.UpdatedAt = time.Now().UnixMilli()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})

		return err
	}

	for range maxTxRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update config (accountKey = %s): %w", accountKey, err)
		}

		return nil
	}

	return fmt.Errorf("update config (accountKey = %s): too many concurrent writers", accountKey)
}

func (s *Store) loadConfigRecord(ctx context.Context, key string) (*configRecord, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	var rec configRecord
	if err = json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &rec, nil
}

func (s *Store) saveConfigRecord(ctx context.Context, accountKey string, rec *configRecord) error {
	rec.UpdatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err = s.rdb.Set(ctx, configKey(accountKey), data, 0).Err(); err != nil {
		return fmt.Errorf("set config: %w", err)
	}

	return nil
}
