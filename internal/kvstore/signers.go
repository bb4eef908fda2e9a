package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autoliker/internal/domain"

	"github.com/redis/go-redis/v9"
)

type signerRecord struct {
	Address     string `json:"address"`
	FID         string `json:"fid"`
	PrivateKey  string `json:"privateKey"`
	IsValidated bool   `json:"isValidated"`
	IsPending   bool   `json:"isPending"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}

func (r *signerRecord) toDomain() (domain.Signer, error) {
	fid, err := strconv.ParseUint(strings.TrimSpace(r.FID), 10, 64)
	if err != nil {
		return domain.Signer{}, fmt.Errorf("parse signer fid %q: %w", r.FID, err)
	}

	s := domain.Signer{
		Address:     r.Address,
		FID:         fid,
		PrivateKey:  r.PrivateKey,
		IsValidated: r.IsValidated,
		IsPending:   r.IsPending,
	}
	if r.CreatedAt > 0 {
		s.CreatedAt = time.UnixMilli(r.CreatedAt).UTC()
	}
	if r.UpdatedAt > 0 {
		s.UpdatedAt = time.UnixMilli(r.UpdatedAt).UTC()
	}

	return s, nil
}

func (s *Store) SignerByAddress(ctx context.Context, address string) (domain.Signer, error) {
	return s.loadSigner(ctx, signerKey(address))
}

// SignerByFID resolves a signer through the fid index. Records written before
// the index existed are found under the legacy signer_<fid> key.
func (s *Store) SignerByFID(ctx context.Context, fid uint64) (domain.Signer, error) {
	address, err := s.rdb.Get(ctx, signerIndexKey(fid)).Result()
	switch {
	case err == nil:
		signer, loadErr := s.SignerByAddress(ctx, address)
		if !errors.Is(loadErr, ErrNotFound) {
			return signer, loadErr
		}

		s.log.WarnContext(ctx, "Signer index points to missing record",
			"fid", fid,
			"address", address)
	case errors.Is(err, redis.Nil):
	default:
		return domain.Signer{}, fmt.Errorf("get signer index (fid = %d): %w", fid, err)
	}

	return s.loadSigner(ctx, signerKey(strconv.FormatUint(fid, 10)))
}

// SaveSigner writes the signer record and its fid index entry together.
func (s *Store) SaveSigner(ctx context.Context, signer domain.Signer) error {
	address := strings.TrimSpace(signer.Address)
	if address == "" {
		return errors.New("signer address is empty")
	}

	now := time.Now()
	if signer.CreatedAt.IsZero() {
		signer.CreatedAt = now
	}

	rec := signerRecord{
		Address:     address,
		FID:         strconv.FormatUint(signer.FID, 10),
		PrivateKey:  signer.PrivateKey,
		IsValidated: signer.IsValidated,
		IsPending:   signer.IsPending,
		CreatedAt:   signer.CreatedAt.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode signer: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, signerKey(address), data, 0)
		if signer.FID != 0 {
			pipe.Set(ctx, signerIndexKey(signer.FID), address, 0)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("save signer (address = %s): %w", address, err)
	}

	return nil
}

func (s *Store) loadSigner(ctx context.Context, key string) (domain.Signer, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Signer{}, ErrNotFound
	}
	if err != nil {
		return domain.Signer{}, fmt.Errorf("get signer: %w", err)
	}

	var rec signerRecord
	if err = json.Unmarshal(raw, &rec); err != nil {
		return domain.Signer{}, fmt.Errorf("decode signer: %w", err)
	}

	return rec.toDomain()
}
