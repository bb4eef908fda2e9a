package dispatch

import (
	"context"
	"errors"
	"fmt"

	"autoliker/internal/domain"
	"autoliker/internal/feed"
	"autoliker/internal/ratelimiter"
)

// ProcessAccount runs the per-account pipeline against the given cycle
// cache. Integrity problems (no usable signer) yield a zero result with no
// error and leave both LastCheckedAt and the failure tracker untouched.
// Returned errors are resolver or context failures.
func (d *Dispatcher) ProcessAccount(
	ctx context.Context,
	cache *feed.CycleCache,
	cfg domain.AccountConfig,
) (domain.AccountResult, error) {
	res := domain.AccountResult{
		AccountKey: cfg.AccountKey,
		Outcome:    domain.OutcomeCompleted,
	}

	signer, reason, err := d.resolveSigner(ctx, cfg)
	if err != nil {
		return res, err
	}
	if reason != "" {
		d.log.WarnContext(ctx, "Skipping account with integrity problem",
			"accountKey", cfg.AccountKey,
			"sourceFid", cfg.SourceFID,
			"reason", reason)

		res.Outcome = domain.OutcomeIntegrity
		res.Reason = reason

		return res, nil
	}

	if len(cfg.TargetFIDs) == 0 {
		d.log.WarnContext(ctx, "Skipping account without targets",
			"accountKey", cfg.AccountKey)

		res.Outcome = domain.OutcomeNoTargets

		return res, nil
	}

	d.log.InfoContext(ctx, "Processing account",
		"accountKey", cfg.AccountKey,
		"sourceFid", cfg.SourceFID,
		"targetFids", cfg.TargetFIDs)

	anySuccess := false

	for i, targetFID := range cfg.TargetFIDs {
		if i > 0 {
			if err = d.pacer.Wait(ctx, ratelimiter.StepTarget); err != nil {
				return res, err
			}
		}

		items := cache.Fetch(ctx, targetFID, d.contentLimit)
		if len(items) == 0 {
			d.log.DebugContext(ctx, "No recent content",
				"accountKey", cfg.AccountKey,
				"targetFid", targetFID)

			continue
		}

		for _, item := range items {
			res.Processed++

			liked, itemErr := d.processItem(ctx, cfg, signer, targetFID, item)
			switch {
			case itemErr != nil && ctx.Err() != nil:
				return res, itemErr
			case itemErr != nil:
				res.Errors++
			case liked:
				res.Liked++
				anySuccess = true
			default:
				res.Skipped++
			}
		}
	}

	if err = d.configs.UpdateLastChecked(ctx, cfg.AccountKey, d.now()); err != nil {
		d.log.ErrorContext(ctx, "Failed to update last check",
			"error", err,
			"accountKey", cfg.AccountKey)
	}

	switch {
	case anySuccess:
		d.recordSuccess(ctx, cfg.AccountKey)
	case res.Errors > 0:
		res.Deactivated = d.recordFailure(ctx, cfg.AccountKey)
	}

	d.log.InfoContext(ctx, "Account is processed",
		"accountKey", cfg.AccountKey,
		"processed", res.Processed,
		"liked", res.Liked,
		"skipped", res.Skipped,
		"errors", res.Errors)

	return res, nil
}

// resolveSigner returns the signer for the source FID, or a non-empty
// reason when the account cannot act.
func (d *Dispatcher) resolveSigner(
	ctx context.Context,
	cfg domain.AccountConfig,
) (domain.Signer, string, error) {
	signer, err := d.identities.SignerByFID(ctx, cfg.SourceFID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Signer{}, fmt.Sprintf("no signer for source fid %d", cfg.SourceFID), nil
	}
	if err != nil {
		return domain.Signer{}, "", fmt.Errorf("resolve signer (fid = %d): %w", cfg.SourceFID, err)
	}

	if !signer.Usable() {
		return domain.Signer{}, fmt.Sprintf("signer for source fid %d is not usable", cfg.SourceFID), nil
	}

	if signer.FID != cfg.SourceFID {
		return domain.Signer{}, fmt.Sprintf("source fid mismatch: config has %d, signer has %d",
			cfg.SourceFID, signer.FID), nil
	}

	return signer, "", nil
}

// processItem likes one item unless it is stale or was already liked. It
// reports whether a like was submitted successfully; a non-nil error means
// the item counts as an error.
func (d *Dispatcher) processItem(
	ctx context.Context,
	cfg domain.AccountConfig,
	signer domain.Signer,
	targetFID uint64,
	item domain.ContentItem,
) (bool, error) {
	if item.PublishedAt.Before(d.now().Add(-d.stalenessCutoff)) {
		return false, nil
	}

	already, err := d.ledger.HasBeenLiked(ctx, cfg.AccountKey, item.ContentID)
	if err != nil {
		d.log.ErrorContext(ctx, "Failed to check ledger",
			"error", err,
			"accountKey", cfg.AccountKey,
			"castHash", item.ContentID)

		return false, fmt.Errorf("check ledger: %w", err)
	}
	if already {
		return false, nil
	}

	if err = d.pacer.Wait(ctx, ratelimiter.StepAction); err != nil {
		return false, err
	}

	authorFID := item.AuthorFID
	if authorFID == 0 {
		authorFID = targetFID
	}

	result := d.submitter.Submit(ctx, signer, item.ContentID, authorFID)
	if !result.Success {
		d.log.WarnContext(ctx, "Failed to like content",
			"accountKey", cfg.AccountKey,
			"castHash", item.ContentID,
			"targetFid", targetFID,
			"reason", result.Error)

		return false, fmt.Errorf("submit like: %s", result.Error)
	}

	rec := domain.LikedRecord{
		ActorKey:   cfg.AccountKey,
		ContentID:  item.ContentID,
		TargetFID:  targetFID,
		RecordedAt: d.now(),
	}

	if err = d.ledger.RecordLiked(ctx, rec); err != nil {
		d.log.ErrorContext(ctx, "Failed to record like",
			"error", err,
			"accountKey", cfg.AccountKey,
			"castHash", item.ContentID)
	}

	if err = d.events.PublishLiked(ctx, rec); err != nil {
		d.log.ErrorContext(ctx, "Failed to publish like",
			"error", err,
			"accountKey", cfg.AccountKey,
			"castHash", item.ContentID)
	}

	d.log.InfoContext(ctx, "Content is liked",
		"accountKey", cfg.AccountKey,
		"castHash", item.ContentID,
		"targetFid", targetFID,
		"actionHash", result.ActionHash)

	return true, nil
}
