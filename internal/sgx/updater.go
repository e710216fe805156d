package sgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/quanthub/sgx-downloader/internal/model"
	"github.com/quanthub/sgx-downloader/internal/store"
)

// Updater reconciles the mapping store with the source's latest state.
//
// It walks every id between the store's max and the provider's latest,
// probing each one for its trading day, and appends a record for every id in
// that range. Empty slots are recorded with an absent date, never skipped:
// queries rely on the id sequence having no holes.
type Updater struct {
	mappings   *store.MappingStore
	provider   LatestInfoProvider
	probe      ProbeFunc
	maxRetries int
	logger     zerolog.Logger
}

// NewUpdater creates an Updater. maxRetries bounds how often a failing probe
// is retried before the id is recorded with an absent date.
func NewUpdater(mappings *store.MappingStore, provider LatestInfoProvider, probe ProbeFunc, maxRetries int, logger zerolog.Logger) *Updater {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Updater{
		mappings:   mappings,
		provider:   provider,
		probe:      probe,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "updater").Logger(),
	}
}

// Update brings the mapping store up to the provider's latest id.
//
// Running Update twice with an unchanged provider is a no-op: the second run
// sees latest == max and touches nothing. Errors wrapping ErrUnavailable
// mean the update was aborted and stored data is still usable.
func (u *Updater) Update(ctx context.Context) error {
	latest, err := u.provider.FetchLatest(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest info: %w", err)
	}

	maxID, err := u.mappings.MaxID(ctx)
	if err != nil {
		return err
	}

	switch {
	case latest.ID == maxID:
		u.logger.Debug().Int64("max_id", maxID).Msg("mapping store is up to date")
		return nil
	case latest.ID < maxID:
		u.logger.Warn().
			Int64("max_id", maxID).
			Int64("latest_id", latest.ID).
			Msg("provider reported an id older than the store; nothing to update")
		return nil
	}

	u.logger.Info().
		Int64("from", maxID+1).
		Int64("to", latest.ID).
		Msg("updating mapping store")

	for id := maxID + 1; id <= latest.ID; id++ {
		rec := model.Record{ID: id}

		if id == latest.ID {
			// Already known from the provider; no probe needed.
			rec.Date = model.Day(latest.Date)
		} else {
			date, found, err := u.probeWithRetry(ctx, id)
			if err != nil {
				return err
			}
			if found {
				rec.Date = date
			}
		}

		if err := u.appendRecord(ctx, rec); err != nil {
			return err
		}
	}

	u.logger.Info().Int64("max_id", latest.ID).Msg("mapping store updated")
	return nil
}

// UpdateLatestOnly records the provider's latest pair without gap-filling.
// This is the cheap path for callers that only want today's data.
//
// The pair is appended only when it extends the store by exactly one id;
// anything else would punch a hole in the sequence, so the store is left
// untouched and the pair is returned transiently.
func (u *Updater) UpdateLatestOnly(ctx context.Context) (LatestInfo, error) {
	latest, err := u.provider.FetchLatest(ctx)
	if err != nil {
		return LatestInfo{}, fmt.Errorf("fetch latest info: %w", err)
	}

	maxID, err := u.mappings.MaxID(ctx)
	if err != nil {
		return LatestInfo{}, err
	}

	if latest.ID == maxID+1 {
		rec := model.Record{ID: latest.ID, Date: model.Day(latest.Date)}
		if err := u.appendRecord(ctx, rec); err != nil {
			return LatestInfo{}, err
		}
	} else if latest.ID > maxID+1 {
		u.logger.Debug().
			Int64("max_id", maxID).
			Int64("latest_id", latest.ID).
			Msg("latest id leaves a gap; not stored (run a full update to fill)")
	}

	return latest, nil
}

// appendRecord stores one record. A date already mapped to an earlier id
// (a republication the unique-date invariant cannot hold) is demoted to an
// absent date with a warning; ordering violations stay fatal.
func (u *Updater) appendRecord(ctx context.Context, rec model.Record) error {
	err := u.mappings.Append(ctx, rec)
	if errors.Is(err, store.ErrDuplicateDate) {
		u.logger.Warn().
			Int64("id", rec.ID).
			Str("date", rec.DateString()).
			Msg("date already mapped to an earlier id; recording slot without a date")
		rec.Date = time.Time{}
		err = u.mappings.Append(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("append id %d: %w", rec.ID, err)
	}
	return nil
}

// probeWithRetry probes one id, retrying transient failures with exponential
// backoff. After maxRetries failed attempts the id is treated as having no
// data so the sequence can continue; only cancellation aborts the update.
func (u *Updater) probeWithRetry(ctx context.Context, id int64) (time.Time, bool, error) {
	backoffCfg := backoff.NewExponentialBackOff()

	var lastErr error
	for attempt := 1; attempt <= u.maxRetries; attempt++ {
		date, found, err := u.probe(ctx, id)
		if err == nil {
			return date, found, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return time.Time{}, false, ctx.Err()
		}

		u.logger.Warn().
			Err(err).
			Int64("id", id).
			Int("attempt", attempt).
			Int("max_attempts", u.maxRetries).
			Msg("probe failed")

		if attempt == u.maxRetries {
			break
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return time.Time{}, false, ctx.Err()
		case <-time.After(sleep):
		}
	}

	u.logger.Warn().
		Err(lastErr).
		Int64("id", id).
		Msg("probe retries exhausted; recording slot without a date")
	return time.Time{}, false, nil
}
