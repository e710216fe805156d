package sgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quanthub/sgx-downloader/internal/model"
	"github.com/quanthub/sgx-downloader/internal/store"
)

var (
	// ErrInvalidDate means a request date does not parse as a real
	// calendar date. Reported before any work is done.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidRange means a range request has start after end, or a
	// non-positive last-n count.
	ErrInvalidRange = errors.New("invalid range")
)

// Resolver translates date-oriented requests into the concrete ids to
// download. It refreshes the mapping store first; when the source cannot be
// reached it degrades to answering from stored data.
type Resolver struct {
	mappings *store.MappingStore
	updater  *Updater
	logger   zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(mappings *store.MappingStore, updater *Updater, logger zerolog.Logger) *Resolver {
	return &Resolver{
		mappings: mappings,
		updater:  updater,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// ResolveDate resolves a single "2006-01-02" date. A date with no stored id
// (weekend, holiday, not yet published) resolves to an empty slice, not an
// error.
func (r *Resolver) ResolveDate(ctx context.Context, date string) ([]model.Record, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	id, ok, err := r.mappings.GetByDate(ctx, d.Format(model.DateLayout))
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Info().Str("date", date).Msg("no data for date (weekend, holiday, or not yet published)")
		return []model.Record{}, nil
	}
	return []model.Record{{ID: id, Date: d}}, nil
}

// ResolveRange resolves every stored trading day in [start, end], ascending.
// An empty intersection resolves to an empty slice.
func (r *Resolver) ResolveRange(ctx context.Context, start, end string) ([]model.Record, error) {
	from, err := model.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, start)
	}
	to, err := model.ParseDate(end)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, end)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, start, end)
	}

	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	return r.mappings.GetRange(ctx, from.Format(model.DateLayout), to.Format(model.DateLayout))
}

// ResolveLastN resolves the newest n trading days, oldest first.
func (r *Resolver) ResolveLastN(ctx context.Context, n int) ([]model.Record, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: last-n count %d must be positive", ErrInvalidRange, n)
	}

	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	return r.mappings.LastN(ctx, n)
}

// ResolveLatest resolves only the newest published day, skipping gap-filling
// entirely. Unlike the other requests this one needs the provider, so an
// unreachable source is an error here.
func (r *Resolver) ResolveLatest(ctx context.Context) (model.Record, error) {
	latest, err := r.updater.UpdateLatestOnly(ctx)
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{ID: latest.ID, Date: model.Day(latest.Date)}, nil
}

// refresh runs a full update. An unavailable provider only degrades the
// answer to stored data; everything else (ordering violations in
// particular) aborts the request.
func (r *Resolver) refresh(ctx context.Context) error {
	err := r.updater.Update(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		r.logger.Warn().Err(err).Msg("update aborted; answering from stored data")
		return nil
	}
	return err
}
