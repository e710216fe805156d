package sgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quanthub/sgx-downloader/internal/store"
)

// ErrUnavailable means the latest (id, date) pair could not be determined.
// It is recoverable: updates abort, but stored data stays usable for queries
// that do not need freshness.
var ErrUnavailable = errors.New("latest info unavailable")

// LatestInfo is the newest known (id, date) pair at the source.
type LatestInfo struct {
	ID   int64
	Date time.Time
}

// LatestInfoProvider reports the most recent (id, date) pair the source has
// published. Implementations fail with an error wrapping ErrUnavailable when
// the source cannot be reached.
type LatestInfoProvider interface {
	FetchLatest(ctx context.Context) (LatestInfo, error)
}

// StaticProvider serves an operator-supplied pair, typically from CLI flags
// when the newest id and date are already known.
type StaticProvider struct {
	Info LatestInfo
}

func (p StaticProvider) FetchLatest(ctx context.Context) (LatestInfo, error) {
	return p.Info, nil
}

// ScanProvider discovers the latest pair by probing ids forward from the
// mapping store's max id. The scan stops after MissWindow consecutive empty
// slots (longer than any weekend/holiday cluster) or MaxAhead probes,
// whichever comes first.
//
// The store must hold at least one dated record to anchor the scan.
type ScanProvider struct {
	Mappings   *store.MappingStore
	Probe      ProbeFunc
	MaxAhead   int
	MissWindow int
	Logger     zerolog.Logger
}

func (p *ScanProvider) FetchLatest(ctx context.Context) (LatestInfo, error) {
	maxID, err := p.Mappings.MaxID(ctx)
	if err != nil {
		return LatestInfo{}, fmt.Errorf("read store max id: %w", err)
	}
	if maxID == 0 {
		return LatestInfo{}, fmt.Errorf("empty mapping store cannot anchor a scan: %w", ErrUnavailable)
	}

	// Newest stored dated record is the floor: if nothing new is found
	// ahead, that pair is still the latest.
	stored, err := p.Mappings.LastN(ctx, 1)
	if err != nil {
		return LatestInfo{}, fmt.Errorf("read newest stored record: %w", err)
	}

	var latest LatestInfo
	if len(stored) == 1 {
		latest = LatestInfo{ID: stored[0].ID, Date: stored[0].Date}
	}

	misses := 0
	for id := maxID + 1; id <= maxID+int64(p.MaxAhead) && misses < p.MissWindow; id++ {
		date, found, err := p.Probe(ctx, id)
		if err != nil {
			return LatestInfo{}, fmt.Errorf("probe id %d: %v: %w", id, err, ErrUnavailable)
		}
		if !found {
			misses++
			continue
		}
		latest = LatestInfo{ID: id, Date: date}
		misses = 0
	}

	if latest.ID == 0 {
		return LatestInfo{}, fmt.Errorf("no dated records found: %w", ErrUnavailable)
	}

	p.Logger.Debug().
		Int64("id", latest.ID).
		Str("date", latest.Date.Format("2006-01-02")).
		Msg("scan found latest pair")

	return latest, nil
}
