package model

import (
	"fmt"
	"time"
)

// DateLayout is the canonical format for calendar dates everywhere in the
// tool: requests, the mapping database, the error ledger and log output.
const DateLayout = "2006-01-02"

// Record is one row of the id→date mapping table.
//
// The upstream source publishes each trading day's files under a resource id
// that increases by one per slot, including slots that never got data
// (weekends, holidays). A Record with a zero Date marks such an empty slot;
// it is stored anyway so the id sequence stays contiguous.
type Record struct {
	// ID is the upstream resource id. Primary key, contiguous, starts at 1.
	ID int64

	// Date is the trading day the id's files belong to.
	// The zero value means the id exists upstream but carries no data.
	Date time.Time
}

// HasDate reports whether the record carries a trading day.
func (r Record) HasDate() bool {
	return !r.Date.IsZero()
}

// DateString renders the record's date in DateLayout, or "-" for empty slots.
func (r Record) DateString() string {
	if !r.HasDate() {
		return "-"
	}
	return r.Date.Format(DateLayout)
}

// ErrorEntry is one failed download, keyed by (ID, Filename).
//
// Entries are written by the download engine when a fetch fails and removed
// when a later attempt for the same (ID, Filename) succeeds. Until then they
// persist for inspection and for the retry pass.
type ErrorEntry struct {
	ID        int64
	Date      time.Time // zero when the id's date was unknown at failure time
	Filename  string
	Reason    string
	CreatedAt time.Time
}

// String renders the entry the way it appears in logs.
func (e ErrorEntry) String() string {
	return fmt.Sprintf("%d/%s: %s", e.ID, e.Filename, e.Reason)
}

// ParseDate parses a request date in DateLayout.
//
// time.Parse already rejects impossible calendar dates (2023-02-31 and the
// like), so callers get validation for free.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// Day truncates a time to midnight UTC so dates compare by calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
