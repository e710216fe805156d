package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quanthub/sgx-downloader/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("bad test date %q: %v", s, err)
	}
	return d
}

// Fixture: ids 1..4 around the 2023-08-19/20 weekend. Id 2 is the Saturday
// slot the source published nothing for, so it is stored with no date.
func seedWeekendFixture(t *testing.T, m *MappingStore) {
	t.Helper()
	ctx := context.Background()
	records := []model.Record{
		{ID: 1, Date: day(t, "2023-08-18")}, // Friday
		{ID: 2},                             // Saturday slot, no data
		{ID: 3, Date: day(t, "2023-08-21")}, // Monday
		{ID: 4, Date: day(t, "2023-08-22")}, // Tuesday
	}
	for _, rec := range records {
		if err := m.Append(ctx, rec); err != nil {
			t.Fatalf("seed Append(%d) failed: %v", rec.ID, err)
		}
	}
}

func TestMappingStore_AppendContiguous(t *testing.T) {
	ctx := context.Background()
	m := testStore(t).Mappings()

	for i := int64(1); i <= 10; i++ {
		rec := model.Record{ID: i}
		if i%3 != 0 { // leave every third slot dateless
			rec.Date = day(t, "2023-08-01").AddDate(0, 0, int(i))
		}
		if err := m.Append(ctx, rec); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}

	maxID, err := m.MaxID(ctx)
	if err != nil {
		t.Fatalf("MaxID() failed: %v", err)
	}
	if maxID != 10 {
		t.Errorf("MaxID() = %d, want 10", maxID)
	}

	// Every id in 1..10 must exist, dateless slots included.
	for i := int64(1); i <= 10; i++ {
		if _, ok, err := m.Get(ctx, i); err != nil || !ok {
			t.Errorf("Get(%d) = ok=%v err=%v, want stored record", i, ok, err)
		}
	}
}

func TestMappingStore_AppendOrderingViolation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		seed []int64
		id   int64
	}{
		{"empty store requires id 1", nil, 5},
		{"gap rejected", []int64{1, 2}, 4},
		{"duplicate rejected", []int64{1, 2}, 2},
		{"backwards rejected", []int64{1, 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testStore(t).Mappings()
			for _, id := range tt.seed {
				if err := m.Append(ctx, model.Record{ID: id}); err != nil {
					t.Fatalf("seed Append(%d) failed: %v", id, err)
				}
			}

			err := m.Append(ctx, model.Record{ID: tt.id})
			if !errors.Is(err, ErrOrderingViolation) {
				t.Fatalf("Append(%d) error = %v, want ErrOrderingViolation", tt.id, err)
			}

			// Store unchanged.
			maxID, err := m.MaxID(ctx)
			if err != nil {
				t.Fatalf("MaxID() failed: %v", err)
			}
			if want := int64(len(tt.seed)); maxID != want {
				t.Errorf("MaxID() after failed append = %d, want %d", maxID, want)
			}
		})
	}
}

func TestMappingStore_AppendDuplicateDate(t *testing.T) {
	ctx := context.Background()
	m := testStore(t).Mappings()

	if err := m.Append(ctx, model.Record{ID: 1, Date: day(t, "2023-08-21")}); err != nil {
		t.Fatalf("Append(1) failed: %v", err)
	}

	err := m.Append(ctx, model.Record{ID: 2, Date: day(t, "2023-08-21")})
	if !errors.Is(err, ErrDuplicateDate) {
		t.Fatalf("Append with duplicate date error = %v, want ErrDuplicateDate", err)
	}

	// The date still resolves to the original id, and id 2 was not stored.
	id, ok, err := m.GetByDate(ctx, "2023-08-21")
	if err != nil || !ok || id != 1 {
		t.Errorf("GetByDate() = (%d, %v, %v), want (1, true, nil)", id, ok, err)
	}
	if maxID, _ := m.MaxID(ctx); maxID != 1 {
		t.Errorf("MaxID() = %d, want 1", maxID)
	}
}

func TestMappingStore_GetByDateRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := testStore(t).Mappings()
	seedWeekendFixture(t, m)

	tests := []struct {
		date   string
		wantID int64
		wantOK bool
	}{
		{"2023-08-18", 1, true},
		{"2023-08-21", 3, true},
		{"2023-08-22", 4, true},
		{"2023-08-19", 0, false}, // weekend, absent
		{"2023-08-25", 0, false}, // never stored
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			id, ok, err := m.GetByDate(ctx, tt.date)
			if err != nil {
				t.Fatalf("GetByDate(%s) failed: %v", tt.date, err)
			}
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("GetByDate(%s) = (%d, %v), want (%d, %v)", tt.date, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestMappingStore_GetRange(t *testing.T) {
	ctx := context.Background()
	m := testStore(t).Mappings()
	seedWeekendFixture(t, m)

	t.Run("range spanning a weekend", func(t *testing.T) {
		records, err := m.GetRange(ctx, "2023-08-18", "2023-08-22")
		if err != nil {
			t.Fatalf("GetRange() failed: %v", err)
		}
		wantIDs := []int64{1, 3, 4} // the dateless Saturday slot is excluded
		if len(records) != len(wantIDs) {
			t.Fatalf("GetRange() returned %d records, want %d", len(records), len(wantIDs))
		}
		for i, rec := range records {
			if rec.ID != wantIDs[i] {
				t.Errorf("records[%d].ID = %d, want %d", i, rec.ID, wantIDs[i])
			}
			if i > 0 && !records[i-1].Date.Before(rec.Date) {
				t.Errorf("records not ascending by date at index %d", i)
			}
		}
	})

	t.Run("empty intersection is empty, not an error", func(t *testing.T) {
		records, err := m.GetRange(ctx, "2024-01-01", "2024-01-31")
		if err != nil {
			t.Fatalf("GetRange() failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("GetRange() = %v, want empty", records)
		}
	})

	t.Run("single day range", func(t *testing.T) {
		records, err := m.GetRange(ctx, "2023-08-21", "2023-08-21")
		if err != nil {
			t.Fatalf("GetRange() failed: %v", err)
		}
		if len(records) != 1 || records[0].ID != 3 {
			t.Errorf("GetRange() = %v, want single record id 3", records)
		}
	})
}

func TestMappingStore_LastN(t *testing.T) {
	ctx := context.Background()
	m := testStore(t).Mappings()

	// Ten dated records with a dateless slot in the middle.
	next := int64(1)
	for i := 0; i < 10; i++ {
		rec := model.Record{ID: next, Date: day(t, "2023-08-01").AddDate(0, 0, i)}
		if err := m.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		next++
		if i == 4 {
			if err := m.Append(ctx, model.Record{ID: next}); err != nil {
				t.Fatalf("Append dateless failed: %v", err)
			}
			next++
		}
	}

	records, err := m.LastN(ctx, 2)
	if err != nil {
		t.Fatalf("LastN(2) failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("LastN(2) returned %d records, want 2", len(records))
	}
	// Most recent last.
	if records[0].DateString() != "2023-08-09" || records[1].DateString() != "2023-08-10" {
		t.Errorf("LastN(2) = [%s, %s], want [2023-08-09, 2023-08-10]",
			records[0].DateString(), records[1].DateString())
	}

	// Asking for more than stored returns what exists.
	records, err = m.LastN(ctx, 100)
	if err != nil {
		t.Fatalf("LastN(100) failed: %v", err)
	}
	if len(records) != 10 {
		t.Errorf("LastN(100) returned %d records, want 10", len(records))
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := s1.Mappings().Append(ctx, model.Record{ID: 1, Date: day(t, "2023-08-21")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	id, ok, err := s2.Mappings().GetByDate(ctx, "2023-08-21")
	if err != nil || !ok || id != 1 {
		t.Errorf("GetByDate after reopen = (%d, %v, %v), want (1, true, nil)", id, ok, err)
	}
}
