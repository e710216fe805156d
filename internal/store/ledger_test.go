package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quanthub/sgx-downloader/internal/model"
)

func TestErrorLedger_AppendRemove(t *testing.T) {
	ctx := context.Background()
	l := testStore(t).Ledger()

	entry := model.ErrorEntry{
		ID:       5530,
		Date:     day(t, "2023-08-21"),
		Filename: "WEBPXTICK_DT.zip",
		Reason:   "network error: connection refused",
	}

	if err := l.Append(ctx, entry); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	entries, err := l.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("All() returned %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.ID != entry.ID || got.Filename != entry.Filename || got.Reason != entry.Reason {
		t.Errorf("All()[0] = %+v, want %+v", got, entry)
	}
	if ds := got.Date.Format(model.DateLayout); ds != "2023-08-21" {
		t.Errorf("entry date = %s, want 2023-08-21", ds)
	}

	if err := l.Remove(ctx, entry.ID, entry.Filename); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	entries, err = l.All(ctx)
	if err != nil {
		t.Fatalf("All() after remove failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("All() after remove = %v, want empty", entries)
	}
}

func TestErrorLedger_AppendIdempotent(t *testing.T) {
	ctx := context.Background()
	l := testStore(t).Ledger()

	entry := model.ErrorEntry{ID: 1, Filename: "TC.txt", Reason: "not found"}
	if err := l.Append(ctx, entry); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}

	entry.Reason = "network error: timeout"
	if err := l.Append(ctx, entry); err != nil {
		t.Fatalf("second Append() failed: %v", err)
	}

	entries, err := l.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("All() returned %d entries, want 1 (no duplicates)", len(entries))
	}
	if entries[0].Reason != "network error: timeout" {
		t.Errorf("Reason = %q, want the latest failure reason", entries[0].Reason)
	}
}

func TestErrorLedger_RemoveMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	l := testStore(t).Ledger()

	if err := l.Remove(ctx, 42, "never-failed.zip"); err != nil {
		t.Errorf("Remove() of missing entry = %v, want nil", err)
	}
}

func TestErrorLedger_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	l := testStore(t).Ledger()

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			entry := model.ErrorEntry{
				ID:        int64(n),
				Filename:  "WEBPXTICK_DT.zip",
				Reason:    "network error",
				CreatedAt: time.Now().UTC(),
			}
			errCh <- l.Append(ctx, entry)
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent Append() failed: %v", err)
		}
	}

	entries, err := l.All(ctx)
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(entries) != workers {
		t.Errorf("All() returned %d entries, want %d (no lost appends)", len(entries), workers)
	}
}
