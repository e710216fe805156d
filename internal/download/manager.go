package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quanthub/sgx-downloader/internal/config"
	httpx "github.com/quanthub/sgx-downloader/internal/http"
	"github.com/quanthub/sgx-downloader/internal/model"
	"github.com/quanthub/sgx-downloader/internal/sgx"
	"github.com/quanthub/sgx-downloader/internal/store"
)

// ProgressLevel indicates the severity/type of a progress message.
type ProgressLevel int

const (
	LevelInfo ProgressLevel = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelSuccess
)

// ProgressEvent represents a download progress update.
type ProgressEvent struct {
	Message string
	Level   ProgressLevel
}

// Job is one resolved id with the files to fetch for it.
type Job struct {
	ID    int64
	Date  time.Time // zero when the id's trading day is unknown
	Files []string
}

// Manager coordinates file downloads.
//
// Each (id, filename) pair is an independent task: tasks run on a bounded
// worker pool, write to distinct per-id output paths, and record their own
// outcome. A failed task appends one ledger entry and never aborts the
// batch; a successful task removes any stale ledger entry for its pair.
type Manager struct {
	settings *config.Settings
	client   *httpx.Client
	urls     sgx.URLs
	ledger   *store.ErrorLedger
	logger   zerolog.Logger

	totalFiles      int32
	downloadedFiles int32
	failedFiles     int32
	receivedBytes   int64

	onProgress func(ProgressEvent)
}

// NewManager creates a download Manager. The client is shared with the
// updater so probes and downloads observe one request rate.
func NewManager(settings *config.Settings, client *httpx.Client, ledger *store.ErrorLedger, logger zerolog.Logger, onProgress func(ProgressEvent)) *Manager {
	return &Manager{
		settings:   settings,
		client:     client,
		urls:       sgx.NewURLs(settings.URLPattern),
		ledger:     ledger,
		logger:     logger.With().Str("component", "download").Logger(),
		onProgress: onProgress,
	}
}

// Run downloads every (id, filename) pair of the given jobs.
//
// Cancelling the context stops new tasks from starting; tasks already in
// flight finish or fail naturally. Run returns the context error on
// cancellation, otherwise nil; per-file failures are recorded in the
// ledger, not returned.
func (m *Manager) Run(ctx context.Context, jobs []Job) error {
	var total int32
	for _, job := range jobs {
		total += int32(len(job.Files))
	}
	atomic.StoreInt32(&m.totalFiles, total)
	atomic.StoreInt32(&m.downloadedFiles, 0)
	atomic.StoreInt32(&m.failedFiles, 0)
	atomic.StoreInt64(&m.receivedBytes, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.settings.MaxConcurrentDownloads)

	for _, job := range jobs {
		for _, file := range job.Files {
			id, date, file := job.ID, job.Date, file
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil // interrupted: don't start new fetches
				}
				m.fetchOne(gctx, id, date, file)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Retry re-attempts every ledger entry. Successes drop out of the ledger,
// failures are appended right back with their latest reason.
func (m *Manager) Retry(ctx context.Context) error {
	entries, err := m.ledger.All(ctx)
	if err != nil {
		return fmt.Errorf("read error ledger: %w", err)
	}
	if len(entries) == 0 {
		m.progress(ProgressEvent{Message: "No failed downloads to retry", Level: LevelInfo})
		return nil
	}

	m.progress(ProgressEvent{Message: fmt.Sprintf("Retrying %d failed download(s)", len(entries)), Level: LevelInfo})

	jobs := make([]Job, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, Job{ID: entry.ID, Date: entry.Date, Files: []string{entry.Filename}})
	}
	return m.Run(ctx, jobs)
}

// GetProgress returns current download progress.
func (m *Manager) GetProgress() (received int64, filesReceived, filesFailed, filesTotal int32) {
	return atomic.LoadInt64(&m.receivedBytes),
		atomic.LoadInt32(&m.downloadedFiles),
		atomic.LoadInt32(&m.failedFiles),
		atomic.LoadInt32(&m.totalFiles)
}

// fetchOne downloads a single (id, filename) pair and records the outcome.
// Failures stay inside the task: the ledger is the only escalation path.
func (m *Manager) fetchOne(ctx context.Context, id int64, date time.Time, file string) {
	url := m.urls.File(id, file)
	destDir := filepath.Join(m.settings.OutputDir, strconv.FormatInt(id, 10))

	var lastWritten int64
	onBytes := func(written, total int64) {
		atomic.AddInt64(&m.receivedBytes, written-lastWritten)
		lastWritten = written
	}

	destPath, err := m.downloadWithRetry(ctx, url, destDir, onBytes)
	if err != nil {
		atomic.AddInt32(&m.failedFiles, 1)

		reason := err.Error()
		var fe *httpx.FetchError
		if errors.As(err, &fe) {
			reason = fe.Reason()
		}

		entry := model.ErrorEntry{ID: id, Date: date, Filename: file, Reason: reason}
		if lerr := m.ledger.Append(ctx, entry); lerr != nil {
			m.logger.Error().Err(lerr).Int64("id", id).Str("file", file).Msg("failed to record error entry")
		}

		m.logger.Error().Err(err).Int64("id", id).Str("file", file).Msg("download failed")
		m.progress(ProgressEvent{Message: fmt.Sprintf("Failed %d/%s: %s", id, file, reason), Level: LevelError})
		return
	}

	atomic.AddInt32(&m.downloadedFiles, 1)

	// A success clears any earlier failure for the same pair.
	if lerr := m.ledger.Remove(ctx, id, file); lerr != nil {
		m.logger.Error().Err(lerr).Int64("id", id).Str("file", file).Msg("failed to clear error entry")
	}

	m.logger.Info().Int64("id", id).Str("path", destPath).Msg("downloaded")
	m.progress(ProgressEvent{Message: fmt.Sprintf("Downloaded %s", filepath.Base(destPath)), Level: LevelVerbose})
}

// downloadWithRetry retries transient failures with exponential backoff.
// Not-found is final: the file simply is not there, and retrying would only
// hammer the source.
func (m *Manager) downloadWithRetry(ctx context.Context, url, destDir string, onBytes func(written, total int64)) (string, error) {
	backoffCfg := backoff.NewExponentialBackOff()

	var lastErr error
	for attempt := 1; attempt <= m.settings.DownloadMaxRetries; attempt++ {
		destPath, err := m.client.DownloadFile(ctx, url, destDir, onBytes)
		if err == nil {
			return destPath, nil
		}
		lastErr = err

		var fe *httpx.FetchError
		if errors.As(err, &fe) && fe.Kind == httpx.KindNotFound {
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}
		if attempt == m.settings.DownloadMaxRetries {
			break
		}

		m.progress(ProgressEvent{
			Message: fmt.Sprintf("Retry %d/%d for %s", attempt, m.settings.DownloadMaxRetries, url),
			Level:   LevelWarning,
		})

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}

	return "", lastErr
}

func (m *Manager) progress(event ProgressEvent) {
	if m.onProgress != nil {
		m.onProgress(event)
	}
}
