package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	ioutils "github.com/quanthub/sgx-downloader/internal/io"
)

// Client wraps HTTP operations against the historical-data host.
//
// Client provides:
//   - Configured User-Agent header
//   - Timeout handling and request rate limiting
//   - Filename discovery via Content-Disposition
//   - Streaming file download with integrity validation
//
// Example usage:
//
//	client := NewClient(60*time.Second, 5)
//
//	// Discover the served filename (and thus the trading day) for an id
//	name, err := client.FetchFileName(ctx, probeURL)
//
//	// Download a file into a directory, named by the server
//	path, err := client.DownloadFile(ctx, fileURL, "/data/5531", nil)
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient creates a new HTTP client.
//
// requestsPerSecond bounds the request rate across all callers sharing the
// client; zero or negative disables the limit. The same client instance is
// shared by the updater's sequential probes and the download workers so the
// source sees one combined rate.
func NewClient(timeout time.Duration, requestsPerSecond float64) *Client {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: "sgx-downloader",
		limiter:   limiter,
	}
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	// Parameters are (bytesWritten, totalExpected).
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// FetchFileName returns the filename the server would serve for url, taken
// from the Content-Disposition header. The body is not read.
//
// The source answers requests for nonexistent ids with 200 and no
// Content-Disposition, so a missing header is classified as KindNotFound,
// same as a 404.
//
// Example:
//
//	name, err := client.FetchFileName(ctx, urls.File(5531, "WEBPXTICK_DT.zip"))
//	// name == "WEBPXTICK_DT-20230821.zip"
func (c *Client) FetchFileName(ctx context.Context, url string) (string, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name := dispositionFileName(resp)
	if name == "" {
		return "", &FetchError{Kind: KindNotFound, URL: url, Err: fmt.Errorf("no Content-Disposition filename")}
	}
	return name, nil
}

// DownloadFile downloads one file into destDir, named by the server's
// Content-Disposition filename (sanitized). It returns the final path.
//
// The content is streamed to a temporary ".part" file in destDir and renamed
// into place only after the byte count matches the announced Content-Length,
// so an interrupted or truncated download never looks like a success.
//
// Parameters:
//   - ctx: Context for cancellation
//   - url: URL to download from
//   - destDir: Directory to save into (created if missing)
//   - onProgress: Optional callback called with (bytesWritten, totalBytes);
//     pass nil to disable progress tracking
//
// All failures are returned as *FetchError.
func (c *Client) DownloadFile(ctx context.Context, url, destDir string, onProgress func(written, total int64)) (string, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name := dispositionFileName(resp)
	if name == "" {
		return "", &FetchError{Kind: KindNotFound, URL: url, Err: fmt.Errorf("no Content-Disposition filename")}
	}

	if err := ioutils.EnsureDir(destDir); err != nil {
		return "", &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}

	destPath := filepath.Join(destDir, name)
	partPath := destPath + ".part"

	file, err := os.Create(partPath)
	if err != nil {
		return "", &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}

	var writer io.Writer = file
	if onProgress != nil {
		writer = &ProgressWriter{
			Writer:   file,
			Total:    resp.ContentLength,
			OnUpdate: onProgress,
		}
	}

	written, err := io.Copy(writer, resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		kind := KindNetwork
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// The body ended before the announced Content-Length.
			kind = KindIntegrity
		}
		return "", &FetchError{Kind: kind, URL: url, Err: err}
	}

	if resp.ContentLength >= 0 && written != resp.ContentLength {
		os.Remove(partPath)
		return "", &FetchError{
			Kind: KindIntegrity,
			URL:  url,
			Err:  fmt.Errorf("got %d bytes, expected %d", written, resp.ContentLength),
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return "", &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}

	return destPath, nil
}

// get performs a rate-limited GET and classifies failures.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, &FetchError{Kind: KindNotFound, URL: url, Err: fmt.Errorf("HTTP %s", resp.Status)}
	default:
		resp.Body.Close()
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: fmt.Errorf("HTTP %s", resp.Status)}
	}
}

// dispositionFileName extracts and sanitizes the Content-Disposition
// filename, or returns "" when the header is absent or unparseable.
func dispositionFileName(resp *http.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	// Strip any path the server smuggles in before sanitizing.
	return ioutils.SanitizeFileName(path.Base(name))
}
