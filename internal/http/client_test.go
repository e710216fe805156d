package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestClient() *Client {
	return NewClient(5*time.Second, 0)
}

func TestClient_FetchFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/5531/WEBPXTICK_DT.zip":
			w.Header().Set("Content-Disposition", `attachment; filename=WEBPXTICK_DT-20230821.zip`)
			w.WriteHeader(http.StatusOK)
		case "/5532/WEBPXTICK_DT.zip":
			// Empty slot: the source answers 200 with no disposition.
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	ctx := context.Background()

	t.Run("served filename", func(t *testing.T) {
		name, err := c.FetchFileName(ctx, srv.URL+"/5531/WEBPXTICK_DT.zip")
		if err != nil {
			t.Fatalf("FetchFileName() failed: %v", err)
		}
		if name != "WEBPXTICK_DT-20230821.zip" {
			t.Errorf("FetchFileName() = %q, want %q", name, "WEBPXTICK_DT-20230821.zip")
		}
	})

	t.Run("missing disposition is not found", func(t *testing.T) {
		_, err := c.FetchFileName(ctx, srv.URL+"/5532/WEBPXTICK_DT.zip")
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Kind != KindNotFound {
			t.Errorf("FetchFileName() error = %v, want FetchError{KindNotFound}", err)
		}
	})

	t.Run("404 is not found", func(t *testing.T) {
		_, err := c.FetchFileName(ctx, srv.URL+"/0/nope.zip")
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Kind != KindNotFound {
			t.Errorf("FetchFileName() error = %v, want FetchError{KindNotFound}", err)
		}
	})
}

func TestClient_DownloadFile(t *testing.T) {
	body := []byte("tick,price,volume\n20230821,1.23,100\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Disposition", `attachment; filename=TC_20230821.txt`)
			w.Write(body)
		case "/server-error":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/no-name":
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	ctx := context.Background()

	t.Run("success writes the served filename", func(t *testing.T) {
		dir := t.TempDir()
		dest, err := c.DownloadFile(ctx, srv.URL+"/ok", dir, nil)
		if err != nil {
			t.Fatalf("DownloadFile() failed: %v", err)
		}
		if filepath.Base(dest) != "TC_20230821.txt" {
			t.Errorf("dest = %q, want the Content-Disposition name", dest)
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("reading downloaded file: %v", err)
		}
		if string(data) != string(body) {
			t.Errorf("downloaded content mismatch: got %d bytes, want %d", len(data), len(body))
		}
		// No stray temp file.
		if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
			t.Error("temp .part file left behind after success")
		}
	})

	t.Run("progress callback sees the full size", func(t *testing.T) {
		var last, total int64
		_, err := c.DownloadFile(ctx, srv.URL+"/ok", t.TempDir(), func(written, t int64) {
			last, total = written, t
		})
		if err != nil {
			t.Fatalf("DownloadFile() failed: %v", err)
		}
		if last != int64(len(body)) || total != int64(len(body)) {
			t.Errorf("progress = (%d, %d), want (%d, %d)", last, total, len(body), len(body))
		}
	})

	t.Run("server error is a network error", func(t *testing.T) {
		_, err := c.DownloadFile(ctx, srv.URL+"/server-error", t.TempDir(), nil)
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Kind != KindNetwork {
			t.Errorf("DownloadFile() error = %v, want FetchError{KindNetwork}", err)
		}
	})

	t.Run("missing disposition is not found", func(t *testing.T) {
		_, err := c.DownloadFile(ctx, srv.URL+"/no-name", t.TempDir(), nil)
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Kind != KindNotFound {
			t.Errorf("DownloadFile() error = %v, want FetchError{KindNotFound}", err)
		}
	})
}

func TestClient_DownloadFile_TruncatedBody(t *testing.T) {
	// A body shorter than the announced Content-Length must be an integrity
	// failure and must not leave a file behind. The handler hijacks the
	// connection to bypass net/http's own length enforcement.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("test server does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		defer conn.Close()
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\n"+
			"Content-Disposition: attachment; filename=WEBPXTICK_DT-20230821.zip\r\n"+
			"Content-Length: 1000\r\n\r\nshort body")
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newTestClient().DownloadFile(context.Background(), srv.URL+"/truncated", dir, nil)

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindIntegrity {
		t.Fatalf("DownloadFile() error = %v, want FetchError{KindIntegrity}", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("partial download left files behind: %v", entries)
	}
}

func TestFetchError_Reason(t *testing.T) {
	tests := []struct {
		err  *FetchError
		want string
	}{
		{&FetchError{Kind: KindNotFound, URL: "u", Err: fmt.Errorf("HTTP 404 Not Found")}, "NotFound: HTTP 404 Not Found"},
		{&FetchError{Kind: KindNetwork, URL: "u"}, "NetworkError"},
		{&FetchError{Kind: KindIntegrity, URL: "u", Err: fmt.Errorf("got 5 bytes, expected 1000")}, "IntegrityError: got 5 bytes, expected 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.err.Reason(); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}
