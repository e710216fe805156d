package sgx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	httpx "github.com/quanthub/sgx-downloader/internal/http"
	"github.com/quanthub/sgx-downloader/internal/model"
)

// URLs builds resource locations from the configured URL pattern. Every
// trading day's files live under one numeric id:
//
//	https://links.sgx.com/1.0.0/derivatives-historical/<id>/<filename>
type URLs struct {
	base string
}

// NewURLs creates a URL builder for the given base pattern.
func NewURLs(base string) URLs {
	return URLs{base: strings.TrimRight(base, "/")}
}

// File returns the location of one file under one id.
func (u URLs) File(id int64, filename string) string {
	return fmt.Sprintf("%s/%d/%s", u.base, id, filename)
}

var digitsPattern = regexp.MustCompile(`\d+`)

// DateFromFileName extracts the trading day embedded in a served filename.
// The source encodes it as yyyymmdd digits, e.g. "WEBPXTICK_DT-20230821.zip".
func DateFromFileName(name string) (time.Time, error) {
	digits := strings.Join(digitsPattern.FindAllString(name, -1), "")
	d, err := time.Parse("20060102", digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("no yyyymmdd date in filename %q: %w", name, err)
	}
	return model.Day(d), nil
}

// ProbeFunc asks the source whether an id has data and, if so, which trading
// day it belongs to. found=false means the slot is empty (weekend, holiday);
// a non-nil error means the source could not be asked at all.
type ProbeFunc func(ctx context.Context, id int64) (date time.Time, found bool, err error)

// NewProbe builds the standard probe: request the probe filename for the id
// and read the trading day out of the served filename.
func NewProbe(client *httpx.Client, urls URLs, probeFileName string) ProbeFunc {
	return func(ctx context.Context, id int64) (time.Time, bool, error) {
		name, err := client.FetchFileName(ctx, urls.File(id, probeFileName))
		if err != nil {
			var fe *httpx.FetchError
			if errors.As(err, &fe) && fe.Kind == httpx.KindNotFound {
				return time.Time{}, false, nil
			}
			return time.Time{}, false, err
		}

		d, err := DateFromFileName(name)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("probe id %d: %w", id, err)
		}
		return d, true, nil
	}
}
