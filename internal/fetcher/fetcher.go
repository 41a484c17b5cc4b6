// Package fetcher opens reference data from local files or HTTP and parses
// the SIC code lookup table out of it.
package fetcher

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// IsURL reports whether src should be downloaded rather than opened as a file.
func IsURL(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Open returns a reader for src. URLs go through f; anything else is a path.
func Open(ctx context.Context, f Fetcher, src string) (io.ReadCloser, error) {
	if src == "" {
		return nil, eris.New("fetcher: source is required")
	}
	if IsURL(src) {
		if f == nil {
			return nil, eris.Errorf("fetcher: no downloader for %s", src)
		}
		return f.Download(ctx, src)
	}
	file, err := os.Open(src)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", src)
	}
	return file, nil
}
