// Package feed fetches podcast RSS/Atom feeds and resolves their entries
// into pipeline candidates.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const userAgent = "podscribe/1.0"

// acceptedStatus is the set of HTTP status codes a feed may return and still
// be processed. Anything else is treated as temporarily unavailable and the
// feed is retried next cycle.
var acceptedStatus = map[int]bool{
	http.StatusOK:                true,
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusNotModified:       true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Fetcher retrieves and parses feeds over HTTP.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewFetcher creates a Fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		parser: gofeed.NewParser(),
	}
}

// Fetch downloads and parses the feed at url. All failures (network, bad
// status, malformed XML) are transient: the caller logs and retries the feed
// on the next cycle.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if !acceptedStatus[resp.StatusCode] {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return parsed, nil
}
