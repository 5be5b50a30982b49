package ephem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=gps-ops&FORMAT=tle"
	maxBodyBytes     = 50 << 20
)

// Fetcher downloads element sets from a primary URL and optional extras.
// A failing extra source is logged and skipped.
type Fetcher struct {
	primary    string
	extra      []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. An empty primary selects the public GPS
// operational constellation feed.
func NewFetcher(primary string, logger *slog.Logger, extra ...string) *Fetcher {
	if primary == "" {
		primary = defaultSourceURL
	}
	return &Fetcher{
		primary:    primary,
		extra:      extra,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Source returns the primary URL.
func (f *Fetcher) Source() string { return f.primary }

// Fetch returns the concatenated bodies of all sources.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx, f.primary)
	if err != nil {
		return nil, err
	}
	for _, u := range f.extra {
		more, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra element source failed", "url", u, "error", err)
			continue
		}
		if len(body) > 0 && body[len(body)-1] != '\n' {
			body = append(body, '\n')
		}
		body = append(body, more...)
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching element sets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}
	return body, nil
}
