package ephem

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/metrics"
)

var ErrNoElements = errors.New("no element sets available")

// Config configures a Provider.
type Config struct {
	SourceURL string
	ExtraURLs []string
	CacheDir  string // empty disables the disk cache
	Interval  time.Duration
	Observer  Observer
	Hints     HintOptions
}

// Provider keeps the assistance store populated with Doppler predictions.
type Provider struct {
	cfg     Config
	fetcher *Fetcher
	cache   *Cache
	store   *assist.Store
	logger  *slog.Logger
	now     func() time.Time

	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes refreshes
}

// NewProvider creates a provider writing into store.
func NewProvider(cfg Config, store *assist.Store, logger *slog.Logger) *Provider {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Hints.UncertaintyHz <= 0 {
		cfg.Hints.UncertaintyHz = 500
	}
	p := &Provider{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.SourceURL, logger, cfg.ExtraURLs...),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.CacheDir != "" {
		p.cache = NewCache(cfg.CacheDir, 5)
	}
	return p
}

// Dataset returns the element sets in use, or nil before the first refresh.
func (p *Provider) Dataset() *Dataset { return p.dataset.Load() }

// Ready reports whether element sets have been loaded.
func (p *Provider) Ready() bool { return p.dataset.Load() != nil }

// Refresh downloads element sets (falling back to the disk cache), predicts
// Doppler for every visible satellite and stores the hints.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds, err := p.load(ctx)
	if err != nil {
		metrics.IncAssistRefresh("error")
		return err
	}
	p.dataset.Store(ds)

	now := p.now()
	hints := ComputeHints(ctx, ds.Elements, p.cfg.Observer, now, p.cfg.Hints, p.logger)
	for id, h := range hints {
		p.store.InsertOrAssign(id, h)
	}
	metrics.SetAssistEntries(p.store.Len())
	metrics.IncAssistRefresh("ok")

	p.logger.Info("assistance refreshed",
		"source", ds.Source,
		"elements", len(ds.Elements),
		"visible", len(hints),
		"fetched_at", ds.FetchedAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func (p *Provider) load(ctx context.Context) (*Dataset, error) {
	now := p.now()
	body, err := p.fetcher.Fetch(ctx)
	if err == nil {
		if p.cache != nil {
			if werr := p.cache.Write(body, now); werr != nil {
				p.logger.Warn("element cache write failed", "error", werr)
			}
		}
		return p.parse(body, p.fetcher.Source(), now)
	}
	if p.cache == nil {
		return nil, err
	}

	p.logger.Warn("element fetch failed, using cache", "error", err)
	cached, ts, cerr := p.cache.LoadLatest()
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	return p.parse(cached, "cache", ts)
}

func (p *Provider) parse(body []byte, source string, ts time.Time) (*Dataset, error) {
	els, err := Parse(bytes.NewReader(body), p.logger)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNoElements
	}
	return &Dataset{Source: source, FetchedAt: ts, Elements: els}, nil
}

// Start refreshes immediately and then every interval until ctx ends.
// Failures are logged; the previous hints stay in place.
func (p *Provider) Start(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("initial assistance refresh failed", "error", err)
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("assistance refresh failed", "error", err)
			}
		}
	}
}
