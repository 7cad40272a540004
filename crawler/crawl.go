package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i-yeun/vc-assistant/internal/fetcher"
	"github.com/i-yeun/vc-assistant/internal/limiter"
	"github.com/i-yeun/vc-assistant/internal/urlutil"
)

const (
	defaultUserAgent      = "vc-assistant/1.0"
	defaultWorkers        = 4
	defaultMaxPages       = 200
	defaultTimeout        = 2 * time.Minute
	defaultRequestTimeout = 15 * time.Second
)

// Crawl walks same-domain pages reachable from Options.URL within the depth policy
// and returns their accumulated visible text.
// Fetch and parse failures are reported as warnings; the returned error is reserved
// for invalid input.
func Crawl(ctx context.Context, opts Options) (Result, error) {
	seedURL := strings.TrimSpace(opts.URL)
	result := Result{
		RootURL:  seedURL,
		Pages:    []PageRecord{},
		Warnings: []Warning{},
	}

	if seedURL == "" {
		return result, ErrMissingURL
	}

	if err := validateSeedURL(seedURL); err != nil {
		return result, err
	}

	if opts.HTTPClient == nil {
		return result, ErrHTTPClientRequired
	}

	opts = withDefaults(opts)
	result.RunID = uuid.NewString()

	logger := opts.Logger.With(
		zap.String("run_id", result.RunID),
		zap.String("root_url", seedURL),
	)

	fetch := fetcher.New(opts.HTTPClient, fetcher.Options{
		Timeout:      opts.RequestTimeout,
		UserAgent:    opts.UserAgent,
		Retries:      opts.Retries,
		RetryDelay:   opts.Delay,
		MaxRedirects: opts.MaxRedirects,
		MaxBodyBytes: opts.MaxBodyBytes,
		Limiter:      limiter.New(limiter.Interval(opts.Delay, opts.RPS), opts.Clock),
		Clock:        opts.Clock,
	})

	started := opts.Clock.Now()
	logger.Info("crawl started",
		zap.Int("workers", opts.Workers),
		zap.Int("max_pages", opts.MaxPages),
		zap.Duration("timeout", opts.Timeout),
	)

	eng := newEngine(opts, urlutil.Host(seedURL), fetch, logger)
	eng.run(ctx, seedURL, &result)

	logger.Info("crawl finished",
		zap.Int("pages", len(result.Pages)),
		zap.Int("fetched", len(result.FetchedURLs())),
		zap.Int("warnings", len(result.Warnings)),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", opts.Clock.Now().Sub(started)),
	)

	return result, nil
}

func validateSeedURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return nil
}

func withDefaults(opts Options) Options {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}

	if opts.MaxConcurrentFetch < 1 {
		opts.MaxConcurrentFetch = opts.Workers
	}

	if opts.MaxPages < 1 {
		opts.MaxPages = defaultMaxPages
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.DepthPolicy == nil {
		opts.DepthPolicy = DefaultDepthPolicy()
	}

	if opts.Clock == nil {
		opts.Clock = limiter.NewClock()
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return opts
}
