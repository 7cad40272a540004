package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/i-yeun/vc-assistant/crawler"
	"github.com/i-yeun/vc-assistant/internal/extract"
)

var (
	// ErrEmptyCrawl is returned when the crawl produced no text to extract from.
	ErrEmptyCrawl = errors.New("crawl produced no text")

	// ErrExtraction marks a failure of the extraction stage after a successful crawl.
	ErrExtraction = errors.New("extraction stage failed")
)

// Crawler runs one crawl.
type Crawler func(ctx context.Context, opts crawler.Options) (crawler.Result, error)

// Extractor turns aggregated text into an answer.
type Extractor interface {
	Extract(ctx context.Context, text string) (extract.Result, error)
}

// Report is the outcome of one pipeline run.
type Report struct {
	URL        string
	Extraction extract.Result
	Crawl      crawler.Result
}

// Summary is the wire form of a Report shared by the HTTP API and the CLI.
type Summary struct {
	Result    any               `json:"result"`
	Format    string            `json:"format"`
	RunID     string            `json:"run_id,omitempty"`
	Pages     int               `json:"pages"`
	Truncated bool              `json:"truncated"`
	Warnings  []crawler.Warning `json:"warnings"`
}

// Summary returns the answer together with the crawl statistics.
func (r Report) Summary() Summary {
	warnings := r.Crawl.Warnings
	if warnings == nil {
		warnings = []crawler.Warning{}
	}

	return Summary{
		Result:    r.Extraction.Value(),
		Format:    string(r.Extraction.Format),
		RunID:     r.Crawl.RunID,
		Pages:     len(r.Crawl.FetchedURLs()),
		Truncated: r.Crawl.Truncated,
		Warnings:  warnings,
	}
}

// Pipeline crawls a site and hands the aggregated text to the extractor.
type Pipeline struct {
	crawl     Crawler
	extractor Extractor
	base      crawler.Options
	logger    *zap.Logger
}

// New creates a Pipeline. base provides every crawl option except the URL.
// A nil crawl function selects crawler.Crawl.
func New(crawl Crawler, extractor Extractor, base crawler.Options, logger *zap.Logger) *Pipeline {
	if crawl == nil {
		crawl = crawler.Crawl
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		crawl:     crawl,
		extractor: extractor,
		base:      base,
		logger:    logger,
	}
}

// Crawl runs only the crawl stage for rawURL.
func (p *Pipeline) Crawl(ctx context.Context, rawURL string) (crawler.Result, error) {
	opts := p.base
	opts.URL = rawURL
	if opts.Logger == nil {
		opts.Logger = p.logger
	}

	return p.crawl(ctx, opts)
}

// Run crawls rawURL and extracts from the accumulated text.
// Input errors come back unwrapped from the crawler; an empty crawl yields ErrEmptyCrawl
// and extraction failures are wrapped with ErrExtraction.
func (p *Pipeline) Run(ctx context.Context, rawURL string) (Report, error) {
	report := Report{URL: rawURL}

	crawled, err := p.Crawl(ctx, rawURL)
	report.Crawl = crawled
	if err != nil {
		return report, err
	}

	logger := p.logger.With(zap.String("run_id", crawled.RunID), zap.String("url", rawURL))

	if strings.TrimSpace(crawled.Text) == "" {
		logger.Warn("nothing to extract", zap.Int("warnings", len(crawled.Warnings)))

		return report, fmt.Errorf("%w: %s", ErrEmptyCrawl, describeWarnings(crawled.Warnings))
	}

	result, err := p.extractor.Extract(ctx, crawled.Text)
	if err != nil {
		logger.Error("extraction failed", zap.Error(err))

		return report, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	logger.Info("extraction finished",
		zap.String("format", string(result.Format)),
		zap.Int("pages", len(crawled.FetchedURLs())),
	)
	report.Extraction = result

	return report, nil
}

func describeWarnings(warnings []crawler.Warning) string {
	if len(warnings) == 0 {
		return "no visible text found"
	}

	return warnings[0].Message
}
