package crawler

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/i-yeun/vc-assistant/internal/fetcher"
	"github.com/i-yeun/vc-assistant/internal/parser"
	"github.com/i-yeun/vc-assistant/internal/urlutil"
	"github.com/i-yeun/vc-assistant/internal/visited"
)

var (
	errNotHTML      = errors.New("unsupported content type")
	errBodyTooLarge = errors.New("body truncated")
	errPageLimit    = errors.New("page limit reached")
	errCrawlTimeout = errors.New("crawl timeout exceeded")
	errCrawlCancel  = errors.New("crawl canceled")
)

type crawlJob struct {
	url   string
	depth int
	seq   uint64
}

type pageResult struct {
	job     crawlJob
	record  PageRecord
	text    string
	links   []string
	warning *Warning
}

// linkBatch holds the links of one committed page, to be claimed at depth.
type linkBatch struct {
	links []string
	depth int
}

type engine struct {
	options    Options
	baseDomain string
	fetch      *fetcher.Fetcher
	fetchSem   *semaphore.Weighted
	logger     *zap.Logger
}

// aggregator owns all mutable traversal state. Only the run loop touches it.
type aggregator struct {
	engine        *engine
	visited       *visited.Set
	acc           *accumulator
	result        *Result
	queue         []crawlJob
	pending       int
	scheduled     int
	nextSeq       uint64
	nextCommit    uint64
	settled       map[uint64]pageResult
	nextLevel     []linkBatch
	stopped       bool
	limitReported bool
}

func newEngine(options Options, baseDomain string, fetch *fetcher.Fetcher, logger *zap.Logger) *engine {
	return &engine{
		options:    options,
		baseDomain: baseDomain,
		fetch:      fetch,
		fetchSem:   semaphore.NewWeighted(int64(options.MaxConcurrentFetch)),
		logger:     logger,
	}
}

// run performs a level-by-level traversal: links found at depth d are claimed only
// after every page of depth d has been committed, so each URL gets its minimum depth.
func (e *engine) run(parent context.Context, seedURL string, result *Result) {
	ctx, cancel := context.WithTimeout(parent, e.options.Timeout)
	defer cancel()

	jobs := make(chan crawlJob)
	results := make(chan pageResult, e.options.Workers)

	var workersWG sync.WaitGroup
	for range e.options.Workers {
		workersWG.Go(func() {
			e.worker(ctx, jobs, results)
		})
	}

	agg := &aggregator{
		engine:  e,
		visited: visited.New(),
		acc:     &accumulator{},
		result:  result,
		settled: make(map[uint64]pageResult),
	}

	agg.admit(urlutil.Normalize(seedURL), seedURL, 0)
	agg.drain(ctx, parent, jobs, results)

	close(jobs)
	workersWG.Wait()

	e.logger.Debug("frontier drained",
		zap.Int("claimed", agg.visited.Len()),
		zap.Int("text_parts", agg.acc.Len()),
	)
	result.Text = agg.acc.String()
}

func (e *engine) worker(ctx context.Context, jobs <-chan crawlJob, results chan<- pageResult) {
	for job := range jobs {
		results <- e.processJob(ctx, job)
	}
}

func (a *aggregator) drain(
	ctx context.Context,
	parent context.Context,
	jobs chan<- crawlJob,
	results <-chan pageResult,
) {
	done := ctx.Done()

	for {
		for a.pending == 0 && len(a.queue) == 0 {
			if !a.advance() {
				return
			}
		}

		var (
			out  chan<- crawlJob
			next crawlJob
		)
		if len(a.queue) > 0 {
			out = jobs
			next = a.queue[0]
		}

		select {
		case out <- next:
			a.queue = a.queue[1:]
			a.pending++
		case res := <-results:
			a.pending--
			a.settle(res.job.seq, res)
		case <-done:
			done = nil
			a.stop(stopReason(parent, a.engine.options.Timeout))
		}
	}
}

func stopReason(parent context.Context, timeout time.Duration) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", errCrawlCancel, parent.Err())
	}

	return fmt.Errorf("%w: %s", errCrawlTimeout, timeout)
}

// advance claims the links collected from the previous level.
// It reports false when there is nothing left to schedule.
func (a *aggregator) advance() bool {
	if a.stopped || len(a.nextLevel) == 0 {
		return false
	}

	batches := a.nextLevel
	a.nextLevel = nil

	for _, batch := range batches {
		for _, link := range batch.links {
			a.claim(link, batch.depth)
		}
	}

	return true
}

func (a *aggregator) claim(link string, depth int) {
	key := urlutil.Normalize(link)
	if !urlutil.SameDomain(key, a.engine.baseDomain) {
		return
	}

	a.admit(key, key, depth)
}

// admit claims key in the visited-set and decides the URL's fate at claim time.
func (a *aggregator) admit(key string, fetchURL string, depth int) {
	if !a.visited.Claim(key) {
		return
	}

	seq := a.nextSeq
	a.nextSeq++

	record := PageRecord{URL: fetchURL, Depth: depth}
	logger := a.engine.logger.With(zap.String("url", fetchURL), zap.Int("depth", depth))

	switch {
	case depth > a.engine.options.DepthPolicy.MaxDepth(key):
		logger.Debug("pruned by depth policy")
		record.Status = StatusPruned
		a.settle(seq, pageResult{record: record})
	case a.stopped:
		record.Status = StatusSkipped
		a.settle(seq, pageResult{record: record})
	case a.scheduled >= a.engine.options.MaxPages:
		record.Status = StatusSkipped
		a.limitReached(fmt.Errorf("%w: %d", errPageLimit, a.engine.options.MaxPages))
		a.settle(seq, pageResult{record: record})
	default:
		logger.Debug("claimed")
		a.scheduled++
		a.queue = append(a.queue, crawlJob{url: fetchURL, depth: depth, seq: seq})
	}
}

func (a *aggregator) stop(reason error) {
	a.stopped = true
	a.limitReached(reason)

	for _, job := range a.queue {
		a.settle(job.seq, pageResult{
			job:    job,
			record: PageRecord{URL: job.url, Depth: job.depth, Status: StatusSkipped},
		})
	}
	a.queue = nil
	a.nextLevel = nil
}

func (a *aggregator) limitReached(reason error) {
	a.result.Truncated = true
	if a.limitReported {
		return
	}

	a.limitReported = true
	a.engine.logger.Warn("crawl truncated", zap.Error(reason))
	a.result.Warnings = append(a.result.Warnings, newWarning(a.result.RootURL, StageLimit, reason))
}

func (a *aggregator) settle(seq uint64, res pageResult) {
	a.settled[seq] = res
	a.flushCommitted()
}

// flushCommitted commits settled results in claim order.
func (a *aggregator) flushCommitted() {
	for {
		res, ok := a.settled[a.nextCommit]
		if !ok {
			return
		}

		delete(a.settled, a.nextCommit)
		a.nextCommit++
		a.commit(res)
	}
}

func (a *aggregator) commit(res pageResult) {
	a.result.Pages = append(a.result.Pages, res.record)

	if res.warning != nil {
		a.result.Warnings = append(a.result.Warnings, *res.warning)
	}

	if res.record.Status != StatusFetched {
		return
	}

	a.acc.Append(res.text)

	if len(res.links) > 0 {
		a.nextLevel = append(a.nextLevel, linkBatch{links: res.links, depth: res.record.Depth + 1})
	}
}

func (e *engine) processJob(ctx context.Context, job crawlJob) pageResult {
	record := PageRecord{URL: job.url, Depth: job.depth}

	if err := e.fetchSem.Acquire(ctx, 1); err != nil {
		record.Status = StatusSkipped

		return pageResult{job: job, record: record}
	}
	fetched, err := e.fetch.Fetch(ctx, job.url)
	e.fetchSem.Release(1)

	record.HTTPStatus = fetched.StatusCode

	if err != nil {
		if ctx.Err() != nil {
			record.Status = StatusSkipped

			return pageResult{job: job, record: record}
		}

		e.logger.Warn("fetch failed",
			zap.String("url", job.url),
			zap.Int("depth", job.depth),
			zap.Int("status", fetched.StatusCode),
			zap.Error(err),
		)

		return failedResult(job, record, StageFetch, err)
	}

	record.Bytes = len(fetched.Body)

	if !isHTML(fetched.ContentType) {
		record.Status = StatusSkipped
		warning := newWarning(job.url, StageContent, fmt.Errorf("%w: %s", errNotHTML, fetched.ContentType))

		return pageResult{job: job, record: record, warning: &warning}
	}

	base := fetched.FinalURL
	if base == "" {
		base = job.url
	}

	parsed, err := parser.Parse(fetched.Body, base)
	if err != nil {
		e.logger.Warn("parse failed", zap.String("url", job.url), zap.Error(err))

		return failedResult(job, record, StageParse, err)
	}

	record.Status = StatusFetched

	var warning *Warning
	if fetched.Truncated {
		w := newWarning(job.url, StageContent, fmt.Errorf("%w at %d bytes", errBodyTooLarge, len(fetched.Body)))
		warning = &w
		e.logger.Warn("body truncated", zap.String("url", job.url), zap.Int("bytes", len(fetched.Body)))
	}

	e.logger.Debug("page fetched",
		zap.String("url", job.url),
		zap.Int("depth", job.depth),
		zap.Int("links", len(parsed.Links)),
		zap.Int("text_bytes", len(parsed.Text)),
	)

	return pageResult{
		job:     job,
		record:  record,
		text:    parsed.Text,
		links:   parsed.Links,
		warning: warning,
	}
}

func failedResult(job crawlJob, record PageRecord, stage string, err error) pageResult {
	record.Status = StatusFailed
	warning := newWarning(job.url, stage, err)

	return pageResult{job: job, record: record, warning: &warning}
}

func isHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	default:
		return false
	}
}
