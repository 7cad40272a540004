package crawler

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/i-yeun/vc-assistant/internal/limiter"
)

var (
	// ErrMissingURL is returned when Options.URL is empty.
	ErrMissingURL = errors.New("url is required")
	// ErrInvalidURL is returned when Options.URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrHTTPClientRequired is returned when Options.HTTPClient is nil.
	ErrHTTPClientRequired = errors.New("http client is required")
)

// Page statuses recorded in PageRecord.Status.
const (
	StatusFetched = "fetched"
	StatusPruned  = "pruned"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Warning stages.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StageContent = "content"
	StageLimit   = "limit"
)

// Options configures one crawl run.
// Zero values select defaults; RPS overrides Delay.
// Retries is the number of retries after the first attempt (0 means a single attempt).
// Timeout bounds the whole crawl, RequestTimeout a single fetch.
type Options struct {
	URL                string
	Workers            int
	MaxConcurrentFetch int
	MaxPages           int
	Timeout            time.Duration
	RequestTimeout     time.Duration
	Retries            int
	Delay              time.Duration
	RPS                float64
	UserAgent          string
	MaxRedirects       int
	MaxBodyBytes       int64
	DepthPolicy        DepthPolicy
	HTTPClient         *http.Client
	Clock              limiter.Timer
	Logger             *zap.Logger
}

// Result is the outcome of one crawl run.
// Text is the accumulated visible text; Pages lists every claimed URL in claim order.
type Result struct {
	RunID     string       `json:"run_id"`
	RootURL   string       `json:"root_url"`
	Text      string       `json:"text"`
	Pages     []PageRecord `json:"pages"`
	Warnings  []Warning    `json:"warnings"`
	Truncated bool         `json:"truncated"`
}

// FetchedURLs returns the URLs that were fetched successfully, in commit order.
func (r Result) FetchedURLs() []string {
	urls := []string{}
	for _, page := range r.Pages {
		if page.Status == StatusFetched {
			urls = append(urls, page.URL)
		}
	}

	return urls
}

// PageRecord describes how a claimed URL ended.
type PageRecord struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"http_status"`
	Bytes      int    `json:"bytes"`
}

// Warning records a non-fatal problem. Err keeps the cause for errors.Is checks.
type Warning struct {
	URL     string `json:"url"`
	Stage   string `json:"stage"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func newWarning(rawURL string, stage string, err error) Warning {
	return Warning{
		URL:     rawURL,
		Stage:   stage,
		Message: err.Error(),
		Err:     err,
	}
}
