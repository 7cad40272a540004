package fetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/i-yeun/vc-assistant/internal/limiter"
)

const (
	baseRetryDelay      = 100 * time.Millisecond
	maxRetryDelay       = 2 * time.Second
	defaultMaxRedirects = 10
	defaultMaxBodyBytes = 5 << 20
	errorBodySnippet    = 512
)

var (
	// ErrFetch matches every failure returned by Fetch.
	ErrFetch = errors.New("fetch failed")

	// ErrTooManyRedirects is returned when a redirect chain exceeds the configured cap.
	ErrTooManyRedirects = errors.New("too many redirects")

	errInvalidRequest = errors.New("invalid request")
)

// Error describes a failed fetch: a transport failure, a timeout or a non-2xx response.
// StatusCode is 0 when no response was received.
type Error struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 && !isSuccess(e.StatusCode) {
		return fmt.Sprintf("fetch %s: %s", e.URL, statusText(e.StatusCode))
	}

	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrFetch
}

// Result contains the HTTP response data.
type Result struct {
	StatusCode  int
	ContentType string
	FinalURL    string
	Header      http.Header
	Body        []byte
	// Truncated reports that the body was cut at MaxBodyBytes.
	Truncated bool
}

// Options tunes a Fetcher. Zero values select the defaults.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	Retries      int
	RetryDelay   time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	Limiter      *limiter.Limiter
	Clock        limiter.Timer
}

// Fetcher performs single GET requests with optional retries and rate limiting.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	userAgent    string
	limiter      *limiter.Limiter
	retries      int
	retryDelay   time.Duration
	maxBodyBytes int64
	clock        limiter.Timer
}

// New creates a Fetcher around a copy of client with the redirect cap installed.
func New(client *http.Client, opts Options) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}

	capped := *client
	if capped.CheckRedirect == nil {
		capped.CheckRedirect = capRedirects(opts.MaxRedirects)
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = baseRetryDelay
	}

	maxBodyBytes := opts.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	clock := opts.Clock
	if clock == nil {
		clock = limiter.NewClock()
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	return &Fetcher{
		client:       &capped,
		timeout:      opts.Timeout,
		userAgent:    opts.UserAgent,
		limiter:      opts.Limiter,
		retries:      retries,
		retryDelay:   retryDelay,
		maxBodyBytes: maxBodyBytes,
		clock:        clock,
	}
}

func capRedirects(limit int) func(*http.Request, []*http.Request) error {
	if limit <= 0 {
		limit = defaultMaxRedirects
	}

	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, limit)
		}

		return nil
	}
}

// Fetch performs a GET request, retrying temporary failures (network errors, 429, 5xx)
// up to the configured retry count. It returns the result of the last attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	attempts := f.retries + 1
	var lastResult Result
	var lastErr error

	for attempt := range attempts {
		result, err := f.fetchOnce(ctx, rawURL)
		lastResult = result
		lastErr = err

		if err == nil && isSuccess(result.StatusCode) {
			if ctx.Err() != nil {
				return Result{}, wrapError(rawURL, 0, nil, ctx.Err())
			}

			return result, nil
		}

		retry, retryErr := f.shouldRetry(ctx, attempt, attempts, result, err)
		if !retry {
			return result, wrapError(rawURL, result.StatusCode, result.Body, retryErr)
		}
	}

	return lastResult, wrapError(rawURL, lastResult.StatusCode, lastResult.Body, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	return f.doRequest(ctx, rawURL)
}

func (f *Fetcher) shouldRetry(
	ctx context.Context,
	attempt int,
	attempts int,
	result Result,
	err error,
) (bool, error) {
	if ctx.Err() != nil {
		return false, coalesceError(err, ctx.Err())
	}

	if !isRetryable(result.StatusCode, err) || attempt == attempts-1 {
		return false, errorForStatus(err, result.StatusCode)
	}

	if err := f.clock.Sleep(ctx, f.retryDelayFor(attempt+1)); err != nil {
		return false, err
	}

	return true, nil
}

func (f *Fetcher) doRequest(ctx context.Context, rawURL string) (Result, error) {
	requestCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}

	if f.userAgent != "" {
		request.Header.Set("User-Agent", f.userAgent)
	}
	request.Header.Set("Accept-Encoding", "gzip, deflate, br")

	response, err := f.client.Do(request)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	result := Result{
		StatusCode:  response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		FinalURL:    parsedURL.String(),
		Header:      response.Header,
	}
	if response.Request != nil && response.Request.URL != nil {
		result.FinalURL = response.Request.URL.String()
	}

	body, truncated, err := f.readBody(response)
	if err != nil {
		return result, fmt.Errorf("read body: %w", err)
	}
	result.Body = toUTF8(body, result.ContentType)
	result.Truncated = truncated

	return result, nil
}

// readBody decodes the content encoding and reads at most maxBodyBytes.
// Longer bodies are truncated rather than rejected.
func (f *Fetcher) readBody(response *http.Response) ([]byte, bool, error) {
	reader := io.Reader(response.Body)

	switch strings.ToLower(strings.TrimSpace(response.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(response.Body)
		if err != nil {
			return nil, false, fmt.Errorf("gzip decode: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		reader = gz
	case "deflate":
		fl, err := newDeflateReader(response.Body)
		if err != nil {
			return nil, false, fmt.Errorf("deflate decode: %w", err)
		}
		defer func() {
			_ = fl.Close()
		}()
		reader = fl
	case "br":
		reader = brotli.NewReader(response.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, false, err
	}

	if int64(len(body)) > f.maxBodyBytes {
		return body[:f.maxBodyBytes], true, nil
	}

	return body, false, nil
}

// newDeflateReader reads HTTP "deflate", which is zlib-wrapped. Some servers
// send raw DEFLATE instead, so a stream without a zlib header falls back to flate.
func newDeflateReader(body io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(body)

	header, err := buffered.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if isZlibHeader(header) {
		return zlib.NewReader(buffered)
	}

	return flate.NewReader(buffered), nil
}

// isZlibHeader checks the CMF/FLG pair: method 8 and a header checksum divisible by 31.
func isZlibHeader(header []byte) bool {
	if len(header) < 2 {
		return false
	}

	return header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0
}

func isSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

func isRetryable(statusCode int, err error) bool {
	if err != nil {
		return isRetryableError(err)
	}

	if statusCode == http.StatusTooManyRequests {
		return true
	}

	return statusCode >= http.StatusInternalServerError
}

func isRetryableError(err error) bool {
	if isContextCanceled(err) || errors.Is(err, errInvalidRequest) || errors.Is(err, ErrTooManyRedirects) {
		return false
	}

	if isEOFLike(err) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRetryableURLError(urlErr)
	}

	return isNetError(err)
}

// isRetryableURLError unwraps nested *url.Error values down to the transport cause.
func isRetryableURLError(urlErr *url.Error) bool {
	err := urlErr.Err
	for err != nil {
		if isContextCanceled(err) || errors.Is(err, errInvalidRequest) {
			return false
		}

		if isEOFLike(err) {
			return true
		}

		var inner *url.Error
		if errors.As(err, &inner) {
			err = inner.Err

			continue
		}

		return isNetError(err)
	}

	return false
}

func isContextCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isNetError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr)
}

func isEOFLike(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func errorForStatus(err error, statusCode int) error {
	if err != nil {
		return err
	}

	if !isSuccess(statusCode) {
		return errors.New(statusText(statusCode))
	}

	return nil
}

func wrapError(rawURL string, statusCode int, body []byte, err error) error {
	if err == nil && isSuccess(statusCode) {
		return nil
	}

	if err == nil {
		err = errors.New(statusText(statusCode))
	}

	return &Error{
		URL:        rawURL,
		StatusCode: statusCode,
		Body:       snippet(body),
		Err:        err,
	}
}

func snippet(body []byte) string {
	if len(body) > errorBodySnippet {
		body = body[:errorBodySnippet]
	}

	return strings.TrimSpace(string(body))
}

func statusText(statusCode int) string {
	text := http.StatusText(statusCode)
	if text == "" {
		return fmt.Sprintf("http status %d", statusCode)
	}

	return fmt.Sprintf("http status %d %s", statusCode, text)
}

func coalesceError(primary, fallback error) error {
	if primary != nil {
		return primary
	}

	return fallback
}

func (f *Fetcher) retryDelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := f.retryDelay
	for i := 1; i < attempt; i++ {
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}

		delay *= 2
	}

	return min(delay, maxRetryDelay)
}
