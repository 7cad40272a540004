package crawler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const seedURL = "https://a.test/"

var fixtureTime = time.Date(2024, time.June, 1, 12, 34, 56, 0, time.UTC)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return fn(req) }

// roundTripResponder handles one route of a fixture site.
type roundTripResponder func(*http.Request) (*http.Response, error)

func htmlPage(body string) roundTripResponder {
	return func(req *http.Request) (*http.Response, error) {
		return responseForRequest(req, http.StatusOK, body, http.Header{
			"Content-Type": []string{"text/html; charset=utf-8"},
		}), nil
	}
}

// fixtureSite serves routes keyed by "host/path" and counts every request.
// Unknown routes answer 404.
type fixtureSite struct {
	mu       sync.Mutex
	routes   map[string]roundTripResponder
	requests map[string]int
}

func newFixtureSite(routes map[string]roundTripResponder) *fixtureSite {
	return &fixtureSite{
		routes:   routes,
		requests: map[string]int{},
	}
}

func (s *fixtureSite) client() *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			key := req.URL.Host + req.URL.EscapedPath()

			s.mu.Lock()
			s.requests[req.URL.String()]++
			handler, ok := s.routes[key]
			s.mu.Unlock()

			if !ok {
				return responseForRequest(req, http.StatusNotFound, "not found", nil), nil
			}

			return handler(req)
		}),
	}
}

func (s *fixtureSite) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(s.requests))
	for u := range s.requests {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	return urls
}

func (s *fixtureSite) count(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[rawURL]
}

func (s *fixtureSite) maxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	highest := 0
	for _, n := range s.requests {
		highest = max(highest, n)
	}

	return highest
}

func responseWithBody(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func responseForRequest(req *http.Request, status int, body string, header http.Header) *http.Response {
	resp := responseWithBody(status, []byte(body), header)
	resp.Request = req

	return resp
}

func testOptions(client *http.Client) Options {
	return Options{
		URL:            seedURL,
		Workers:        4,
		RequestTimeout: time.Second,
		Timeout:        5 * time.Second,
		UserAgent:      "test-agent",
		HTTPClient:     client,
		Clock:          &testClock{now: fixtureTime},
		Logger:         zap.NewNop(),
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Sleep(ctx context.Context, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// recordingClock never advances; it records every requested sleep.
type recordingClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *recordingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()

	return ctx.Err()
}

func (c *recordingClock) sleepDurations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := append([]time.Duration(nil), c.sleeps...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// blockingClock blocks every sleep until ctx is done.
type blockingClock struct {
	now          time.Time
	once         sync.Once
	sleepStarted chan struct{}
}

func newBlockingClock(now time.Time) *blockingClock {
	return &blockingClock{now: now, sleepStarted: make(chan struct{})}
}

func (c *blockingClock) Now() time.Time { return c.now }

func (c *blockingClock) Sleep(ctx context.Context, _ time.Duration) error {
	c.once.Do(func() { close(c.sleepStarted) })
	<-ctx.Done()

	return ctx.Err()
}

var errConnectionRefused = errors.New("connection refused")
