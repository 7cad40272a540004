package crawler

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/i-yeun/vc-assistant/internal/fetcher"
)

func TestCrawlInputErrors(t *testing.T) {
	t.Parallel()

	client := newFixtureSite(nil).client()

	tests := []struct {
		name    string
		url     string
		client  *http.Client
		wantErr error
	}{
		{name: "empty url", url: "", client: client, wantErr: ErrMissingURL},
		{name: "blank url", url: "   ", client: client, wantErr: ErrMissingURL},
		{name: "missing scheme", url: "a.test/about", client: client, wantErr: ErrInvalidURL},
		{name: "unsupported scheme", url: "ftp://a.test/", client: client, wantErr: ErrInvalidURL},
		{name: "missing host", url: "https:///about", client: client, wantErr: ErrInvalidURL},
		{name: "unparsable url", url: "http://[::1", client: client, wantErr: ErrInvalidURL},
		{name: "nil http client", url: seedURL, client: nil, wantErr: ErrHTTPClientRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := testOptions(tt.client)
			opts.URL = tt.url

			result, err := Crawl(context.Background(), opts)
			require.ErrorIs(t, err, tt.wantErr)
			require.Empty(t, result.Text)
			require.Empty(t, result.Pages)
		})
	}
}

func TestCrawlSameDomainScenario(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/":   htmlPage(`<html><body><p>Home</p><a href="/p1">one</a><a href="https://b.test/x">b</a></body></html>`),
		"a.test/p1": htmlPage(`<html><body><p>Page one</p></body></html>`),
		"b.test/x":  htmlPage(`<html><body><p>Elsewhere</p></body></html>`),
	})

	result, err := Crawl(context.Background(), testOptions(site.client()))
	require.NoError(t, err)

	require.Equal(t, []string{"https://a.test/", "https://a.test/p1"}, site.requested())
	require.Equal(t, []string{"https://a.test/", "https://a.test/p1"}, result.FetchedURLs())
	require.Equal(t, "Home\none\nb\nPage one", result.Text)
	require.NotEmpty(t, result.RunID)
	require.Empty(t, result.Warnings)
	require.False(t, result.Truncated)

	require.Equal(t, []PageRecord{
		{URL: "https://a.test/", Depth: 0, Status: StatusFetched, HTTPStatus: http.StatusOK, Bytes: 90},
		{URL: "https://a.test/p1", Depth: 1, Status: StatusFetched, HTTPStatus: http.StatusOK, Bytes: 41},
	}, result.Pages)
}

func cyclicSite() *fixtureSite {
	return newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`<p>root</p>
			<a href="/a"></a><a href="/a?x=1"></a><a href="/a#frag"></a>
			<a href="/b"></a><a href="/b?page=2"></a>`),
		"a.test/a": htmlPage(`<p>alpha</p><a href="/"></a><a href="/b"></a><a href="/a?y=2"></a><a href="/c"></a>`),
		"a.test/b": htmlPage(`<p>beta</p><a href="/a"></a><a href="/#top"></a><a href="/c#x"></a>`),
		"a.test/c": htmlPage(`<p>gamma</p><a href="/a"></a><a href="/b"></a><a href="/"></a>`),
	})
}

func TestCrawlFetchesEachURLAtMostOnce(t *testing.T) {
	t.Parallel()

	site := cyclicSite()

	opts := testOptions(site.client())
	opts.DepthPolicy = DepthTable{Default: 5}

	result, err := Crawl(context.Background(), opts)
	require.NoError(t, err)

	require.Equal(t, []string{"https://a.test/", "https://a.test/a", "https://a.test/b", "https://a.test/c"}, site.requested())
	require.Equal(t, 1, site.maxCount(), "every url must be requested once")
	require.Len(t, result.Pages, 4, "query and fragment variants share one record")
	require.Equal(t, "root\nalpha\nbeta\ngamma", result.Text)
}

func TestCrawlIsIdempotent(t *testing.T) {
	t.Parallel()

	opts := testOptions(nil)
	opts.DepthPolicy = DepthTable{Default: 5}

	opts.HTTPClient = cyclicSite().client()
	first, err := Crawl(context.Background(), opts)
	require.NoError(t, err)

	opts.HTTPClient = cyclicSite().client()
	second, err := Crawl(context.Background(), opts)
	require.NoError(t, err)

	require.Equal(t, first.FetchedURLs(), second.FetchedURLs())
	require.Equal(t, first.Text, second.Text)
	require.Equal(t, first.Pages, second.Pages)
	require.NotEqual(t, first.RunID, second.RunID)
}

func chainSite(host string) *fixtureSite {
	return newFixtureSite(map[string]roundTripResponder{
		host + "/":   htmlPage(`<p>level0</p><a href="/p1">next</a>`),
		host + "/p1": htmlPage(`<p>level1</p><a href="/p2">next</a>`),
		host + "/p2": htmlPage(`<p>level2</p><a href="/p3">next</a>`),
		host + "/p3": htmlPage(`<p>level3</p><a href="/p4">next</a>`),
		host + "/p4": htmlPage(`<p>level4</p>`),
	})
}

func TestCrawlDepthPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		host        string
		policy      DepthPolicy
		wantFetched []string
		wantPruned  PageRecord
	}{
		{
			name:        "default budget fetches seed and direct links",
			host:        "a.test",
			policy:      nil,
			wantFetched: []string{"https://a.test/", "https://a.test/p1"},
			wantPruned:  PageRecord{URL: "https://a.test/p2", Depth: 2, Status: StatusPruned},
		},
		{
			name:        "privileged domain from the shipped table goes two levels deeper",
			host:        "www.quivr.com",
			policy:      nil,
			wantFetched: []string{"https://www.quivr.com/", "https://www.quivr.com/p1", "https://www.quivr.com/p2", "https://www.quivr.com/p3"},
			wantPruned:  PageRecord{URL: "https://www.quivr.com/p4", Depth: 4, Status: StatusPruned},
		},
		{
			name:        "custom table entry",
			host:        "a.test",
			policy:      DefaultDepthPolicy().WithDomains(map[string]int{"a.test": 2}),
			wantFetched: []string{"https://a.test/", "https://a.test/p1", "https://a.test/p2"},
			wantPruned:  PageRecord{URL: "https://a.test/p3", Depth: 3, Status: StatusPruned},
		},
		{
			name:        "zero budget fetches only the seed",
			host:        "a.test",
			policy:      DepthTable{Default: 0},
			wantFetched: []string{"https://a.test/"},
			wantPruned:  PageRecord{URL: "https://a.test/p1", Depth: 1, Status: StatusPruned},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			site := chainSite(tt.host)
			opts := testOptions(site.client())
			opts.URL = "https://" + tt.host + "/"
			opts.DepthPolicy = tt.policy

			result, err := Crawl(context.Background(), opts)
			require.NoError(t, err)

			require.Equal(t, tt.wantFetched, result.FetchedURLs())
			require.Equal(t, tt.wantFetched, site.requested(), "pruned urls are never fetched")

			last := result.Pages[len(result.Pages)-1]
			require.Equal(t, tt.wantPruned, last)
		})
	}
}

func TestCrawlAssignsMinimumDepth(t *testing.T) {
	t.Parallel()

	var slowStarted atomic.Bool
	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`<a href="/x"></a><a href="/y"></a>`),
		"a.test/x": func(req *http.Request) (*http.Response, error) {
			return htmlPage(`<p>x</p><a href="/y"></a><a href="/z"></a>`)(req)
		},
		"a.test/y": func(req *http.Request) (*http.Response, error) {
			slowStarted.Store(true)
			time.Sleep(20 * time.Millisecond)

			return htmlPage(`<p>y</p>`)(req)
		},
		"a.test/z": htmlPage(`<p>z</p>`),
	})

	result, err := Crawl(context.Background(), testOptions(site.client()))
	require.NoError(t, err)
	require.True(t, slowStarted.Load())

	require.Equal(t, []PageRecord{
		{URL: "https://a.test/", Depth: 0, Status: StatusFetched, HTTPStatus: http.StatusOK, Bytes: 34},
		{URL: "https://a.test/x", Depth: 1, Status: StatusFetched, HTTPStatus: http.StatusOK, Bytes: 42},
		{URL: "https://a.test/y", Depth: 1, Status: StatusFetched, HTTPStatus: http.StatusOK, Bytes: 8},
		{URL: "https://a.test/z", Depth: 2, Status: StatusPruned},
	}, result.Pages)
	require.Equal(t, 0, site.count("https://a.test/z"))
}

func TestCrawlNeverLeavesTheSeedHost(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`
			<a href="https://b.test/x"></a>
			<a href="https://www.a.test/"></a>
			<a href="https://sub.a.test/p"></a>
			<a href="https://a.test:8443/p"></a>
			<a href="http://a.test/plain"></a>`),
		"a.test/plain":  htmlPage(`<p>plain http, same network location</p>`),
		"b.test/x":      htmlPage(`<p>b</p>`),
		"www.a.test/":   htmlPage(`<p>www</p>`),
		"sub.a.test/p":  htmlPage(`<p>sub</p>`),
		"a.test:8443/p": htmlPage(`<p>port</p>`),
	})

	result, err := Crawl(context.Background(), testOptions(site.client()))
	require.NoError(t, err)

	require.Equal(t, []string{"http://a.test/plain", "https://a.test/"}, site.requested())
	require.Equal(t, "plain http, same network location", result.Text)
}

func TestCrawlSeedConnectionError(t *testing.T) {
	t.Parallel()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errConnectionRefused
		}),
	}

	result, err := Crawl(context.Background(), testOptions(client))
	require.NoError(t, err)

	require.Empty(t, result.Text)
	require.False(t, result.Truncated)
	require.Equal(t, []PageRecord{{URL: seedURL, Depth: 0, Status: StatusFailed}}, result.Pages)

	require.Len(t, result.Warnings, 1)
	warning := result.Warnings[0]
	require.Equal(t, seedURL, warning.URL)
	require.Equal(t, StageFetch, warning.Stage)
	require.ErrorIs(t, warning.Err, fetcher.ErrFetch)
	require.ErrorIs(t, warning.Err, errConnectionRefused)
	require.Contains(t, warning.Message, "connection refused")
}

func TestCrawlFailedBranchDoesNotAbort(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/":   htmlPage(`<p>start</p><a href="/missing"></a><a href="/p2"></a>`),
		"a.test/p2": htmlPage(`<p>two</p>`),
	})

	result, err := Crawl(context.Background(), testOptions(site.client()))
	require.NoError(t, err)

	require.Equal(t, "start\ntwo", result.Text)
	require.Equal(t, []string{"https://a.test/", "https://a.test/p2"}, result.FetchedURLs())

	require.Len(t, result.Warnings, 1)
	require.Equal(t, "https://a.test/missing", result.Warnings[0].URL)
	require.Equal(t, StageFetch, result.Warnings[0].Stage)

	var fetchErr *fetcher.Error
	require.ErrorAs(t, result.Warnings[0].Err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)

	require.Equal(t, PageRecord{
		URL:        "https://a.test/missing",
		Depth:      1,
		Status:     StatusFailed,
		HTTPStatus: http.StatusNotFound,
	}, result.Pages[1])
}

func TestCrawlSkipsNonHTMLContent(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`<p>deck below</p><a href="/deck.pdf"></a>`),
		"a.test/deck.pdf": func(req *http.Request) (*http.Response, error) {
			return responseForRequest(req, http.StatusOK, "%PDF-1.7", http.Header{
				"Content-Type": []string{"application/pdf"},
			}), nil
		},
	})

	result, err := Crawl(context.Background(), testOptions(site.client()))
	require.NoError(t, err)

	require.Equal(t, "deck below", result.Text)
	require.Equal(t, StatusSkipped, result.Pages[1].Status)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, StageContent, result.Warnings[0].Stage)
	require.ErrorIs(t, result.Warnings[0].Err, errNotHTML)
}

func TestCrawlDecodesLatin1Pages(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": func(req *http.Request) (*http.Response, error) {
			return responseForRequest(req, http.StatusOK, "<h1>Soci\xe9t\xe9 Anonyme</h1>", http.Header{
				"Content-Type": []string{"text/html; charset=ISO-8859-1"},
			}), nil
		},
	})

	result, err := Crawl(context.Background(), testOptions(site.client()))
	require.NoError(t, err)

	require.Equal(t, "Société Anonyme", result.Text)
	require.True(t, utf8.ValidString(result.Text))
	require.Empty(t, result.Warnings)
}

func TestCrawlWarnsOnTruncatedBody(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage("<p>" + strings.Repeat("x", 200) + "</p>"),
	})

	opts := testOptions(site.client())
	opts.MaxBodyBytes = 64

	result, err := Crawl(context.Background(), opts)
	require.NoError(t, err)

	require.NotEmpty(t, result.Text)
	require.Equal(t, StatusFetched, result.Pages[0].Status)
	require.Equal(t, 64, result.Pages[0].Bytes)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, StageContent, result.Warnings[0].Stage)
	require.ErrorIs(t, result.Warnings[0].Err, errBodyTooLarge)
	require.False(t, result.Truncated)
}

func TestCrawlCommitOrderFollowsClaimOrder(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`<p>seed</p><a href="/c"></a><a href="/a"></a><a href="/b"></a>`),
		"a.test/a": func(req *http.Request) (*http.Response, error) {
			time.Sleep(30 * time.Millisecond)

			return htmlPage(`<p>A</p>`)(req)
		},
		"a.test/b": htmlPage(`<p>B</p>`),
		"a.test/c": htmlPage(`<p>C</p>`),
	})

	opts := testOptions(site.client())
	opts.Workers = 3

	result, err := Crawl(context.Background(), opts)
	require.NoError(t, err)

	require.Equal(t, "seed\nA\nB\nC", result.Text)
	require.Equal(t, []string{"https://a.test/", "https://a.test/a", "https://a.test/b", "https://a.test/c"}, result.FetchedURLs())
}

func TestCrawlMaxPages(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/":  htmlPage(`<p>seed</p><a href="/a"></a><a href="/b"></a><a href="/c"></a>`),
		"a.test/a": htmlPage(`<p>A</p>`),
		"a.test/b": htmlPage(`<p>B</p>`),
		"a.test/c": htmlPage(`<p>C</p>`),
	})

	opts := testOptions(site.client())
	opts.MaxPages = 2

	result, err := Crawl(context.Background(), opts)
	require.NoError(t, err)

	require.True(t, result.Truncated)
	require.Equal(t, "seed\nA", result.Text)
	require.Equal(t, []string{"https://a.test/", "https://a.test/a"}, site.requested())
	require.Equal(t, StatusSkipped, result.Pages[2].Status)
	require.Equal(t, StatusSkipped, result.Pages[3].Status)

	require.Len(t, result.Warnings, 1)
	require.Equal(t, StageLimit, result.Warnings[0].Stage)
	require.ErrorIs(t, result.Warnings[0].Err, errPageLimit)
}

func TestCrawlTimeoutReturnsPartialText(t *testing.T) {
	t.Parallel()

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`<p>seed</p><a href="/slow"></a>`),
		"a.test/slow": func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()

			return nil, req.Context().Err()
		},
	})

	opts := testOptions(site.client())
	opts.Timeout = 100 * time.Millisecond
	opts.RequestTimeout = 10 * time.Second

	done := make(chan Result)
	go func() {
		result, _ := Crawl(context.Background(), opts)
		done <- result
	}()

	select {
	case result := <-done:
		require.True(t, result.Truncated)
		require.Equal(t, "seed", result.Text)
		require.Equal(t, StatusSkipped, result.Pages[1].Status)
		require.Len(t, result.Warnings, 1)
		require.Equal(t, StageLimit, result.Warnings[0].Stage)
		require.ErrorIs(t, result.Warnings[0].Err, errCrawlTimeout)
	case <-time.After(3 * time.Second):
		t.Fatalf("crawl did not stop at its timeout")
	}
}

func TestCrawlCancelStopsWaitingOnRateLimit(t *testing.T) {
	t.Parallel()

	clock := newBlockingClock(fixtureTime)
	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/":  htmlPage(`<p>seed</p><a href="/a"></a>`),
		"a.test/a": htmlPage(`<p>A</p>`),
	})

	opts := testOptions(site.client())
	opts.Workers = 2
	opts.Delay = 10 * time.Second
	opts.Clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan Result)
	go func() {
		result, _ := Crawl(ctx, opts)
		done <- result
	}()

	<-clock.sleepStarted
	cancel()

	select {
	case result := <-done:
		require.True(t, result.Truncated)
		require.Equal(t, "seed", result.Text)
		require.Equal(t, 0, site.count("https://a.test/a"))
		require.Len(t, result.Warnings, 1)
		require.ErrorIs(t, result.Warnings[0].Err, errCrawlCancel)
	case <-time.After(2 * time.Second):
		t.Fatalf("crawl did not finish after cancel")
	}
}

func TestCrawlRateLimitIsGlobalAndRPSOverridesDelay(t *testing.T) {
	t.Parallel()

	clock := &recordingClock{now: fixtureTime}
	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/": htmlPage(`<a href="/a"></a><a href="/b"></a><a href="/c"></a>
			<a href="/d"></a><a href="/e"></a><a href="/f"></a>`),
		"a.test/a": htmlPage(`ok`),
		"a.test/b": htmlPage(`ok`),
		"a.test/c": htmlPage(`ok`),
		"a.test/d": htmlPage(`ok`),
		"a.test/e": htmlPage(`ok`),
		"a.test/f": htmlPage(`ok`),
	})

	opts := testOptions(site.client())
	opts.Workers = 4
	opts.Delay = 10 * time.Second
	opts.RPS = 5
	opts.Clock = clock

	result, err := Crawl(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, result.FetchedURLs(), 7)

	sleeps := clock.sleepDurations()
	require.Len(t, sleeps, 6, "the first request is free, every other one waits")
	for i, got := range sleeps {
		want := time.Duration(i+1) * 200 * time.Millisecond
		require.InDelta(t, float64(want), float64(got), float64(time.Millisecond), "sleep %d", i)
	}
}

func TestCrawlWorkersFetchConcurrently(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	release := make(chan struct{})

	blocking := func(req *http.Request) (*http.Response, error) {
		started.Add(1)
		<-release

		return htmlPage(`<p>ok</p>`)(req)
	}

	site := newFixtureSite(map[string]roundTripResponder{
		"a.test/":  htmlPage(`<a href="/a"></a><a href="/b"></a>`),
		"a.test/a": blocking,
		"a.test/b": blocking,
	})

	opts := testOptions(site.client())
	opts.Workers = 2

	done := make(chan struct{})
	go func() {
		_, _ = Crawl(context.Background(), opts)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return started.Load() >= 2
	}, time.Second, 10*time.Millisecond, "expected two page fetches in flight with two workers")

	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("crawl did not finish")
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	got := withDefaults(Options{})

	require.Equal(t, defaultWorkers, got.Workers)
	require.Equal(t, defaultWorkers, got.MaxConcurrentFetch)
	require.Equal(t, defaultMaxPages, got.MaxPages)
	require.Equal(t, defaultTimeout, got.Timeout)
	require.Equal(t, defaultRequestTimeout, got.RequestTimeout)
	require.Equal(t, defaultUserAgent, got.UserAgent)
	require.Equal(t, DefaultDepthPolicy(), got.DepthPolicy)
	require.NotNil(t, got.Clock)
	require.NotNil(t, got.Logger)

	custom := withDefaults(Options{Workers: 8, MaxConcurrentFetch: 2})
	require.Equal(t, 8, custom.Workers)
	require.Equal(t, 2, custom.MaxConcurrentFetch)
}
