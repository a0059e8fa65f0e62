package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "catalog-agent", Timeout: time.Second})
	collector := f.buildCollector(crawler.FetchRequest{URL: "https://shop.example"}, time.Unix(0, 0),
		&crawler.FetchResponse{}, new(error))
	if collector.UserAgent != "catalog-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be handled outside the collector")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed so retries can refetch a page")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://shop.example",
		Headers: http.Header{"X-Trace": {"yes"}, "User-Agent": {"override"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"User-Agent": {"colly"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	assert.Equal(t, []string{"override"}, (*collyReq.Headers)["User-Agent"])

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<html></html>"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://shop.example/")},
	})
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "<html></html>", string(result.Body))
	assert.Equal(t, "text/html", result.Headers.Get("Content-Type"))

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	var status *crawler.HTTPStatusError
	require.ErrorAs(t, fetchErr, &status)
	assert.Equal(t, http.StatusForbidden, status.StatusCode)

	hooks.onError(nil, errors.New("dial tcp: refused"))
	assert.EqualError(t, fetchErr, "dial tcp: refused")
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><img src="/a.jpg"></body></html>`))
		default:
			http.Error(w, "gone", http.StatusGone)
		}
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "catalog-agent", Timeout: 2 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "a.jpg")

	again, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/"})
	require.NoError(t, err, "refetching the same page must be allowed")
	assert.Equal(t, resp.Body, again.Body)

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	var status *crawler.HTTPStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusGone, status.StatusCode)
	assert.True(t, crawler.IsPermanent(err))
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
