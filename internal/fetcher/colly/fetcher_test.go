package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
)

func TestFetchGetReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.UserAgent())
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc123"})
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "test-agent", Timeout: time.Second, Retry: fastRetry()})
	resp, err := f.Fetch(context.Background(), causelist.FetchRequest{URL: srv.URL + "/case_status/search.php"})
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, "<html>ok</html>", string(resp.Body))

	cookie, ok := resp.Cookie("PHPSESSID")
	require.True(t, ok)
	require.Equal(t, "abc123", cookie.Value)
}

func TestFetchPostsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "27/12/2024", r.PostForm.Get("t_f_date"))
		require.Equal(t, "show_causeList", r.PostForm.Get("action"))
		_, _ = w.Write([]byte("listing"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second, Retry: fastRetry()})
	resp, err := f.Fetch(context.Background(), causelist.FetchRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Form:   map[string]string{"t_f_date": "27/12/2024", "action": "show_causeList"},
	})
	require.NoError(t, err)
	require.Equal(t, "listing", string(resp.Body))
}

func TestFetchReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second, Retry: fastRetry()})
	resp, err := f.Fetch(context.Background(), causelist.FetchRequest{URL: srv.URL + "/missing.pdf"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.False(t, resp.OK())
}

func TestFetchRetriesGatewayErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second, Retry: fastRetry()})
	resp, err := f.Fetch(context.Background(), causelist.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "recovered", string(resp.Body))
	require.EqualValues(t, 3, calls.Load())
}

func TestFetchSendsSessionHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Cookie")))
	}))
	t.Cleanup(srv.Close)

	hdr := http.Header{}
	causelist.NewSessionToken("PHPSESSID", "xyz").Apply(hdr)

	f := New(Config{Timeout: time.Second, Retry: fastRetry()})
	resp, err := f.Fetch(context.Background(), causelist.FetchRequest{URL: srv.URL, Headers: hdr})
	require.NoError(t, err)
	require.Equal(t, "PHPSESSID=xyz", string(resp.Body))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second, Retry: RetryConfig{}})
	_, err := f.Fetch(ctx, causelist.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, causelist.ErrUpstreamUnavailable))
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	limiter := &countingWaiter{}
	f := New(Config{Timeout: time.Second, Retry: fastRetry(), Limiter: limiter})
	_, err := f.Fetch(context.Background(), causelist.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.EqualValues(t, 1, limiter.calls.Load())

	limiter.err = context.Canceled
	_, err = f.Fetch(context.Background(), causelist.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, causelist.ErrUpstreamUnavailable)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := causelist.FetchRequest{
		URL:     "https://court.example",
		Headers: http.Header{"Cookie": {"PHPSESSID=abc"}},
	}
	start := time.Unix(0, 0)
	var result causelist.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "PHPSESSID=abc", collyReq.Headers.Get("Cookie"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://court.example"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(causelist.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type countingWaiter struct {
	calls atomic.Int32
	err   error
}

func (c *countingWaiter) Wait(context.Context, string) error {
	c.calls.Add(1)
	return c.err
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
