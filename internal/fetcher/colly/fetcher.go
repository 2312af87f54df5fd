// Package collyfetcher implements causelist.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/metrics"
)

// Waiter paces outbound requests; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	Retry        RetryConfig
	Limiter      Waiter
	// Transport overrides the pooled default; tests point it at httptest servers.
	Transport http.RoundTripper
}

// Fetcher implements causelist.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Clones share the base collector's HTTP backend, so the
// transport, timeout and cookie policy are fixed here once.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.IgnoreRobotsTxt = true
	// Session cookies are carried explicitly on each request.
	c.DisableCookies()

	base := cfg.Transport
	if base == nil {
		base = newHTTPTransport()
	}
	c.WithTransport(newRetryTransport(base, cfg.Retry))

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	c.SetRequestTimeout(timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single GET or form POST using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request causelist.FetchRequest) (causelist.FetchResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return causelist.FetchResponse{}, fmt.Errorf("%w: %w", causelist.ErrUpstreamUnavailable, err)
		}
	}

	var (
		result   causelist.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		metrics.ObserveUpstream(request.URL, 0, time.Since(start))
		return causelist.FetchResponse{}, fmt.Errorf("%w: %w", causelist.ErrUpstreamUnavailable, err)
	}
	metrics.ObserveUpstream(request.URL, result.StatusCode, result.Duration)
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request causelist.FetchRequest,
	start time.Time,
	result *causelist.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request causelist.FetchRequest,
	start time.Time,
	result *causelist.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = causelist.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request causelist.FetchRequest,
	fetchErr *error,
) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	done := make(chan error, 1)
	go func() {
		if method == http.MethodGet && len(request.Form) == 0 {
			done <- collector.Visit(request.URL)
			return
		}
		form := url.Values{}
		for k, v := range request.Form {
			form.Set(k, v)
		}
		hdr := http.Header{}
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		done <- collector.Request(method, request.URL, strings.NewReader(form.Encode()), nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request causelist.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
