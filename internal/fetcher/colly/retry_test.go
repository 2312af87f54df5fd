package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestRetryTransportRetriesGatewayErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{resp: statusResponse(http.StatusBadGateway)},
			{resp: statusResponse(http.StatusServiceUnavailable)},
			{resp: statusResponse(http.StatusOK)},
		},
	}
	transport := newRetryTransport(base, fastRetry())

	req := httptest.NewRequest(http.MethodGet, "https://court.example/view_causeList.php", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d", resp.StatusCode)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", base.calls)
	}
}

func TestRetryTransportReturnsLastGatewayResponse(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{{resp: statusResponse(http.StatusServiceUnavailable)}},
	}
	transport := newRetryTransport(base, fastRetry())

	req := httptest.NewRequest(http.MethodGet, "https://court.example/", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected final 503, got %d", resp.StatusCode)
	}
	if base.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", base.calls)
	}
}

func TestRetryTransportDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{{resp: statusResponse(http.StatusNotFound)}},
	}
	transport := newRetryTransport(base, fastRetry())

	req := httptest.NewRequest(http.MethodGet, "https://court.example/missing.pdf", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if base.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", base.calls)
	}
}

func TestRetryTransportRetriesTimeoutsThenFails(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{{err: context.DeadlineExceeded}},
	}
	transport := newRetryTransport(base, fastRetry())

	req := httptest.NewRequest(http.MethodGet, "https://court.example/", nil)
	_, err := transport.RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if base.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", base.calls)
	}
}

func TestRetryTransportRewindsFormBody(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{resp: statusResponse(http.StatusInternalServerError)},
			{resp: statusResponse(http.StatusOK)},
		},
	}
	transport := newRetryTransport(base, fastRetry())

	req, err := http.NewRequest(http.MethodPost, "https://court.example/search.php", strings.NewReader("t_case_no=123"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if len(base.bodies) != 2 || base.bodies[0] != "t_case_no=123" || base.bodies[1] != "t_case_no=123" {
		t.Fatalf("expected the form body on both attempts, got %q", base.bodies)
	}
}

func TestRetryBackoffIsCapped(t *testing.T) {
	t.Parallel()

	transport := newRetryTransport(nil, RetryConfig{MaxRetries: 5, InitialBackoff: 500 * time.Millisecond, MaxBackoff: time.Second})
	if got := transport.backoff(0); got != 500*time.Millisecond {
		t.Fatalf("expected first backoff 500ms, got %v", got)
	}
	if got := transport.backoff(4); got != time.Second {
		t.Fatalf("expected capped backoff 1s, got %v", got)
	}
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
	bodies  []string
}

func (s *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	if res.resp != nil {
		// Hand out a fresh response each call since bodies get closed.
		return statusResponse(res.resp.StatusCode), nil
	}
	return nil, res.err
}

func statusResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}
}
