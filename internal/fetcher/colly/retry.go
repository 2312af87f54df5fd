package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// RetryConfig shapes the transport-level retry applied to every request.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries three times starting at half a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// retryableStatus lists the gateway-style statuses worth another try.
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type retryTransport struct {
	base http.RoundTripper
	cfg  RetryConfig
}

func newRetryTransport(base http.RoundTripper, cfg RetryConfig) *retryTransport {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &retryTransport{base: base, cfg: cfg}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	maxAttempts := t.cfg.MaxRetries + 1
	for attempt := 0; ; attempt++ {
		cloneReq, err := cloneRequest(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := t.base.RoundTrip(cloneReq)
		last := attempt == maxAttempts-1
		switch {
		case err != nil:
			if last || !isTransientError(err) {
				return nil, fmt.Errorf("retry transport roundtrip: %w", err)
			}
		case retryableStatus[resp.StatusCode] && !last:
			drainAndClose(resp.Body)
		default:
			return resp, nil
		}
		if err := sleepWithContext(req.Context(), t.backoff(attempt)); err != nil {
			return nil, fmt.Errorf("retry transport backoff sleep: %w", err)
		}
	}
}

func (t *retryTransport) backoff(attempt int) time.Duration {
	delay := t.cfg.InitialBackoff << attempt
	if t.cfg.MaxBackoff > 0 && (delay > t.cfg.MaxBackoff || delay <= 0) {
		delay = t.cfg.MaxBackoff
	}
	return delay
}

// cloneRequest rewinds the body for every attempt after the first.
func cloneRequest(req *http.Request, attempt int) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		clone.Body = req.Body
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("retry transport cannot rewind request body")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("retry transport rewind body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
