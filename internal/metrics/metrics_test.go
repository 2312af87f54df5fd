package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://HighCourtChd.gov.in/view_causeList.php", "highcourtchd.gov.in"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || documentsTotal == nil || upstreamRequestsTotal == nil ||
		httpRequestsTotal == nil || queueDepth == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded"))
	ObserveJob("succeeded")
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded")); got != before+1 {
		t.Errorf("expected succeeded jobs to increase by one, got %f -> %f", before, got)
	}

	SetQueueDepth(3)
	if got := testutil.ToFloat64(queueDepth); got != 3 {
		t.Errorf("expected queue depth 3, got %f", got)
	}
	SetWorkerBusy(true)
	if got := testutil.ToFloat64(workerBusy); got != 1 {
		t.Errorf("expected busy gauge 1, got %f", got)
	}
	SetWorkerBusy(false)
	if got := testutil.ToFloat64(workerBusy); got != 0 {
		t.Errorf("expected busy gauge 0, got %f", got)
	}

	ObserveUpstream("https://court.example/search.php", 200, 50*time.Millisecond)
	if got := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("court.example", "200")); got < 1 {
		t.Errorf("expected upstream counter to be incremented, got %f", got)
	}
}
