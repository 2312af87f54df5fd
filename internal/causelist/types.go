package causelist

import (
	"net/http"
	"time"
)

// DateLayout is the DD/MM/YYYY format used by the source site and the API.
const DateLayout = "02/01/2006"

// DocumentReference points at one downloadable cause-list document.
type DocumentReference struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	PageCount *int   `json:"page_count,omitempty"`
}

// WithPageCount returns a copy of the reference with the page count recorded.
func (d DocumentReference) WithPageCount(n int) DocumentReference {
	d.PageCount = &n
	return d
}

// SearchHit reports which terms matched which 1-based pages of one document.
type SearchHit struct {
	DocumentName string              `json:"document_name"`
	DocumentURL  string              `json:"document_url"`
	PageCount    int                 `json:"page_count"`
	PagesByTerm  map[string][]int    `json:"pages_by_term"`
	Excerpts     map[string][]string `json:"excerpts,omitempty"`
}

// CaseQuery identifies one case to cross-reference against the cause list.
type CaseQuery struct {
	Type   string `json:"type"`
	Number string `json:"no"`
	Year   string `json:"year"`
}

// IsZero reports whether no case was supplied.
func (q CaseQuery) IsZero() bool {
	return q.Type == "" && q.Number == "" && q.Year == ""
}

// SessionToken is the site-issued session cookie for one workflow invocation.
// It is threaded explicitly through dependent requests and never stored.
type SessionToken struct {
	name  string
	value string
}

// NewSessionToken wraps a cookie name/value pair.
func NewSessionToken(name, value string) SessionToken {
	return SessionToken{name: name, value: value}
}

// Valid reports whether the token carries a value.
func (t SessionToken) Valid() bool {
	return t.name != "" && t.value != ""
}

// Apply attaches the token to an outbound header set.
func (t SessionToken) Apply(h http.Header) {
	if !t.Valid() {
		return
	}
	h.Set("Cookie", (&http.Cookie{Name: t.name, Value: t.value}).String())
}

// String hides the cookie value from logs.
func (t SessionToken) String() string {
	if !t.Valid() {
		return "SessionToken(empty)"
	}
	return "SessionToken(" + t.name + "=***)"
}

// CaseLookup is the result of a successful case search.
type CaseLookup struct {
	CaseID string
	Token  SessionToken
}

// JudgeBinding is resolved mid-workflow and only drives the next request.
type JudgeBinding struct {
	Name string
	Code string
}

// CaseCorrelation is the output of the full case workflow.
type CaseCorrelation struct {
	CaseDetailsHTML string `json:"case_details_html"`
	MatchingRows    string `json:"matching_rows"`
}

// Report is the context handed to the notifier once a date has been processed.
type Report struct {
	JobID       string              `json:"job_id"`
	Date        string              `json:"date"`
	SearchTerms []string            `json:"search_terms"`
	Recipients  []string            `json:"recipients,omitempty"`
	Documents   []DocumentReference `json:"documents"`
	Hits        []SearchHit         `json:"hits"`
	Case        *CaseCorrelation    `json:"case,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// FailureReport describes a job that exhausted its attempts.
type FailureReport struct {
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	Date        string    `json:"date,omitempty"`
	SearchTerms []string  `json:"search_terms,omitempty"`
	Recipients  []string  `json:"recipients,omitempty"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

// FetchRequest captures one outbound request to the source site.
type FetchRequest struct {
	Method  string
	URL     string
	Form    map[string]string
	Headers http.Header
}

// FetchResponse is what a Fetcher returns for any completed exchange,
// including non-2xx statuses.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Cookie returns the named cookie set by the response, if any.
func (r FetchResponse) Cookie(name string) (*http.Cookie, bool) {
	resp := http.Response{Header: r.Headers}
	for _, c := range resp.Cookies() {
		if c.Name == name && c.Value != "" {
			return c, true
		}
	}
	return nil, false
}
