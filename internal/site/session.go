// Package site replays the court website's browsing sequence: the cause-list
// listing form, the case-status search, the case details page and the
// judge-wise registration list. Session tokens are threaded explicitly
// through each call; no cookie jar is kept between requests.
package site

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
)

// Config holds the site endpoints and session cookie name.
type Config struct {
	MainBaseURL      string
	CauseListBaseURL string
	CauseListFormURL string
	CaseSearchURL    string
	CaseDetailsURL   string
	JudgeWiseURL     string
	SessionCookie    string
}

// Session drives one site's request protocol through a Fetcher.
type Session struct {
	cfg     Config
	fetcher causelist.Fetcher
	logger  *zap.Logger
}

// New constructs a Session.
func New(cfg Config, fetcher causelist.Fetcher, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "PHPSESSID"
	}
	return &Session{cfg: cfg, fetcher: fetcher, logger: logger}
}

// ListDocuments submits the listing form for date (DD/MM/YYYY) and returns
// the referenced documents in page order.
func (s *Session) ListDocuments(ctx context.Context, date string) ([]causelist.DocumentReference, error) {
	resp, err := s.do(ctx, causelist.FetchRequest{
		Method: http.MethodPost,
		URL:    s.cfg.CauseListFormURL,
		Form: map[string]string{
			"t_f_date": date,
			"urg_ord":  "1",
			"action":   "show_causeList",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", date, err)
	}
	docs, err := parseListing(resp.Body, s.cfg.CauseListBaseURL)
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", date, err)
	}
	if len(docs) == 0 {
		s.logger.Warn("cause list page had no document rows", zap.String("date", date))
	}
	return docs, nil
}

// LookupCase submits the case-status search. A missing session cookie or case
// anchor yields causelist.ErrNotFound.
func (s *Session) LookupCase(ctx context.Context, q causelist.CaseQuery) (causelist.CaseLookup, error) {
	resp, err := s.do(ctx, causelist.FetchRequest{
		Method: http.MethodPost,
		URL:    s.cfg.CaseSearchURL,
		Form: map[string]string{
			"t_case_type": q.Type,
			"t_case_no":   q.Number,
			"t_case_year": q.Year,
			"submit":      "Search Case",
		},
	})
	if err != nil {
		return causelist.CaseLookup{}, fmt.Errorf("lookup case: %w", err)
	}
	cookie, ok := resp.Cookie(s.cfg.SessionCookie)
	if !ok {
		return causelist.CaseLookup{}, fmt.Errorf("lookup case: session cookie %s: %w", s.cfg.SessionCookie, causelist.ErrNotFound)
	}
	caseID, err := findCaseID(resp.Body, s.caseAnchorMarker())
	if err != nil {
		return causelist.CaseLookup{}, fmt.Errorf("lookup case: %w", err)
	}
	return causelist.CaseLookup{
		CaseID: caseID,
		Token:  causelist.NewSessionToken(cookie.Name, cookie.Value),
	}, nil
}

// FetchCaseDetails loads the case details page with the session token and
// rewrites its relative asset paths.
func (s *Session) FetchCaseDetails(ctx context.Context, caseID string, token causelist.SessionToken) (string, error) {
	target, err := withQuery(s.cfg.CaseDetailsURL, url.Values{"case_id": {caseID}})
	if err != nil {
		return "", fmt.Errorf("fetch case details: %w", err)
	}
	hdr := http.Header{}
	token.Apply(hdr)
	resp, err := s.do(ctx, causelist.FetchRequest{Method: http.MethodGet, URL: target, Headers: hdr})
	if err != nil {
		return "", fmt.Errorf("fetch case details: %w", err)
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return "", fmt.Errorf("fetch case details: empty page: %w", causelist.ErrNotFound)
	}
	return RewriteRelativePaths(string(resp.Body), s.cfg.MainBaseURL), nil
}

// ResolveJudgeCode finds the registration-list option whose text contains
// judgeName, ignoring case and any honorific prefix.
func (s *Session) ResolveJudgeCode(
	ctx context.Context,
	judgeName string,
	token causelist.SessionToken,
) (causelist.JudgeBinding, error) {
	hdr := http.Header{}
	token.Apply(hdr)
	resp, err := s.do(ctx, causelist.FetchRequest{Method: http.MethodGet, URL: s.cfg.JudgeWiseURL, Headers: hdr})
	if err != nil {
		return causelist.JudgeBinding{}, fmt.Errorf("resolve judge code: %w", err)
	}
	binding, err := matchJudgeOption(resp.Body, judgeName)
	if err != nil {
		return causelist.JudgeBinding{}, fmt.Errorf("resolve judge code for %q: %w", judgeName, err)
	}
	return binding, nil
}

// FetchJudgeRegistration submits the judge-wise list form for date and code.
func (s *Session) FetchJudgeRegistration(
	ctx context.Context,
	date, judgeCode string,
	token causelist.SessionToken,
) (string, error) {
	hdr := http.Header{}
	token.Apply(hdr)
	resp, err := s.do(ctx, causelist.FetchRequest{
		Method: http.MethodPost,
		URL:    s.cfg.JudgeWiseURL,
		Form: map[string]string{
			"t_f_date":   date,
			"t_jud_code": judgeCode,
			"action":     "show_causeList",
		},
		Headers: hdr,
	})
	if err != nil {
		return "", fmt.Errorf("fetch judge registration: %w", err)
	}
	return RewriteRelativePaths(string(resp.Body), s.cfg.MainBaseURL), nil
}

// FullCaseWorkflow chains the case lookup through to the judge-wise rows that
// mention terms. Any absent step ends the workflow with causelist.ErrNotFound.
func (s *Session) FullCaseWorkflow(
	ctx context.Context,
	q causelist.CaseQuery,
	terms []string,
	date string,
) (causelist.CaseCorrelation, error) {
	if q.IsZero() {
		return causelist.CaseCorrelation{}, fmt.Errorf("case workflow: no case given: %w", causelist.ErrNotFound)
	}
	lookup, err := s.LookupCase(ctx, q)
	if err != nil {
		return causelist.CaseCorrelation{}, err
	}
	details, err := s.FetchCaseDetails(ctx, lookup.CaseID, lookup.Token)
	if err != nil {
		return causelist.CaseCorrelation{}, err
	}
	section := ExtractCaseListingSection(details)
	bench := strings.TrimSpace(section["Bench"])
	if bench == "" {
		s.logger.Warn("case listing section missing bench",
			zap.String("case_id", lookup.CaseID),
			zap.Int("fields", len(section)),
		)
		return causelist.CaseCorrelation{}, fmt.Errorf("case workflow: bench: %w", causelist.ErrNotFound)
	}
	judge, err := s.ResolveJudgeCode(ctx, bench, lookup.Token)
	if err != nil {
		return causelist.CaseCorrelation{}, err
	}
	registration, err := s.FetchJudgeRegistration(ctx, date, judge.Code, lookup.Token)
	if err != nil {
		return causelist.CaseCorrelation{}, err
	}
	rows, ok := ExtractMatchingRows(registration, terms, s.cfg.MainBaseURL)
	if !ok {
		return causelist.CaseCorrelation{}, fmt.Errorf("case workflow: matching rows: %w", causelist.ErrNotFound)
	}
	s.logger.Info("case correlated",
		zap.String("case_id", lookup.CaseID),
		zap.String("judge_code", judge.Code),
		zap.String("date", date),
	)
	return causelist.CaseCorrelation{CaseDetailsHTML: details, MatchingRows: rows}, nil
}

// do performs one request and treats any non-2xx status as an upstream failure.
func (s *Session) do(ctx context.Context, req causelist.FetchRequest) (causelist.FetchResponse, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		s.logger.Error("site request failed", zap.String("url", req.URL), zap.Error(err))
		if errors.Is(err, causelist.ErrUpstreamUnavailable) {
			return causelist.FetchResponse{}, err
		}
		return causelist.FetchResponse{}, fmt.Errorf("%w: %w", causelist.ErrUpstreamUnavailable, err)
	}
	if !resp.OK() {
		s.logger.Error("site returned error status", zap.String("url", req.URL), zap.Int("status", resp.StatusCode))
		return causelist.FetchResponse{}, fmt.Errorf("%w: %s returned %d", causelist.ErrUpstreamUnavailable, req.URL, resp.StatusCode)
	}
	return resp, nil
}

// caseAnchorMarker is the href fragment linking search results to the details page.
func (s *Session) caseAnchorMarker() string {
	if u, err := url.Parse(s.cfg.CaseDetailsURL); err == nil && u.Path != "" && u.Path != "/" {
		return path.Base(u.Path) + "?case_id="
	}
	return "case_id="
}

func withQuery(raw string, q url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
