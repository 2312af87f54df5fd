// Package search downloads cause-list documents under bounded concurrency and
// reports the 1-based pages on which each search term appears.
package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/metrics"
	"github.com/JakeFAU/causelist-crawler/internal/pdftext"
)

const (
	excerptRadius   = 2
	maxExcerptLines = 10
)

// Config sizes the worker pool and the pre-fetch jitter.
type Config struct {
	Workers  int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Result is the outcome of one batch. Documents mirrors the input order with
// page counts filled in for every document that could be opened.
type Result struct {
	Hits      []causelist.SearchHit
	Documents []causelist.DocumentReference
}

// Searcher implements the document search stage.
type Searcher struct {
	fetcher causelist.Fetcher
	opener  pdftext.Opener
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New constructs a Searcher.
func New(fetcher causelist.Fetcher, opener pdftext.Opener, cfg Config, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Searcher{
		fetcher: fetcher,
		opener:  opener,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// SearchAll searches every document for every term. Documents that fail to
// download or open are skipped. Hits are returned in input order.
func (s *Searcher) SearchAll(ctx context.Context, terms []string, docs []causelist.DocumentReference) Result {
	needles := normalizeTerms(terms)
	hits := make([]*causelist.SearchHit, len(docs))
	out := make([]causelist.DocumentReference, len(docs))
	copy(out, docs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			hit, pages, ok := s.searchOne(gctx, needles, doc)
			if !ok {
				return nil
			}
			out[i] = doc.WithPageCount(pages)
			hits[i] = hit
			return nil
		})
	}
	// Workers never return errors; a skipped document is not a batch failure.
	_ = g.Wait()

	result := Result{Documents: out, Hits: make([]causelist.SearchHit, 0)}
	for _, h := range hits {
		if h != nil {
			result.Hits = append(result.Hits, *h)
		}
	}
	return result
}

// searchOne returns the hit (nil when nothing matched), the page count, and
// whether the document could be read at all.
func (s *Searcher) searchOne(
	ctx context.Context,
	needles []term,
	doc causelist.DocumentReference,
) (*causelist.SearchHit, int, bool) {
	log := s.logger.With(zap.String("url", doc.URL))
	if err := s.sleep(ctx, s.jitter()); err != nil {
		return nil, 0, false
	}
	resp, err := s.fetcher.Fetch(ctx, causelist.FetchRequest{Method: http.MethodGet, URL: doc.URL})
	if err != nil {
		log.Warn("document download failed", zap.Error(err))
		metrics.ObserveDocument("failed")
		return nil, 0, false
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("document download skipped", zap.Int("status", resp.StatusCode))
		metrics.ObserveDocument("skipped")
		return nil, 0, false
	}
	pdfDoc, err := s.opener.Open(resp.Body)
	if err != nil {
		log.Warn("document unreadable", zap.Error(err))
		metrics.ObserveDocument("malformed")
		return nil, 0, false
	}

	pages := pdfDoc.NumPages()
	pagesByTerm := map[string][]int{}
	excerpts := map[string][]string{}
	for p := 1; p <= pages; p++ {
		if ctx.Err() != nil {
			return nil, 0, false
		}
		text, err := pdfDoc.PageText(p)
		if err != nil {
			log.Debug("page text unavailable", zap.Int("page", p), zap.Error(err))
			continue
		}
		lower := strings.ToLower(text)
		for _, n := range needles {
			if !strings.Contains(lower, n.lower) {
				continue
			}
			pagesByTerm[n.original] = append(pagesByTerm[n.original], p)
			if _, seen := excerpts[n.original]; !seen {
				excerpts[n.original] = excerpt(text, n.lower)
			}
		}
	}
	metrics.ObserveDocument("searched")
	if len(pagesByTerm) == 0 {
		return nil, pages, true
	}
	metrics.ObserveHit()
	log.Info("document matched", zap.String("document", doc.Name), zap.Int("terms", len(pagesByTerm)))
	return &causelist.SearchHit{
		DocumentName: doc.Name,
		DocumentURL:  doc.URL,
		PageCount:    pages,
		PagesByTerm:  pagesByTerm,
		Excerpts:     excerpts,
	}, pages, true
}

func (s *Searcher) jitter() time.Duration {
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	if span <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + rand.N(span)
}

type term struct {
	original string
	lower    string
}

// normalizeTerms drops blanks and duplicate terms (case-insensitively).
func normalizeTerms(terms []string) []term {
	seen := map[string]bool{}
	out := make([]term, 0, len(terms))
	for _, t := range terms {
		trimmed := strings.TrimSpace(t)
		lower := strings.ToLower(trimmed)
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, term{original: trimmed, lower: lower})
	}
	return out
}

// excerpt gathers up to maxExcerptLines lines surrounding each line that
// contains needle.
func excerpt(text, needle string) []string {
	lines := strings.Split(text, "\n")
	var out []string
	next := 0
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		start := max(i-excerptRadius, next)
		end := min(len(lines), i+excerptRadius+1)
		for _, l := range lines[start:end] {
			if len(out) == maxExcerptLines {
				return out
			}
			out = append(out, strings.TrimRight(l, "\r"))
		}
		next = end
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("search delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
