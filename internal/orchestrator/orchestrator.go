// Package orchestrator turns a search request into one queued job per date
// and defines the job body: list documents and correlate the case in
// parallel, search the documents, then notify.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/dispatcher"
	"github.com/JakeFAU/causelist-crawler/internal/queue"
	"github.com/JakeFAU/causelist-crawler/internal/search"
	"github.com/JakeFAU/causelist-crawler/internal/telemetry"
)

// ErrNoSearchTerms is returned when a request carries no usable term.
var ErrNoSearchTerms = errors.New("at least one search term is required")

// Session is the part of the site session a job needs.
type Session interface {
	ListDocuments(ctx context.Context, date string) ([]causelist.DocumentReference, error)
	FullCaseWorkflow(ctx context.Context, q causelist.CaseQuery, terms []string, date string) (causelist.CaseCorrelation, error)
}

// Searcher searches downloaded documents.
type Searcher interface {
	SearchAll(ctx context.Context, terms []string, docs []causelist.DocumentReference) search.Result
}

// Submitter queues jobs.
type Submitter interface {
	Submit(ctx context.Context, name string, action queue.Action, opts ...dispatcher.SubmitOption) (string, error)
}

// Config holds request defaults.
type Config struct {
	DefaultRecipients []string
	Location          *time.Location
}

// SearchRequest is one caller request. Date is DD/MM/YYYY; empty means tomorrow.
type SearchRequest struct {
	SearchTerms []string
	Date        string
	Recipients  []string
	Case        *causelist.CaseQuery
}

// Queued lists the dates accepted for processing and their job IDs.
type Queued struct {
	Dates  []string `json:"queued_dates"`
	JobIDs []string `json:"job_ids"`
}

// DateRun is the input to one job body.
type DateRun struct {
	JobID      string
	Date       string
	Terms      []string
	Recipients []string
	Case       *causelist.CaseQuery
}

// Orchestrator composes the session, searcher, queue and notifier.
type Orchestrator struct {
	session   Session
	searcher  Searcher
	submitter Submitter
	notifier  causelist.Notifier
	ids       causelist.IDGenerator
	clock     causelist.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. submitter may be nil for synchronous use.
func New(
	session Session,
	searcher Searcher,
	submitter Submitter,
	notifier causelist.Notifier,
	ids causelist.IDGenerator,
	clock causelist.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Orchestrator{
		session:   session,
		searcher:  searcher,
		submitter: submitter,
		notifier:  notifier,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Plan resolves the request's defaults and returns the dates it covers.
func (o *Orchestrator) Plan(req SearchRequest) (SearchRequest, []string, error) {
	req.SearchTerms = cleanTerms(req.SearchTerms)
	if len(req.SearchTerms) == 0 {
		return req, nil, ErrNoSearchTerms
	}
	if strings.TrimSpace(req.Date) == "" {
		req.Date = Tomorrow(o.now(), o.cfg.Location)
	}
	if len(req.Recipients) == 0 {
		req.Recipients = append([]string(nil), o.cfg.DefaultRecipients...)
	}
	if req.Case != nil && req.Case.IsZero() {
		req.Case = nil
	}
	dates, err := WeekendDates(strings.TrimSpace(req.Date))
	if err != nil {
		return req, nil, err
	}
	return req, dates, nil
}

// RequestSearch queues one job per expanded date and returns without waiting.
// On a submit error the dates queued so far are still returned.
func (o *Orchestrator) RequestSearch(ctx context.Context, req SearchRequest) (Queued, error) {
	if o.submitter == nil {
		return Queued{}, errors.New("request search: no task queue configured")
	}
	req, dates, err := o.Plan(req)
	if err != nil {
		return Queued{}, err
	}

	var queued Queued
	for _, date := range dates {
		id, err := o.ids.NewID()
		if err != nil {
			return queued, fmt.Errorf("job id for %s: %w", date, err)
		}
		run := DateRun{JobID: id, Date: date, Terms: req.SearchTerms, Recipients: req.Recipients, Case: req.Case}
		action := func(ctx context.Context) error {
			_, err := o.RunDate(ctx, run)
			return err
		}
		if _, err := o.submitter.Submit(ctx, "search "+date, action,
			dispatcher.WithID(id),
			dispatcher.WithFailureHandler(o.failureHandler(run)),
		); err != nil {
			return queued, fmt.Errorf("queue search for %s: %w", date, err)
		}
		queued.Dates = append(queued.Dates, date)
		queued.JobIDs = append(queued.JobIDs, id)
	}
	o.logger.Info("search queued",
		zap.Strings("dates", queued.Dates),
		zap.Strings("terms", req.SearchTerms),
		zap.Bool("case", req.Case != nil),
	)
	return queued, nil
}

// RunDate is the job body for one date. A listing or notification failure
// fails the attempt; a case workflow failure only drops the correlation. An
// empty JobID is filled from the ID generator.
func (o *Orchestrator) RunDate(ctx context.Context, run DateRun) (causelist.Report, error) {
	if run.JobID == "" && o.ids != nil {
		id, err := o.ids.NewID()
		if err != nil {
			return causelist.Report{}, fmt.Errorf("generate job id: %w", err)
		}
		run.JobID = id
	}
	ctx, span := telemetry.Tracer("orchestrator").Start(ctx, "RunDate", trace.WithAttributes(
		attribute.String("job_id", run.JobID),
		attribute.String("date", run.Date),
		attribute.Int("terms", len(run.Terms)),
	))
	defer span.End()

	report, err := o.runDate(ctx, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	span.SetAttributes(attribute.Int("hits", len(report.Hits)))
	return report, nil
}

func (o *Orchestrator) runDate(ctx context.Context, run DateRun) (causelist.Report, error) {
	log := o.logger.With(zap.String("job_id", run.JobID), zap.String("date", run.Date))

	var (
		docs        []causelist.DocumentReference
		correlation *causelist.CaseCorrelation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = o.session.ListDocuments(gctx, run.Date)
		return err
	})
	if run.Case != nil && !run.Case.IsZero() {
		g.Go(func() error {
			c, err := o.session.FullCaseWorkflow(gctx, *run.Case, run.Terms, run.Date)
			switch {
			case err == nil:
				correlation = &c
			case errors.Is(err, causelist.ErrNotFound):
				log.Info("no case correlation", zap.Error(err))
			default:
				log.Warn("case workflow failed", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return causelist.Report{}, fmt.Errorf("list documents for %s: %w", run.Date, err)
	}
	log.Info("documents listed", zap.Int("documents", len(docs)))

	result := o.searcher.SearchAll(ctx, run.Terms, docs)
	if err := ctx.Err(); err != nil {
		return causelist.Report{}, fmt.Errorf("search %s: %w", run.Date, err)
	}

	report := causelist.Report{
		JobID:       run.JobID,
		Date:        run.Date,
		SearchTerms: run.Terms,
		Recipients:  run.Recipients,
		Documents:   result.Documents,
		Hits:        result.Hits,
		Case:        correlation,
		GeneratedAt: o.now(),
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, report); err != nil {
			return report, fmt.Errorf("notify %s: %w", run.Date, err)
		}
	}
	log.Info("date processed", zap.Int("hits", len(report.Hits)))
	return report, nil
}

func (o *Orchestrator) failureHandler(run DateRun) queue.FailureHandler {
	return func(ctx context.Context, job queue.Job, err error) {
		if o.notifier == nil {
			return
		}
		f := causelist.FailureReport{
			JobID:       job.ID,
			Name:        job.Name,
			Date:        run.Date,
			SearchTerms: run.Terms,
			Recipients:  run.Recipients,
			Attempts:    job.AttemptsMade,
			Error:       err.Error(),
			FailedAt:    o.now(),
		}
		if nerr := o.notifier.NotifyFailure(ctx, f); nerr != nil {
			o.logger.Error("failure notification failed", zap.String("job_id", job.ID), zap.Error(nerr))
		}
	}
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now()
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
