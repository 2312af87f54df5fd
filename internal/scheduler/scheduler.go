// Package scheduler submits the recurring default-terms search on a cron
// schedule evaluated in the court's time zone.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/orchestrator"
)

// Requester accepts search requests.
type Requester interface {
	RequestSearch(ctx context.Context, req orchestrator.SearchRequest) (orchestrator.Queued, error)
}

// Config describes the recurring search.
type Config struct {
	Cron        string
	SearchTerms []string
	Location    *time.Location
}

// Scheduler fires a search for tomorrow at every cron tick.
type Scheduler struct {
	expr      *cronexpr.Expression
	cfg       Config
	requester Requester
	clock     causelist.Clock
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSleep replaces the timer wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// New parses the cron expression and returns a Scheduler.
func New(cfg Config, requester Requester, clock causelist.Clock, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	expr, err := cronexpr.Parse(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", cfg.Cron, err)
	}
	if len(cfg.SearchTerms) == 0 {
		return nil, fmt.Errorf("scheduled search needs at least one term")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{
		expr:      expr,
		cfg:       cfg,
		requester: requester,
		clock:     clock,
		logger:    logger,
		sleep:     sleepWithContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next reports the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t.In(s.cfg.Location))
}

// Run blocks, submitting one search per tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next := s.Next(now)
		if next.IsZero() {
			s.logger.Warn("cron expression has no future ticks", zap.String("cron", s.cfg.Cron))
			return
		}
		s.logger.Info("next scheduled search", zap.Time("at", next))
		if err := s.sleep(ctx, next.Sub(now)); err != nil {
			return
		}
		s.fire(ctx)
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	queued, err := s.requester.RequestSearch(ctx, orchestrator.SearchRequest{SearchTerms: s.cfg.SearchTerms})
	if err != nil {
		s.logger.Error("scheduled search not queued", zap.Error(err))
		return
	}
	s.logger.Info("scheduled search queued", zap.Strings("dates", queued.Dates))
}

func (s *Scheduler) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
