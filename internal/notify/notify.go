// Package notify delivers processed-date reports and job failures. Rendering
// and e-mail delivery happen downstream of the topics and archives written
// here.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
)

// Log writes a summary of every report to the logger.
type Log struct {
	logger *zap.Logger
}

// NewLog constructs a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify logs the report summary.
func (l *Log) Notify(_ context.Context, report causelist.Report) error {
	pages := 0
	for _, h := range report.Hits {
		for _, p := range h.PagesByTerm {
			pages += len(p)
		}
	}
	l.logger.Info("cause list report",
		zap.String("job_id", report.JobID),
		zap.String("date", report.Date),
		zap.Strings("terms", report.SearchTerms),
		zap.Int("documents", len(report.Documents)),
		zap.Int("hits", len(report.Hits)),
		zap.Int("matched_pages", pages),
		zap.Bool("case_correlated", report.Case != nil),
		zap.Int("recipients", len(report.Recipients)),
	)
	return nil
}

// NotifyFailure logs the failure.
func (l *Log) NotifyFailure(_ context.Context, f causelist.FailureReport) error {
	l.logger.Error("cause list job failed",
		zap.String("job_id", f.JobID),
		zap.String("date", f.Date),
		zap.Int("attempts", f.Attempts),
		zap.String("error", f.Error),
	)
	return nil
}

// Kind labels an Envelope.
type Kind string

const (
	// KindReport marks a processed-date report.
	KindReport Kind = "report"
	// KindFailure marks an exhausted job.
	KindFailure Kind = "failure"
)

// Envelope is the message published for each notification.
type Envelope struct {
	Kind    Kind                     `json:"kind"`
	Report  *causelist.Report        `json:"report,omitempty"`
	Failure *causelist.FailureReport `json:"failure,omitempty"`
}

// Topic publishes envelopes to one topic.
type Topic struct {
	publisher causelist.Publisher
	topic     string
	logger    *zap.Logger
}

// NewTopic constructs a Topic notifier.
func NewTopic(publisher causelist.Publisher, topic string, logger *zap.Logger) *Topic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Topic{publisher: publisher, topic: topic, logger: logger}
}

// Notify publishes the report.
func (t *Topic) Notify(ctx context.Context, report causelist.Report) error {
	return t.publish(ctx, Envelope{Kind: KindReport, Report: &report}, report.JobID)
}

// NotifyFailure publishes the failure.
func (t *Topic) NotifyFailure(ctx context.Context, f causelist.FailureReport) error {
	return t.publish(ctx, Envelope{Kind: KindFailure, Failure: &f}, f.JobID)
}

func (t *Topic) publish(ctx context.Context, env Envelope, jobID string) error {
	id, err := t.publisher.Publish(ctx, t.topic, env)
	if err != nil {
		return fmt.Errorf("publish %s for job %s: %w", env.Kind, jobID, err)
	}
	t.logger.Debug("notification published",
		zap.String("job_id", jobID),
		zap.String("kind", string(env.Kind)),
		zap.String("message_id", id),
	)
	return nil
}

// Archive stores each notification as a JSON object.
type Archive struct {
	store  causelist.BlobStore
	prefix string
	logger *zap.Logger
}

// NewArchive constructs an Archive notifier writing under prefix.
func NewArchive(store causelist.BlobStore, prefix string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ReportPath is where a report for date and job is archived.
func (a *Archive) ReportPath(date, jobID string) string {
	return path.Join(a.prefix, strings.ReplaceAll(date, "/", "-"), jobID+".json")
}

// FailurePath is where a failure for job is archived.
func (a *Archive) FailurePath(jobID string) string {
	return path.Join(a.prefix, "failures", jobID+".json")
}

// Notify archives the report.
func (a *Archive) Notify(ctx context.Context, report causelist.Report) error {
	return a.put(ctx, a.ReportPath(report.Date, report.JobID), report)
}

// NotifyFailure archives the failure.
func (a *Archive) NotifyFailure(ctx context.Context, f causelist.FailureReport) error {
	return a.put(ctx, a.FailurePath(f.JobID), f)
}

func (a *Archive) put(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	uri, err := a.store.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	a.logger.Info("notification archived", zap.String("uri", uri))
	return nil
}

// Multi fans every notification out to all notifiers and joins their errors.
type Multi []causelist.Notifier

// Notify delivers to every notifier even when some fail.
func (m Multi) Notify(ctx context.Context, report causelist.Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyFailure delivers to every notifier even when some fail.
func (m Multi) NotifyFailure(ctx context.Context, f causelist.FailureReport) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyFailure(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
