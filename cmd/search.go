package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/orchestrator"
)

type searchFlags struct {
	terms      []string
	date       string
	recipients []string
	caseType   string
	caseNo     string
	caseYear   string
	lockTTL    time.Duration
}

func newSearchCmd() *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs one search synchronously and prints the reports as JSON",
		Long: `search expands the date across the weekend, runs every date in turn
while holding the exclusive lock, and writes one JSON report per date to stdout.
Reports are also delivered through the configured notifiers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVarP(&flags.terms, "term", "t", nil, "search term (repeatable)")
	cmd.Flags().StringVarP(&flags.date, "date", "d", "", "hearing date DD/MM/YYYY (default tomorrow)")
	cmd.Flags().StringSliceVar(&flags.recipients, "recipient", nil, "report recipient email (repeatable)")
	cmd.Flags().StringVar(&flags.caseType, "case-type", "", "case type to cross-reference")
	cmd.Flags().StringVar(&flags.caseNo, "case-no", "", "case number to cross-reference")
	cmd.Flags().StringVar(&flags.caseYear, "case-year", "", "case year to cross-reference")
	cmd.Flags().DurationVar(&flags.lockTTL, "lock-ttl", 2*time.Hour, "expiry of the exclusive lock when held in redis")
	return cmd
}

func runSearch(cmd *cobra.Command, flags *searchFlags) error {
	ctx := cmd.Context()
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			app.Logger().Warn("close failed", zap.Error(cerr))
		}
	}()

	req := orchestrator.SearchRequest{
		SearchTerms: flags.terms,
		Date:        flags.date,
		Recipients:  flags.recipients,
	}
	if flags.caseType != "" || flags.caseNo != "" || flags.caseYear != "" {
		req.Case = &causelist.CaseQuery{Type: flags.caseType, Number: flags.caseNo, Year: flags.caseYear}
	}
	orch := app.Orchestrator()
	req, dates, err := orch.Plan(req)
	if err != nil {
		return err
	}

	release, err := app.AcquireExclusive(ctx, "cli-search", flags.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire exclusive lock: %w", err)
	}
	defer release()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	var errs []error
	for _, date := range dates {
		report, err := orch.RunDate(ctx, orchestrator.DateRun{
			Date:       date,
			Terms:      req.SearchTerms,
			Recipients: req.Recipients,
			Case:       req.Case,
		})
		if err != nil {
			app.Logger().Error("search failed", zap.String("date", date), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", date, err))
			continue
		}
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return errors.Join(errs...)
}
