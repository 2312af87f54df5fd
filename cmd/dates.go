package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/causelist-crawler/internal/orchestrator"
)

func newDatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dates DD/MM/YYYY",
		Short: "Prints the hearing dates a search for the given date would cover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dates, err := orchestrator.WeekendDates(args[0])
			if err != nil {
				return err
			}
			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
}
