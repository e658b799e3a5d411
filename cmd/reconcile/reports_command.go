package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReportsCommand(ctx *commandContext) *cobra.Command {
	var (
		jobID int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List a job's comparison reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			reports, err := svc.ListReports(cmd.Context(), jobID, limit)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d has no reports\n", jobID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))
			return nil
		},
	}

	cmd.Flags().Int64Var(&jobID, "job", 0, "Job id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of reports")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}
