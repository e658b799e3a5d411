package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

func newDiffCommand(ctx *commandContext) *cobra.Command {
	var (
		jobID      int64
		vendorFlag string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "diff <file>",
		Short: "Dry-run an upload against a job's current snapshot",
		Long:  "Parse, key and diff a vendor file without starting a run or writing anything. Without --vendor the vendor is guessed from the header line and falls back to the job's vendor.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read upload: %w", err)
			}
			content := string(data)

			tag := strings.TrimSpace(vendorFlag)
			if tag == "" {
				if sniffed, ok := vendor.Sniff(firstLine(content)); ok {
					tag = string(sniffed)
					fmt.Fprintf(cmd.ErrOrStderr(), "Detected vendor %s\n", tag)
				}
			}

			svc, err := ctx.service(cmd)
			if err != nil {
				return err
			}
			preview, err := svc.Preview(cmd.Context(), jobID, content, tag)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(preview)
			}
			fmt.Fprint(out, renderPreview(preview))
			return nil
		},
	}

	cmd.Flags().Int64Var(&jobID, "job", 0, "Job id to diff against")
	cmd.Flags().StringVar(&vendorFlag, "vendor", "", "Vendor tag (BRT or Microsystems)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the ChangeSet as JSON")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return strings.TrimRight(line, "\r")
		}
	}
	return ""
}
