package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/daskcondor/pkg/model"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/workers")
			if err != nil {
				return fmt.Errorf("list workers: %w", err)
			}
			var records []model.JobRecord
			if err := resp.decode(&records); err != nil {
				return err
			}

			if len(records) == 0 {
				printf(cmd, "No workers.\n")
				return nil
			}

			printf(cmd, "%-12s  %-10s  %8s  %4s  %s\n", "JOB", "STATUS", "MEMORY", "CPUS", "SUBMITTED")
			for _, rec := range records {
				printf(cmd, "%-12s  %-10s  %8d  %4d  %s\n",
					rec.ID, rec.Status, rec.RequestMemory, rec.RequestCpus,
					rec.SubmittedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}
