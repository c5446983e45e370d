package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/daskcondor/pkg/model"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>...",
		Short: "Remove workers by job id (cluster.proc)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if _, _, err := model.ParseJobID(id); err != nil {
					return err
				}
			}
			if _, err := client.Post(cmd.Context(), "/api/v1/workers/stop", model.StopWorkersRequest{IDs: args}); err != nil {
				return fmt.Errorf("stop workers: %w", err)
			}
			printf(cmd, "Removal requested for %d worker(s).\n", len(args))
			return nil
		},
	}
}

func newKillAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "killall",
		Short: "Remove every worker owned by the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Delete(cmd.Context(), "/api/v1/workers")
			if err != nil {
				return fmt.Errorf("killall: %w", err)
			}
			var data struct {
				Constraint string `json:"constraint"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}
			printf(cmd, "Removal requested for %s\n", data.Constraint)
			return nil
		},
	}
}
