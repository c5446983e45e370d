package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/daskcondor/internal/reconcile"
	"github.com/me/daskcondor/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the scheduler and controller state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/scheduler")
			if err != nil {
				return fmt.Errorf("get scheduler: %w", err)
			}
			var info model.SchedulerInfo
			if err := resp.decode(&info); err != nil {
				return err
			}

			resp, err = client.Get(cmd.Context(), "/api/v1/health")
			if err != nil {
				return fmt.Errorf("get health: %w", err)
			}
			var health struct {
				Status     string          `json:"status"`
				Uptime     string          `json:"uptime"`
				Workers    int             `json:"workers"`
				Reconciler reconcile.Stats `json:"reconciler"`
			}
			if err := resp.decode(&health); err != nil {
				return err
			}

			printf(cmd, "Scheduler:   %s\n", info.ID)
			printf(cmd, "Address:     %s\n", info.Address)
			printf(cmd, "Constraint:  %s\n", info.Constraint)
			printf(cmd, "Controller:  %s (up %s)\n", health.Status, health.Uptime)
			printf(cmd, "Workers:     %d\n", health.Workers)
			printf(cmd, "Reconciler:  %d ticks, %d failures, %d pruned\n",
				health.Reconciler.Ticks, health.Reconciler.Failures, health.Reconciler.Pruned)
			if health.Reconciler.LastError != "" {
				printf(cmd, "Last error:  %s\n", health.Reconciler.LastError)
			}
			return nil
		},
	}
}
