package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/daskcondor/pkg/model"
)

func newStartCmd() *cobra.Command {
	var (
		req   model.StartWorkersRequest
		attrs []string
	)

	cmd := &cobra.Command{
		Use:   "start [n]",
		Short: "Start n workers (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.N = 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return model.InvalidParameter("n", "%q is not a number", args[0])
				}
				req.N = n
			}
			extra, err := parseAttrs(attrs)
			if err != nil {
				return err
			}
			req.ExtraAttribs = extra

			resp, err := client.Post(cmd.Context(), "/api/v1/workers", req)
			if err != nil {
				return fmt.Errorf("start workers: %w", err)
			}
			var records []model.JobRecord
			if err := resp.decode(&records); err != nil {
				return err
			}
			for _, rec := range records {
				printf(cmd, "%s\n", rec.ID)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&req.MemoryPerWorker, "memory", 0, "Memory per worker in MB (default: server setting)")
	f.IntVar(&req.ProcsPerWorker, "procs", 0, "Processes per worker (default: server setting)")
	f.IntVar(&req.ThreadsPerWorker, "threads", 0, "Threads per worker process (default: server setting)")
	f.IntVar(&req.WorkerTimeout, "timeout", 0, "Seconds a worker may run before it is held (default: server setting)")
	f.StringArrayVar(&attrs, "attr", nil, "Extra submit command KEY=VALUE (repeatable)")
	return cmd
}

// parseAttrs splits KEY=VALUE pairs. The value may contain '='.
func parseAttrs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, model.InvalidParameter("attr", "%q is not KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}
