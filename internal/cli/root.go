// Package cli implements the dask-condor command line: the serve command
// that runs a controller, and client commands that drive it over HTTP.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/daskcondor/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the control API URL, preferring DASK_CONDOR_SERVER.
func defaultServer() string {
	if s := os.Getenv("DASK_CONDOR_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8788"
}

// NewRootCmd creates the root cobra command for the dask-condor CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dask-condor",
		Short: "Run Dask workers as HTCondor jobs",
		Long: "dask-condor submits Dask workers to an HTCondor pool on behalf of a Dask scheduler,\n" +
			"tracks them while they are queued or running, and removes them on shutdown.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			if err := logging.CheckFormat(flagLogFormat); err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(level, flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Control API URL (or DASK_CONDOR_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newKillAllCmd(),
		newListCmd(),
		newStatusCmd(),
	)

	return root
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
