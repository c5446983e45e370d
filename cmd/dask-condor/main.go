package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/me/daskcondor/internal/cli"
	"github.com/me/daskcondor/internal/cluster"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Controllers that were never closed still own jobs in the queue.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cluster.Shutdown(ctx)
	}()

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
